// Copyright 2020 Acnodal Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"net"

	"vnapi.io/internal/ipmath"
)

// Network is a logical L3 network: subnet, provision range, and the
// optional fabric/owner attributes spec.md §3 describes.
type Network struct {
	UUID           string
	Name           string
	NicTag         string
	VlanID         int
	Subnet         ipmath.Subnet
	ProvisionStart net.IP
	ProvisionEnd   net.IP
	Gateway        net.IP // nil if none
	Resolvers      []net.IP
	Routes         map[string]string // destination -> gateway
	OwnerUUIDs     []string          // nil/empty means unrestricted
	Fabric         bool
	VnetID         int // only meaningful if Fabric
	InternetNAT    bool
	MTU            int
	Family         ipmath.Family

	// GatewayProvisioned is set by the engine once a fabric network's
	// gateway address has actually been handed to a NIC (spec §4.4f).
	GatewayProvisioned bool
}

// IPBucket is the name of this network's per-network IP bucket.
func (n Network) IPBucket() string {
	return "napi_ips_" + dashesToUnderscores(n.UUID)
}

func dashesToUnderscores(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

// OwnerAllowed reports whether owner may consume an address on n,
// honoring the admin bypass and an explicit checkOwner=false override
// (spec §4.3 step 1).
func (n Network) OwnerAllowed(owner, adminUUID string, checkOwner bool) bool {
	if len(n.OwnerUUIDs) == 0 || !checkOwner || owner == adminUUID {
		return true
	}
	for _, o := range n.OwnerUUIDs {
		if o == owner {
			return true
		}
	}
	return false
}

// ToValue renders n as a store document.
func (n Network) ToValue() map[string]interface{} {
	v := map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"uuid": n.UUID, "name": n.Name, "nic_tag": n.NicTag,
		"vlan_id":             float64(n.VlanID),
		"subnet":              n.Subnet.Net.String(),
		"family":              n.Family.String(),
		"provision_start":     ipmath.Format(n.ProvisionStart),
		"provision_end":       ipmath.Format(n.ProvisionEnd),
		"routes":              n.Routes,
		"owner_uuids":         strSliceToInterface(n.OwnerUUIDs),
		"fabric":              n.Fabric,
		"vnet_id":             float64(n.VnetID),
		"internet_nat":        n.InternetNAT,
		"mtu":                 float64(n.MTU),
		"gateway_provisioned": n.GatewayProvisioned,
	}
	if n.Gateway != nil {
		v["gateway"] = ipmath.Format(n.Gateway)
	}
	if len(n.Resolvers) > 0 {
		rs := make([]interface{}, len(n.Resolvers))
		for i, r := range n.Resolvers {
			rs[i] = ipmath.Format(r)
		}
		v["resolvers"] = rs
	}
	return v
}

// NetworkFromValue reconstructs a Network from a stored document.
func NetworkFromValue(v map[string]interface{}) (Network, error) {
	subnet, err := ipmath.ParseSubnet(str(v, "subnet"))
	if err != nil {
		return Network{}, err
	}
	start, err := ipmath.ParseIP(str(v, "provision_start"))
	if err != nil {
		return Network{}, err
	}
	end, err := ipmath.ParseIP(str(v, "provision_end"))
	if err != nil {
		return Network{}, err
	}
	n := Network{
		UUID: str(v, "uuid"), Name: str(v, "name"), NicTag: str(v, "nic_tag"),
		VlanID: int(num(v, "vlan_id")), Subnet: subnet,
		ProvisionStart: start, ProvisionEnd: end,
		OwnerUUIDs: strSlice(v, "owner_uuids"), Fabric: boolean(v, "fabric"),
		VnetID: int(num(v, "vnet_id")), InternetNAT: boolean(v, "internet_nat"),
		MTU: int(num(v, "mtu")), Family: subnet.Family,
		GatewayProvisioned: boolean(v, "gateway_provisioned"),
	}
	if gw := str(v, "gateway"); gw != "" {
		n.Gateway, _ = ipmath.ParseIP(gw)
	}
	for _, r := range strSlice(v, "resolvers") {
		if ip, err := ipmath.ParseIP(r); err == nil {
			n.Resolvers = append(n.Resolvers, ip)
		}
	}
	if routes, ok := v["routes"].(map[string]interface{}); ok {
		n.Routes = map[string]string{}
		for k, val := range routes {
			if s, ok := val.(string); ok {
				n.Routes[k] = s
			}
		}
	} else if routes, ok := v["routes"].(map[string]string); ok {
		n.Routes = routes
	}
	return n, nil
}
