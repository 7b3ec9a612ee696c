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
	"vnapi.io/internal/macmath"
)

// NICState is the lifecycle state of a NIC record.
type NICState string

const (
	NICProvisioning NICState = "provisioning"
	NICStopped      NICState = "stopped"
	NICRunning      NICState = "running"
)

// Capabilities are the per-NIC security/filtering flags spec.md §3 names.
type Capabilities struct {
	AllowIPSpoofing        bool
	AllowMACSpoofing       bool
	AllowDHCPSpoofing      bool
	AllowRestrictedTraffic bool
	AllowUnfilteredPromisc bool
	Underlay               bool
}

// NIC is the MAC-keyed global NIC record.
type NIC struct {
	MAC             uint64
	OwnerUUID       string
	BelongsToUUID   string
	BelongsToType   BelongsToType
	State           NICState
	Primary         bool
	NetworkUUID     string // "" if none
	Address         net.IP // denormalized, nil if no IP
	Capabilities    Capabilities
	Model           string
	CNUUID          string // compute node hosting a fabric VNIC
	NicTagsProvided []string
}

// Key is the record key this NIC is stored under: the MAC in colon
// notation (macmath.Format), not its numeric value.
func (n NIC) Key() string {
	return macmath.Format(n.MAC)
}

// IsFabricVNIC reports whether n is a zone-type NIC with a CN assignment.
// It does not look at n's network, so it does not check that the network
// is a fabric network.
func (n NIC) IsFabricVNIC() bool {
	return n.BelongsToType == BelongsToZone && n.CNUUID != ""
}

// ToValue renders n as a store document.
func (n NIC) ToValue() map[string]interface{} {
	v := map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"mac": n.Key(), "owner_uuid": n.OwnerUUID,
		"belongs_to_uuid": n.BelongsToUUID, "belongs_to_type": string(n.BelongsToType),
		"state": string(n.State), "primary": n.Primary,
		"allow_ip_spoofing":        n.Capabilities.AllowIPSpoofing,
		"allow_mac_spoofing":       n.Capabilities.AllowMACSpoofing,
		"allow_dhcp_spoofing":      n.Capabilities.AllowDHCPSpoofing,
		"allow_restricted_traffic": n.Capabilities.AllowRestrictedTraffic,
		"allow_unfiltered_promisc": n.Capabilities.AllowUnfilteredPromisc,
		"underlay":                 n.Capabilities.Underlay,
	}
	if n.NetworkUUID != "" {
		v["network_uuid"] = n.NetworkUUID
	}
	if n.Address != nil {
		v["address"] = ipmath.Format(n.Address)
	}
	if n.Model != "" {
		v["model"] = n.Model
	}
	if n.CNUUID != "" {
		v["cn_uuid"] = n.CNUUID
	}
	if len(n.NicTagsProvided) > 0 {
		v["nic_tags_provided"] = strSliceToInterface(n.NicTagsProvided)
	}
	return v
}

// NICFromValue reconstructs a NIC from a stored document.
func NICFromValue(v map[string]interface{}) (NIC, error) {
	mac, err := macmath.Parse(str(v, "mac"))
	if err != nil {
		return NIC{}, err
	}
	n := NIC{
		MAC: mac, OwnerUUID: str(v, "owner_uuid"),
		BelongsToUUID: str(v, "belongs_to_uuid"),
		BelongsToType: BelongsToType(str(v, "belongs_to_type")),
		State:         NICState(str(v, "state")), Primary: boolean(v, "primary"),
		NetworkUUID: str(v, "network_uuid"), Model: str(v, "model"),
		CNUUID: str(v, "cn_uuid"), NicTagsProvided: strSlice(v, "nic_tags_provided"),
		Capabilities: Capabilities{
			AllowIPSpoofing:        boolean(v, "allow_ip_spoofing"),
			AllowMACSpoofing:       boolean(v, "allow_mac_spoofing"),
			AllowDHCPSpoofing:      boolean(v, "allow_dhcp_spoofing"),
			AllowRestrictedTraffic: boolean(v, "allow_restricted_traffic"),
			AllowUnfilteredPromisc: boolean(v, "allow_unfiltered_promisc"),
			Underlay:               boolean(v, "underlay"),
		},
	}
	if addr := str(v, "address"); addr != "" {
		n.Address, _ = ipmath.ParseIP(addr)
	}
	return n, nil
}
