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

import "strconv"

// VPC is a per-owner sub-record of a Fabric, keyed by vpc_uuid, that
// supplements spec.md §3's "optionally extended to multiple per-owner
// records" language.
type VPC struct {
	VPCUUID string
	IP4CIDR string
	Quota   int
}

// Fabric is the per-owner record holding a tenant's 24-bit vnet_id.
type Fabric struct {
	OwnerUUID string
	VnetID    int
	VPCs      []VPC
}

// ToValue renders f as a store document.
func (f Fabric) ToValue() map[string]interface{} {
	vpcs := make([]interface{}, len(f.VPCs))
	for i, vp := range f.VPCs {
		vpcs[i] = map[string]interface{}{
			"vpc_uuid": vp.VPCUUID, "ip4_cidr": vp.IP4CIDR, "quota": float64(vp.Quota),
		}
	}
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"owner_uuid": f.OwnerUUID, "vnet_id": float64(f.VnetID), "vpcs": vpcs,
	}
}

// FabricFromValue reconstructs a Fabric from a stored document.
func FabricFromValue(v map[string]interface{}) Fabric {
	f := Fabric{OwnerUUID: str(v, "owner_uuid"), VnetID: int(num(v, "vnet_id"))}
	raw, _ := v["vpcs"].([]interface{})
	for _, x := range raw {
		m, ok := x.(map[string]interface{})
		if !ok {
			continue
		}
		f.VPCs = append(f.VPCs, VPC{
			VPCUUID: str(m, "vpc_uuid"), IP4CIDR: str(m, "ip4_cidr"), Quota: int(num(m, "quota")),
		})
	}
	return f
}

// FabricVLAN maps a (owner_uuid or vpc_uuid, vlan_id) pair to a name and
// vnet_id, unique under its owner/vpc scope (spec.md §3).
type FabricVLAN struct {
	ScopeUUID string // owner_uuid or vpc_uuid
	VlanID    int
	Name      string
	VnetID    int
}

// Key is the record key: unique under ScopeUUID.
func (f FabricVLAN) Key() string {
	return f.ScopeUUID + "/" + strconv.Itoa(f.VlanID)
}

// ToValue renders f as a store document.
func (f FabricVLAN) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"scope_uuid": f.ScopeUUID, "vlan_id": float64(f.VlanID),
		"name": f.Name, "vnet_id": float64(f.VnetID),
	}
}

// FabricVLANFromValue reconstructs a FabricVLAN from a stored document.
func FabricVLANFromValue(v map[string]interface{}) FabricVLAN {
	return FabricVLAN{
		ScopeUUID: str(v, "scope_uuid"), VlanID: int(num(v, "vlan_id")),
		Name: str(v, "name"), VnetID: int(num(v, "vnet_id")),
	}
}
