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

// NetworkPool is an ordered set of networks sharing a nic tag (spec §4.6).
type NetworkPool struct {
	UUID       string
	Name       string
	NicTag     string
	Networks   []string // ordered network UUIDs
	OwnerUUIDs []string

	// Quota mirrors a Fabric VPC's quota counter (spec §9 open question);
	// this engine tracks but never enforces it.
	Quota int
}

// ToValue renders p as a store document.
func (p NetworkPool) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"uuid": p.UUID, "name": p.Name, "nic_tag": p.NicTag,
		"networks":    strSliceToInterface(p.Networks),
		"owner_uuids": strSliceToInterface(p.OwnerUUIDs),
		"quota":       float64(p.Quota),
	}
}

// NetworkPoolFromValue reconstructs a NetworkPool from a stored document.
func NetworkPoolFromValue(v map[string]interface{}) NetworkPool {
	return NetworkPool{
		UUID: str(v, "uuid"), Name: str(v, "name"), NicTag: str(v, "nic_tag"),
		Networks: strSlice(v, "networks"), OwnerUUIDs: strSlice(v, "owner_uuids"),
		Quota: int(num(v, "quota")),
	}
}
