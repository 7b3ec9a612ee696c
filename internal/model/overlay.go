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

// Overlay bucket names (spec.md §6: "overlay buckets as defined by the
// external mapping library" — these are this implementation's choice).
const (
	BucketVL2       = "napi_overlay_vl2"
	BucketVL3       = "napi_overlay_vl3"
	BucketUnderlay  = "napi_overlay_underlay"
	BucketShootdown = "napi_overlay_shootdown"
)

// VL2Mapping binds a fabric MAC to the compute node hosting it, keyed
// by {vnet_id, mac} (spec.md §3/§4.9).
type VL2Mapping struct {
	VnetID int
	MAC    string
	CNUUID string
}

// Key is this record's store key.
func (m VL2Mapping) Key() string {
	return strconv.Itoa(m.VnetID) + "/" + m.MAC
}

// ToValue renders m as a store document.
func (m VL2Mapping) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"vnet_id": float64(m.VnetID), "mac": m.MAC, "cn_uuid": m.CNUUID,
	}
}

// VL2MappingFromValue reconstructs a VL2Mapping from a stored document.
func VL2MappingFromValue(v map[string]interface{}) VL2Mapping {
	return VL2Mapping{VnetID: int(num(v, "vnet_id")), MAC: str(v, "mac"), CNUUID: str(v, "cn_uuid")}
}

// VL3Mapping binds a fabric IP to its owning MAC and hosting compute
// node, keyed by {vnet_id, address}.
type VL3Mapping struct {
	VnetID  int
	Address string
	MAC     string
	CNUUID  string
}

// Key is this record's store key.
func (m VL3Mapping) Key() string {
	return strconv.Itoa(m.VnetID) + "/" + m.Address
}

// ToValue renders m as a store document.
func (m VL3Mapping) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"vnet_id": float64(m.VnetID), "address": m.Address, "mac": m.MAC, "cn_uuid": m.CNUUID,
	}
}

// VL3MappingFromValue reconstructs a VL3Mapping from a stored document.
func VL3MappingFromValue(v map[string]interface{}) VL3Mapping {
	return VL3Mapping{
		VnetID: int(num(v, "vnet_id")), Address: str(v, "address"),
		MAC: str(v, "mac"), CNUUID: str(v, "cn_uuid"),
	}
}

// UnderlayMapping is an entry in the underlay table, keyed by cn_uuid.
type UnderlayMapping struct {
	CNUUID string
	MAC    string
}

// ToValue renders m as a store document.
func (m UnderlayMapping) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"cn_uuid": m.CNUUID, "mac": m.MAC,
	}
}

// UnderlayMappingFromValue reconstructs an UnderlayMapping from a stored
// document.
func UnderlayMappingFromValue(v map[string]interface{}) UnderlayMapping {
	return UnderlayMapping{CNUUID: str(v, "cn_uuid"), MAC: str(v, "mac")}
}

// ShootdownKind enumerates the overlay mapping events a shootdown log
// entry records (spec.md §4.9).
type ShootdownKind string

const (
	ShootdownRouteUpdate ShootdownKind = "route_update"
	ShootdownInvalidate  ShootdownKind = "invalidate"
)

// ShootdownEvent is an append-only advisory entry instructing mapping
// consumers to invalidate cached translations. Entries are never
// updated; a separate compaction consumer removes acknowledged ones.
type ShootdownEvent struct {
	VnetID  int
	Kind    ShootdownKind
	MAC     string
	Address string // "" for a pure MAC-level event
	CNUUID  string // target CN this event is addressed to
}

// ToValue renders e as a store document.
func (e ShootdownEvent) ToValue() map[string]interface{} {
	v := map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"vnet_id": float64(e.VnetID), "kind": string(e.Kind),
		"mac": e.MAC, "cn_uuid": e.CNUUID,
	}
	if e.Address != "" {
		v["address"] = e.Address
	}
	return v
}
