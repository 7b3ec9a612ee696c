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

// BelongsToType enumerates who an IP or NIC belongs to.
type BelongsToType string

const (
	BelongsToServer BelongsToType = "server"
	BelongsToZone   BelongsToType = "zone"
	BelongsToOther  BelongsToType = "other"
)

// IP is a per-network address record, keyed by the address itself in
// its network's IP bucket (spec.md §3).
type IP struct {
	Address       net.IP
	Reserved      bool
	BelongsToUUID string
	BelongsToType BelongsToType
	OwnerUUID     string
}

// Assigned reports whether the triplet is fully present (spec.md §3).
func (ip IP) Assigned() bool {
	return ip.BelongsToUUID != "" && ip.BelongsToType != "" && ip.OwnerUUID != ""
}

// Free reports whether ip carries no triplet and is not reserved,
// i.e. it is available for the §4.3 step-3 fallback scan.
func (ip IP) Free() bool {
	return !ip.Assigned() && !ip.Reserved
}

// Key is the record key this IP is stored under.
func (ip IP) Key() string {
	return ipmath.Format(ip.Address)
}

// ToValue renders ip as a store document.
func (ip IP) ToValue() map[string]interface{} {
	v := map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"address": ipmath.Format(ip.Address), "reserved": ip.Reserved,
	}
	if ip.Assigned() {
		v["belongs_to_uuid"] = ip.BelongsToUUID
		v["belongs_to_type"] = string(ip.BelongsToType)
		v["owner_uuid"] = ip.OwnerUUID
	}
	return v
}

// IPFromValue reconstructs an IP from a stored document.
func IPFromValue(v map[string]interface{}) (IP, error) {
	addr, err := ipmath.ParseIP(str(v, "address"))
	if err != nil {
		return IP{}, err
	}
	return IP{
		Address: addr, Reserved: boolean(v, "reserved"),
		BelongsToUUID: str(v, "belongs_to_uuid"),
		BelongsToType: BelongsToType(str(v, "belongs_to_type")),
		OwnerUUID:     str(v, "owner_uuid"),
	}, nil
}

// Unassigned returns a copy of ip with its triplet cleared but its
// reserved flag kept, the way the engine "frees" an address (spec
// §4.4d) while preserving a reservation.
func (ip IP) Unassigned() IP {
	return IP{Address: ip.Address, Reserved: ip.Reserved}
}
