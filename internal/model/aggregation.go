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

// LACPMode is an Aggregation's link-aggregation negotiation mode.
type LACPMode string

const (
	LACPOff     LACPMode = "off"
	LACPActive  LACPMode = "active"
	LACPPassive LACPMode = "passive"
)

// Aggregation is a server-side LACP bundle of NIC MACs (spec.md §3).
type Aggregation struct {
	BelongsToUUID   string
	Name            string
	MACs            []string // colon-notation MAC keys (NIC.Key), all belongs_to_type=server
	LACPMode        LACPMode
	NicTagsProvided []string
}

// ID is the record key: belongs_to_uuid + "-" + name.
func (a Aggregation) ID() string {
	return a.BelongsToUUID + "-" + a.Name
}

// ToValue renders a as a store document.
func (a Aggregation) ToValue() map[string]interface{} {
	v := map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"belongs_to_uuid": a.BelongsToUUID, "name": a.Name,
		"macs": strSliceToInterface(a.MACs), "lacp_mode": string(a.LACPMode),
	}
	if len(a.NicTagsProvided) > 0 {
		v["nic_tags_provided"] = strSliceToInterface(a.NicTagsProvided)
	}
	return v
}

// AggregationFromValue reconstructs an Aggregation from a stored document.
func AggregationFromValue(v map[string]interface{}) Aggregation {
	return Aggregation{
		BelongsToUUID: str(v, "belongs_to_uuid"), Name: str(v, "name"),
		MACs: strSlice(v, "macs"), LACPMode: LACPMode(str(v, "lacp_mode")),
		NicTagsProvided: strSlice(v, "nic_tags_provided"),
	}
}
