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

// Package model declares the record types spec.md §3 names — NicTag,
// Network, NetworkPool, Fabric, FabricVLAN, IP, NIC, Aggregation and the
// overlay mapping records — together with their store.Record conversion,
// the way purelb's pkg/apis/v1 declares ServiceGroup/LBNodeAgent as
// independent top-level structs rather than a nested object graph.
package model

const schemaVersion = 1

// NicTag names an MTU. Networks and NICs reference it by name.
type NicTag struct {
	Name string
	MTU  int
}

// ToValue renders t as a store document.
func (t NicTag) ToValue() map[string]interface{} {
	return map[string]interface{}{
		"v": float64(schemaVersion), "schema_version": float64(schemaVersion),
		"name": t.Name, "mtu": float64(t.MTU),
	}
}

// NicTagFromValue reconstructs a NicTag from a stored document.
func NicTagFromValue(v map[string]interface{}) NicTag {
	return NicTag{Name: str(v, "name"), MTU: int(num(v, "mtu"))}
}

func str(v map[string]interface{}, key string) string {
	s, _ := v[key].(string)
	return s
}

func num(v map[string]interface{}, key string) float64 {
	switch n := v[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func boolean(v map[string]interface{}, key string) bool {
	b, _ := v[key].(bool)
	return b
}

func strSlice(v map[string]interface{}, key string) []string {
	raw, ok := v[key].([]interface{})
	if !ok {
		if direct, ok := v[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strSliceToInterface(ss []string) []interface{} {
	if ss == nil {
		return nil
	}
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
