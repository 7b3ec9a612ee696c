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

// Package bootstrap declares the bucket/migration specs shared by
// napi-core (runs them at boot before a leader starts serving) and
// napi-migrate (runs them as a standalone one-shot against an already
// running store).
package bootstrap

import (
	"vnapi.io/internal/migrate"
	"vnapi.io/internal/store"
)

func passthrough(old map[string]interface{}) (map[string]interface{}, error) {
	return old, nil
}

// CoreBucketSpecs returns the migrate.BucketSpec for every bucket the
// core's model engines depend on (spec §6's fixed bucket names). Every
// model is currently at schema version 1, so each Rebuild is presently
// a no-op round trip; a v1->v2 field rename would replace the relevant
// entry's Rebuild with the new model's FromValue/ToValue pair.
func CoreBucketSpecs() []migrate.BucketSpec {
	return []migrate.BucketSpec{
		{Def: store.BucketDef{Name: store.BucketNICTags, Version: 1, Indexed: []string{"name", "schema_version"}}, Rebuild: passthrough},
		{Def: store.BucketDef{Name: store.BucketNetworks, Version: 1, Indexed: []string{"uuid", "nic_tag", "vlan_id", "vnet_id", "fabric", "schema_version"}}, Rebuild: passthrough},
		{Def: store.BucketDef{Name: store.BucketNetworkPools, Version: 1, Indexed: []string{"uuid", "nic_tag", "schema_version"}}, Rebuild: passthrough},
		{Def: store.BucketDef{Name: store.BucketNICs, Version: 1, Indexed: []string{"belongs_to_uuid", "mac", "network_uuid", "schema_version"}}, Rebuild: passthrough},
		{Def: store.BucketDef{Name: store.BucketAggregations, Version: 1, Indexed: []string{"belongs_to_uuid", "schema_version"}}, Rebuild: passthrough},
		{Def: store.BucketDef{Name: store.BucketFabrics, Version: 1, Indexed: []string{"owner_uuid", "vnet_id", "schema_version"}}, Rebuild: passthrough},
		{Def: store.BucketDef{Name: store.BucketFabricVLANs, Version: 1, Indexed: []string{"scope_uuid", "vlan_id", "schema_version"}}, Rebuild: passthrough},
	}
}

// Run migrates every core bucket in st to its current schema version.
func Run(st store.Store) error {
	m := migrate.New(st)
	for _, spec := range CoreBucketSpecs() {
		if err := m.Run(spec); err != nil {
			return err
		}
	}
	return nil
}
