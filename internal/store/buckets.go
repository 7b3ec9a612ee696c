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

package store

import "strings"

// Bucket names the external store is partitioned into (spec §6).
// IPBucketName builds a per-network IP bucket name; it does not create
// the bucket.
const (
	BucketNICs         = "napi_nics"
	BucketNetworks     = "napi_networks"
	BucketNetworkPools = "napi_network_pools"
	BucketNICTags      = "napi_nic_tags"
	BucketAggregations = "napi_aggregations"
	BucketFabrics      = "napi_fabrics"
	BucketFabricVLANs  = "napi_fabric_vlans"
)

// testBucketPrefix is prepended to every bucket name a test harness
// initializes, keeping test fixtures from colliding with a shared store.
const testBucketPrefix = "test_"

// IPBucketName returns the per-network IP bucket name for networkUUID,
// replacing dashes with underscores so the name is a valid bucket
// identifier in every backing store the core might run against.
func IPBucketName(networkUUID string) string {
	return "napi_ips_" + strings.ReplaceAll(networkUUID, "-", "_")
}

// TestBucketName prefixes name for use in an isolated test store.
func TestBucketName(name string) string {
	return testBucketPrefix + name
}
