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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`admin_uuid: 00000000-0000-0000-0000-000000000000`))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MacRetries)
	assert.Equal(t, 100, cfg.NicProvisionRetries)
	assert.Equal(t, 100, cfg.GapSearchScanLimit)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", cfg.AdminUUID)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
mac_retries: 10
nic_provision_retries: 20
list_default_limit: 50
list_hard_cap: 200
memberlist:
  node_name: node-a
  bind_port: 7946
  seeds: ["10.0.0.1:7946"]
`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MacRetries)
	assert.Equal(t, 20, cfg.NicProvisionRetries)
	assert.Equal(t, 50, cfg.ListDefaultLimit)
	assert.Equal(t, 200, cfg.ListHardCap)
	assert.Equal(t, "node-a", cfg.Memberlist.NodeName)
	assert.Equal(t, []string{"10.0.0.1:7946"}, cfg.Memberlist.Seeds)
}

func TestParseRejectsInvalidRetryBudget(t *testing.T) {
	_, err := Parse([]byte(`mac_retries: 0`))
	require.Error(t, err)
}

func TestParseRejectsInconsistentListBounds(t *testing.T) {
	_, err := Parse([]byte(`
list_default_limit: 500
list_hard_cap: 10
`))
	require.Error(t, err)
}
