// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
//
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

// Package config provides code for parsing and validating the
// provisioning core's own tunables (spec §9's retry budgets, §6's
// bucket-naming toggle, §4.3's scan page size).
package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Config is a parsed and validated NAPI-core configuration.
type Config struct {
	// MacRetries bounds how many candidate MACs the engine tries before
	// giving up a single provisioning attempt (spec §4.4, default 50).
	MacRetries int `yaml:"mac_retries"`
	// NicProvisionRetries bounds the overall number of provisioning
	// attempts for one NIC (spec §4.4, default 100).
	NicProvisionRetries int `yaml:"nic_provision_retries"`
	// GapSearchScanLimit is the page size of the §4.3 step-3 fallback
	// scan for released-but-recorded addresses.
	GapSearchScanLimit int `yaml:"gap_search_scan_limit"`
	// ListDefaultLimit/ListHardCap are parsed, defaulted and checked
	// against each other here; no component reads them, so List calls are
	// not bounded by them.
	ListDefaultLimit int `yaml:"list_default_limit"`
	ListHardCap      int `yaml:"list_hard_cap"`
	// AdminUUID identifies the tenant allowed to bypass owner checks.
	AdminUUID string `yaml:"admin_uuid"`
	// OUIPrefix scopes random MAC generation (spec §4.4).
	OUIPrefix string `yaml:"oui_prefix"`
	// ResolversMax is parsed and defaulted (4) here; no component reads
	// it, so the number of resolvers a network declares is not bounded.
	ResolversMax int `yaml:"resolvers_max"`
	// TestBucketPrefix is parsed here; no component reads it, so no
	// bucket name is prefixed with it.
	TestBucketPrefix string `yaml:"test_bucket_prefix"`

	// MigrationBatchSize is parsed and defaulted (100) here; no component
	// reads it, so it does not set the migrator's batch size.
	MigrationBatchSize int `yaml:"migration_batch_size"`

	// Memberlist binds the leader-election gossip cluster (spec §4.8's
	// "exactly once" requirement across replicas).
	Memberlist MemberlistConfig `yaml:"memberlist"`
}

// MemberlistConfig configures the leaderelect gossip cluster.
type MemberlistConfig struct {
	NodeName string   `yaml:"node_name"`
	BindAddr string   `yaml:"bind_addr"`
	BindPort int      `yaml:"bind_port"`
	Seeds    []string `yaml:"seeds"`
}

// defaults matches the numeric defaults spec.md §4.4/§4.8 name.
func defaults() Config {
	return Config{
		MacRetries:          50,
		NicProvisionRetries: 100,
		GapSearchScanLimit:  100,
		ListDefaultLimit:    100,
		ListHardCap:         1000,
		ResolversMax:        4,
		MigrationBatchSize:  100,
	}
}

// Parse decodes and validates raw YAML configuration, filling in
// spec-mandated defaults for anything the caller left zero.
func Parse(raw []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MacRetries <= 0 {
		return fmt.Errorf("mac_retries must be positive")
	}
	if cfg.NicProvisionRetries <= 0 {
		return fmt.Errorf("nic_provision_retries must be positive")
	}
	if cfg.GapSearchScanLimit <= 0 {
		return fmt.Errorf("gap_search_scan_limit must be positive")
	}
	if cfg.ListHardCap < cfg.ListDefaultLimit {
		return fmt.Errorf("list_hard_cap (%d) must be >= list_default_limit (%d)", cfg.ListHardCap, cfg.ListDefaultLimit)
	}
	return nil
}
