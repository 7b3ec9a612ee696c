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

// Command napi-core boots the provisioning engine: it loads the core's
// own configuration, wires the reference store up to the full set of
// model engines, runs the bucket migrator once a leader is decided, and
// serves Prometheus metrics. The HTTP/CLI surface spec.md §1 puts out of
// scope is expected to embed this process's engines directly rather than
// shell out to it; this binary's job is to prove the wiring compiles and
// boots end to end, the way purelb's cmd/allocator proves its own
// Controller/Pool wiring.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	gokitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"

	"vnapi.io/internal/bootstrap"
	"vnapi.io/internal/config"
	"vnapi.io/internal/engine"
	"vnapi.io/internal/leaderelect"
	"vnapi.io/internal/logging"
	"vnapi.io/internal/macmath"
	"vnapi.io/internal/metrics"
	"vnapi.io/internal/store"
)

func main() {
	logger := logging.Init()

	var (
		configPath = flag.String("config", "/etc/napi-core/config.yaml", "path to the core's YAML config file")
		port       = flag.Int("port", 7474, "HTTP listening port for Prometheus metrics")
	)
	flag.Parse()

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to read config file")
		os.Exit(1)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to parse config")
		os.Exit(1)
	}

	st := store.NewMemStore()

	oui, err := macmath.ParseOUI(cfg.OUIPrefix)
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "invalid oui_prefix")
		os.Exit(1)
	}

	networks := &engine.NetworkEngine{Store: st}
	pools := &engine.PoolEngine{Store: st, Networks: networks}
	engines := coreEngines{
		Networks: networks,
		Pools:    pools,
		NICs: &engine.NICEngine{
			Store: st, Networks: networks, Pools: pools, Config: cfg, OUI: oui, AdminUUID: cfg.AdminUUID,
		},
		NicTags:      &engine.NicTagEngine{Store: st},
		Aggregations: &engine.AggregationEngine{Store: st},
		Fabrics:      &engine.FabricEngine{Store: st},
	}

	election, err := electIfConfigured(cfg, logger)
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to join election cluster")
		os.Exit(1)
	}
	if election == nil || election.IsLeader("boot") {
		if err := bootstrap.Run(st); err != nil {
			logger.Log("op", "migrate", "error", err, "msg", "boot migration failed")
			os.Exit(1)
		}
		logger.Log("op", "migrate", "msg", "buckets migrated")
	}

	go func() {
		if err := metrics.Run("", *port); err != nil {
			logger.Log("op", "metrics", "error", err, "msg", "metrics server exited")
		}
	}()

	logger.Log("op", "startup", "admin_uuid", engines.NICs.AdminUUID, "msg", "napi-core ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if election != nil {
		election.Shutdown()
	}
}

// coreEngines bundles every model engine the (out-of-scope) HTTP/CLI
// surface would dispatch requests into.
type coreEngines struct {
	Networks     *engine.NetworkEngine
	Pools        *engine.PoolEngine
	NICs         *engine.NICEngine
	NicTags      *engine.NicTagEngine
	Aggregations *engine.AggregationEngine
	Fabrics      *engine.FabricEngine
}

func electIfConfigured(cfg *config.Config, logger gokitlog.Logger) (*leaderelect.Election, error) {
	if cfg.Memberlist.BindAddr == "" {
		return nil, nil
	}
	nodeName := cfg.Memberlist.NodeName
	if nodeName == "" {
		nodeName = uuid.NewString()
	}
	e, err := leaderelect.New(leaderelect.Config{
		NodeName: nodeName, BindAddr: cfg.Memberlist.BindAddr, BindPort: cfg.Memberlist.BindPort,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if len(cfg.Memberlist.Seeds) > 0 {
		if _, err := e.Join(cfg.Memberlist.Seeds); err != nil {
			return nil, err
		}
	}
	return e, nil
}
