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

// Package leaderelect decides which NAPI-core replica runs the migrator
// at boot (spec §4.8 requires migrations run exactly once), using a
// memberlist gossip cluster and a deterministic hash-sort winner pick —
// the same mechanism purelb uses to decide which node announces a given
// Service, aimed here at a migration epoch instead of a service key.
package leaderelect

import (
	"bytes"
	"crypto/sha256"
	"log"
	"sort"
	"time"

	gokitlog "github.com/go-kit/kit/log"
	"github.com/hashicorp/memberlist"
)

// Config provides the configuration data New() needs.
type Config struct {
	NodeName string
	BindAddr string
	BindPort int
	Secret   []byte
	Logger   gokitlog.Logger
}

// Election joins a memberlist cluster and answers "who runs this epoch".
type Election struct {
	Memberlist *memberlist.Memberlist
	logger     gokitlog.Logger
	eventCh    chan memberlist.NodeEvent
	stopCh     chan struct{}
}

// New creates a memberlist node but does not join a cluster yet.
func New(cfg Config) (*Election, error) {
	e := &Election{logger: cfg.Logger, stopCh: make(chan struct{})}

	mconfig := memberlist.DefaultLANConfig()
	mconfig.Name = cfg.NodeName
	mconfig.BindAddr = cfg.BindAddr
	mconfig.BindPort = cfg.BindPort
	mconfig.AdvertisePort = cfg.BindPort
	mconfig.SecretKey = cfg.Secret

	loggerOut := gokitlog.NewStdlibAdapter(gokitlog.With(cfg.Logger, "component", "memberlist"))
	mconfig.Logger = log.New(loggerOut, "", log.Lshortfile)

	eventCh := make(chan memberlist.NodeEvent, 16)
	mconfig.Events = &memberlist.ChannelEventDelegate{Ch: eventCh}
	e.eventCh = eventCh

	ml, err := memberlist.Create(mconfig)
	if err != nil {
		return nil, err
	}
	e.Memberlist = ml
	go e.watchEvents()
	return e, nil
}

// Join contacts seeds and merges this node into their cluster.
func (e *Election) Join(seeds []string) (int, error) {
	n, err := e.Memberlist.Join(seeds)
	e.logger.Log("op", "join", "contacted", n, "error", err)
	return n, err
}

// Shutdown leaves the cluster cleanly.
func (e *Election) Shutdown() error {
	close(e.stopCh)
	err := e.Memberlist.Leave(1 * time.Second)
	e.Memberlist.Shutdown()
	e.logger.Log("op", "shutdown", "error", err)
	return err
}

// IsLeader reports whether this node won the election for epoch.
func (e *Election) IsLeader(epoch string) bool {
	return e.Winner(epoch) == e.Memberlist.LocalNode().Name
}

// Winner returns the node name that should run epoch (e.g. a bucket's
// target migration_version), deterministically across every node that
// sees the same membership list.
func (e *Election) Winner(epoch string) string {
	var names []string
	for _, m := range e.Memberlist.Members() {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		return e.Memberlist.LocalNode().Name
	}
	return rank(epoch, names)[0]
}

// rank orders candidates by the hash of name+"#"+key, the same
// tie-breaking purelb uses to pick a Service announcer.
func rank(key string, candidates []string) []string {
	out := make([]string, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool {
		hi := sha256.Sum256([]byte(out[i] + "#" + key))
		hj := sha256.Sum256([]byte(out[j] + "#" + key))
		return bytes.Compare(hi[:], hj[:]) < 0
	})
	return out
}

func eventName(e memberlist.NodeEventType) string {
	return [...]string{"join", "leave", "update"}[e]
}

func (e *Election) watchEvents() {
	for {
		select {
		case ev := <-e.eventCh:
			e.logger.Log("msg", "membership change", "node", ev.Node.Name, "event", eventName(ev.Event))
		case <-e.stopCh:
			return
		}
	}
}
