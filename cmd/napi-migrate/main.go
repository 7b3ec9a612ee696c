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

// Command napi-migrate runs the bucket migrator (spec §4.8) once and
// exits, for operators who want to run schema migrations ahead of a
// napi-core rollout rather than let the new leader run them at boot.
package main

import (
	"flag"
	"os"

	"vnapi.io/internal/bootstrap"
	"vnapi.io/internal/logging"
	"vnapi.io/internal/store"
)

func main() {
	logger := logging.Init()
	dryRun := flag.Bool("dry-run", false, "report the buckets that would be migrated without writing anything")
	flag.Parse()

	// A real deployment points this at the same external store
	// napi-core runs against; the in-process reference store stands in
	// here because the store's own connection details are out of scope
	// (spec §1).
	st := store.NewMemStore()

	if *dryRun {
		for _, spec := range bootstrap.CoreBucketSpecs() {
			logger.Log("op", "migrate", "bucket", spec.Def.Name, "target_version", spec.Def.Version, "msg", "dry run: would migrate")
		}
		return
	}

	if err := bootstrap.Run(st); err != nil {
		logger.Log("op", "migrate", "error", err, "msg", "migration failed")
		os.Exit(1)
	}
	logger.Log("op", "migrate", "msg", "all buckets migrated")
}
