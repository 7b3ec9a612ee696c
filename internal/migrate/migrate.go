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

// Package migrate walks a bucket from one schema version to the next
// (spec §4.8): additive schema replace, bounded re-put batches driven by
// the current model constructor, idempotent resume after interruption.
package migrate

import (
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/store"
)

// markerBucket records the migration_version each target bucket has
// reached, the way a schema_migrations table would in a SQL store.
const markerBucket = "napi_migration_state"

// schemaVersionField must be declared indexed on every bucket a
// Migrator runs against, so step 3's under-versioned scan can filter on
// it.
const schemaVersionField = "schema_version"

const defaultBatchSize = 100

// Rebuild reconstructs a record's value under the current model, the
// way a model package's constructor would from raw stored fields.
type Rebuild func(old map[string]interface{}) (map[string]interface{}, error)

// BucketSpec is one bucket's migration target.
type BucketSpec struct {
	Def       store.BucketDef
	Rebuild   Rebuild
	BatchSize int
}

// Migrator runs BucketSpecs against a Store.
type Migrator struct {
	st store.Store
}

// New returns a Migrator bound to st.
func New(st store.Store) *Migrator {
	return &Migrator{st: st}
}

// Run migrates one bucket to spec.Def, per the five steps of spec §4.8.
// It is safe to call repeatedly and safe to interrupt: each call resumes
// from whatever under-versioned records remain.
func (m *Migrator) Run(spec BucketSpec) error {
	if spec.Def.MinStoreVersion > m.st.StoreVersion() {
		return apierror.New(apierror.Internal, "bucket %s requires store version >= %d, have %d",
			spec.Def.Name, spec.Def.MinStoreVersion, m.st.StoreVersion())
	}

	if err := m.st.InitBucket(markerBucketDef()); err != nil {
		return err
	}
	if err := m.st.InitBucket(spec.Def); err != nil {
		return err
	}

	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for {
		recs, err := m.st.Find(spec.Def.Name, store.Lt(schemaVersionField, float64(spec.Def.Version)), store.FindOptions{
			Sort: schemaVersionField, Limit: batchSize,
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			rebuilt, err := spec.Rebuild(rec.Value)
			if err != nil {
				return err
			}
			rebuilt[schemaVersionField] = float64(spec.Def.Version)
			etag := rec.Etag
			if _, err := m.st.Put(spec.Def.Name, rec.Key, rebuilt, &etag); err != nil {
				if apierror.Is(err, apierror.EtagConflict) {
					// record changed concurrently; it either already
					// carries the new schema version or will be picked
					// up again on the next pass.
					continue
				}
				return err
			}
		}
	}

	return m.markDone(spec.Def.Name, spec.Def.MigrationVersion)
}

func (m *Migrator) markDone(bucketName string, migrationVersion int) error {
	rec, err := m.st.Get(markerBucket, bucketName)
	if apierror.Is(err, apierror.NotFound) {
		_, err = m.st.Put(markerBucket, bucketName, map[string]interface{}{
			"bucket": bucketName, "migration_version": float64(migrationVersion),
		}, nil)
		return err
	}
	if err != nil {
		return err
	}
	etag := rec.Etag
	_, err = m.st.Put(markerBucket, bucketName, map[string]interface{}{
		"bucket": bucketName, "migration_version": float64(migrationVersion),
	}, &etag)
	return err
}

// MigrationVersion reports the migration_version marker last written for
// bucketName, or 0 if the bucket has never completed a migration.
func (m *Migrator) MigrationVersion(bucketName string) (int, error) {
	rec, err := m.st.Get(markerBucket, bucketName)
	if apierror.Is(err, apierror.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, _ := rec.Value["migration_version"].(float64)
	return int(v), nil
}

func markerBucketDef() store.BucketDef {
	return store.BucketDef{Name: markerBucket, Indexed: []string{"bucket"}}
}
