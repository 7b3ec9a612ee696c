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

// Package store specifies the contract §4.1 gives to the external
// document store (indexed buckets, LDAP-style filters, etags, atomic
// batch writes, bounded gap search) and ships the one reference
// implementation, memstore, that proves the contract is satisfiable
// in-process — the way purelb's LocalPool proves its Pool interface
// while EGWPool/NetboxPool prove it against a remote system.
package store

import "net"

// KeyOrder records how a bucket's keys order. MemStore does not consult
// it: its GapSearch always parses keys as IP address strings, and its
// Find orders by key string unless FindOptions.Sort is set.
type KeyOrder int

const (
	// OrderLexical sorts keys as plain strings.
	OrderLexical KeyOrder = iota
	// OrderAddress marks keys that are IP addresses (used by per-network
	// IP buckets, whose keys are the address string).
	OrderAddress
)

// BucketDef declares a bucket's schema version and indexed fields.
type BucketDef struct {
	Name             string
	Version          int
	MigrationVersion int
	MinStoreVersion  int
	Indexed          []string
	KeyOrder         KeyOrder
}

// Record is one stored document together with its concurrency token.
type Record struct {
	Bucket string
	Key    string
	Value  map[string]interface{}
	Etag   string
}

// FindOptions bounds and orders a Find call.
type FindOptions struct {
	Sort   string // indexed field name; "" means unspecified order
	Desc   bool
	Limit  int
	Offset int
}

// PutOp creates or updates a record. Etag == nil means "must not already
// exist" (create); a non-nil Etag means "must match the stored etag"
// (update).
type PutOp struct {
	Bucket string
	Key    string
	Value  map[string]interface{}
	Etag   *string
}

// DeleteOp removes a record, optionally gated by its etag.
type DeleteOp struct {
	Bucket string
	Key    string
	Etag   *string
}

// UpdateByFilterOp merges Fields into every record in Bucket matching
// Filter — used for the "clear primary on every other NIC" step of
// §4.4f. Not individually etag-gated; the whole batch is still atomic.
type UpdateByFilterOp struct {
	Bucket string
	Fields map[string]interface{}
	Filter Filter
}

// BatchOp is the sum type of the three operations a Batch can contain.
type BatchOp interface{ isBatchOp() }

func (PutOp) isBatchOp()            {}
func (DeleteOp) isBatchOp()         {}
func (UpdateByFilterOp) isBatchOp() {}

// Store is the contract the rest of the core depends on. Its own
// persistence technology is out of scope (spec §1) — this interface is
// the entire observable surface.
type Store interface {
	// InitBucket creates or migrates a bucket to match def. Concurrent
	// calls for the same bucket are safe.
	InitBucket(def BucketDef) error

	// Get fetches a record. Returns an apierror.NotFound error if absent.
	Get(bucket, key string) (Record, error)

	// Put creates (etag == nil) or updates (etag == &current) a record.
	// Returns the new etag, or an apierror.EtagConflict error.
	Put(bucket, key string, value map[string]interface{}, etag *string) (string, error)

	// Delete removes a record, optionally gated by etag.
	Delete(bucket, key string, etag *string) error

	// Find streams records matching filter, honoring opts.
	Find(bucket string, filter Filter, opts FindOptions) ([]Record, error)

	// Batch commits ops atomically: either all apply, or the whole
	// batch is rejected with the first conflicting {bucket,key}
	// classified in the returned apierror.EtagConflict.
	Batch(ops []BatchOp) error

	// GapSearch returns the smallest address a in [min,max] that is not
	// currently a key in bucket, where either a == min or a-1 is a key.
	// ok is false if the range is fully occupied.
	GapSearch(bucket string, min, max net.IP) (addr net.IP, ok bool, err error)

	// StoreVersion reports the backing store's own version, checked by
	// the migrator against each bucket's MinStoreVersion.
	StoreVersion() int
}
