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

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/ipmath"
)

// storeVersion is the schema-compatibility level this reference store
// implementation offers; the migrator compares it against each
// BucketDef.MinStoreVersion (spec §4.8).
const storeVersion = 1

type bucketState struct {
	def     BucketDef
	records map[string]Record
	rev     uint64 // bumped on every mutation, folded into the next etag
}

// MemStore is an in-memory Store, the reference implementation the way
// purelb's LocalPool is the reference Pool: it proves the contract is
// satisfiable without a real external document store behind it.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucketState
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: map[string]*bucketState{}}
}

func (m *MemStore) StoreVersion() int { return storeVersion }

func (m *MemStore) InitBucket(def BucketDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[def.Name]; ok {
		b.def = def
		return nil
	}
	m.buckets[def.Name] = &bucketState{def: def, records: map[string]Record{}}
	return nil
}

func (m *MemStore) bucket(name string) (*bucketState, error) {
	b, ok := m.buckets[name]
	if !ok {
		return nil, apierror.New(apierror.Internal, fmt.Sprintf("bucket %s not initialized", name))
	}
	return b, nil
}

func (m *MemStore) Get(bucketName, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.bucket(bucketName)
	if err != nil {
		return Record{}, err
	}
	rec, ok := b.records[key]
	if !ok {
		return Record{}, apierror.NotFoundf(bucketName, key)
	}
	return cloneRecord(rec), nil
}

func (m *MemStore) Put(bucketName, key string, value map[string]interface{}, etag *string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(bucketName)
	if err != nil {
		return "", err
	}
	cur, exists := b.records[key]
	if etag == nil {
		if exists {
			recordEtagConflict(bucketName)
			return "", apierror.Conflict(bucketName, key)
		}
	} else {
		if !exists || cur.Etag != *etag {
			recordEtagConflict(bucketName)
			return "", apierror.Conflict(bucketName, key)
		}
	}
	newEtag := nextEtag(b, value)
	b.records[key] = Record{Bucket: bucketName, Key: key, Value: cloneValue(value), Etag: newEtag}
	recordBucketSize(bucketName, len(b.records))
	return newEtag, nil
}

func (m *MemStore) Delete(bucketName, key string, etag *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(bucketName)
	if err != nil {
		return err
	}
	cur, exists := b.records[key]
	if !exists {
		return apierror.NotFoundf(bucketName, key)
	}
	if etag != nil && cur.Etag != *etag {
		recordEtagConflict(bucketName)
		return apierror.Conflict(bucketName, key)
	}
	delete(b.records, key)
	recordBucketSize(bucketName, len(b.records))
	return nil
}

func (m *MemStore) Find(bucketName string, filter Filter, opts FindOptions) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = All()
	}
	for _, f := range Fields(filter) {
		if !contains(b.def.Indexed, f) {
			return nil, apierror.New(apierror.InvalidParams, fmt.Sprintf("field %s is not indexed on bucket %s", f, bucketName))
		}
	}
	if opts.Sort != "" && !contains(b.def.Indexed, opts.Sort) {
		return nil, apierror.New(apierror.InvalidParams, fmt.Sprintf("field %s is not indexed on bucket %s", opts.Sort, bucketName))
	}

	var out []Record
	for _, rec := range b.records {
		if filter.eval(rec.Value) {
			out = append(out, cloneRecord(rec))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		var less bool
		if opts.Sort == "" {
			less = out[i].Key < out[j].Key
		} else {
			less = sortLess(out[i].Value[opts.Sort], out[j].Value[opts.Sort])
		}
		if opts.Desc {
			return !less
		}
		return less
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Record{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Batch validates every op against the current state before applying
// any of them, so a rejected batch leaves the store untouched — the
// atomicity guarantee spec §4.1 requires for NIC+IP+overlay writes.
func (m *MemStore) Batch(ops []BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := map[string]*bucketState{}
	for _, op := range ops {
		var name string
		switch o := op.(type) {
		case PutOp:
			name = o.Bucket
		case DeleteOp:
			name = o.Bucket
		case UpdateByFilterOp:
			name = o.Bucket
		}
		if _, ok := touched[name]; ok {
			continue
		}
		b, err := m.bucket(name)
		if err != nil {
			return err
		}
		touched[name] = b
	}

	for _, op := range ops {
		switch o := op.(type) {
		case PutOp:
			b := touched[o.Bucket]
			cur, exists := b.records[o.Key]
			if o.Etag == nil {
				if exists {
					recordEtagConflict(o.Bucket)
					recordBatchOutcome(false)
					return apierror.Conflict(o.Bucket, o.Key)
				}
			} else if !exists || cur.Etag != *o.Etag {
				recordEtagConflict(o.Bucket)
				recordBatchOutcome(false)
				return apierror.Conflict(o.Bucket, o.Key)
			}
		case DeleteOp:
			b := touched[o.Bucket]
			cur, exists := b.records[o.Key]
			if !exists {
				recordBatchOutcome(false)
				return apierror.NotFoundf(o.Bucket, o.Key)
			}
			if o.Etag != nil && cur.Etag != *o.Etag {
				recordEtagConflict(o.Bucket)
				recordBatchOutcome(false)
				return apierror.Conflict(o.Bucket, o.Key)
			}
		}
	}

	for _, op := range ops {
		switch o := op.(type) {
		case PutOp:
			b := touched[o.Bucket]
			b.records[o.Key] = Record{Bucket: o.Bucket, Key: o.Key, Value: cloneValue(o.Value), Etag: nextEtag(b, o.Value)}
		case DeleteOp:
			b := touched[o.Bucket]
			delete(b.records, o.Key)
		case UpdateByFilterOp:
			b := touched[o.Bucket]
			filter := o.Filter
			if filter == nil {
				filter = All()
			}
			for k, rec := range b.records {
				if !filter.eval(rec.Value) {
					continue
				}
				merged := cloneValue(rec.Value)
				for fk, fv := range o.Fields {
					merged[fk] = fv
				}
				b.records[k] = Record{Bucket: o.Bucket, Key: k, Value: merged, Etag: nextEtag(b, merged)}
			}
		}
	}
	for name, b := range touched {
		recordBucketSize(name, len(b.records))
	}
	recordBatchOutcome(true)
	return nil
}

// GapSearch walks a bucket's existing keys, sorted as addresses, over
// [min,max]. It returns the first address that is either the scan's own
// minimum or immediately follows a run of occupied addresses — it does
// not detect an address that has a record but is logically free (an IP
// that was allocated and later released keeps its record per the IP
// lifecycle in spec §3); callers needing those reuse Find with an
// explicit "no triplet, not reserved" filter instead (spec §4.3 step 3).
func (m *MemStore) GapSearch(bucketName string, min, max net.IP) (net.IP, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.bucket(bucketName)
	if err != nil {
		return nil, false, err
	}

	var existing []net.IP
	for key := range b.records {
		ip, err := ipmath.ParseIP(key)
		if err != nil {
			continue
		}
		if ipmath.InRange(ip, min, max) {
			existing = append(existing, ip)
		}
	}
	sort.Slice(existing, func(i, j int) bool { return ipmath.Compare(existing[i], existing[j]) < 0 })

	candidate := dupIP(min)
	for _, k := range existing {
		c := ipmath.Compare(k, candidate)
		if c > 0 {
			recordGapSearch(true)
			return candidate, true, nil
		}
		if c == 0 {
			candidate = ipmath.Next(candidate)
		}
	}
	if ipmath.Compare(candidate, max) <= 0 {
		recordGapSearch(true)
		return candidate, true, nil
	}
	recordGapSearch(false)
	return nil, false, nil
}

func dupIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func nextEtag(b *bucketState, value map[string]interface{}) string {
	b.rev++
	h := xxhash.New()
	fmt.Fprintf(h, "%d:%v", b.rev, value)
	return strconv.FormatUint(h.Sum64(), 16)
}

func cloneValue(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func cloneRecord(r Record) Record {
	return Record{Bucket: r.Bucket, Key: r.Key, Value: cloneValue(r.Value), Etag: r.Etag}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func sortLess(a, b interface{}) bool {
	c, ok := compare(a, b)
	if !ok {
		return fmt.Sprint(a) < fmt.Sprint(b)
	}
	return c < 0
}
