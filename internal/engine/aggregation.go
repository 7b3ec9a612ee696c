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

package engine

import (
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
)

// AggregationEngine implements spec §3's Aggregation: a server-side
// LACP bundle naming the NIC MACs it joins.
type AggregationEngine struct {
	Store store.Store
}

func aggregationBucketDef() store.BucketDef {
	return store.BucketDef{Name: store.BucketAggregations, Version: 1, Indexed: []string{"belongs_to_uuid"}}
}

// Create validates a's members (every MAC resolves to a NIC, all share
// a.BelongsToUUID, all belongs_to_type=server) before writing it.
func (e *AggregationEngine) Create(a model.Aggregation) (model.Aggregation, error) {
	if a.BelongsToUUID == "" {
		return model.Aggregation{}, apierror.Missing("belongs_to_uuid")
	}
	if a.Name == "" {
		return model.Aggregation{}, apierror.Missing("name")
	}
	if err := e.checkMembers(a); err != nil {
		return model.Aggregation{}, err
	}
	if err := e.Store.InitBucket(aggregationBucketDef()); err != nil {
		return model.Aggregation{}, err
	}
	if _, err := e.Store.Put(store.BucketAggregations, a.ID(), a.ToValue(), nil); err != nil {
		if apierror.Is(err, apierror.EtagConflict) {
			return model.Aggregation{}, apierror.Invalid([]apierror.Field{{
				Field: "name", Code: apierror.CodeDuplicate, Message: "aggregation " + a.ID() + " already exists",
			}})
		}
		return model.Aggregation{}, err
	}
	return a, nil
}

// checkMembers enforces spec §3: every MAC must name an existing NIC
// sharing a.BelongsToUUID and belongs_to_type=server.
func (e *AggregationEngine) checkMembers(a model.Aggregation) error {
	if err := e.Store.InitBucket(nicBucketDef()); err != nil {
		return err
	}
	for _, mac := range a.MACs {
		rec, err := e.Store.Get(store.BucketNICs, mac)
		if err != nil {
			return err
		}
		nic, err := model.NICFromValue(rec.Value)
		if err != nil {
			return err
		}
		if nic.BelongsToUUID != a.BelongsToUUID {
			return apierror.Invalid([]apierror.Field{{
				Field: "macs", Code: apierror.CodeInvalid,
				Message: "nic " + mac + " does not belong to " + a.BelongsToUUID,
			}})
		}
		if nic.BelongsToType != model.BelongsToServer {
			return apierror.Invalid([]apierror.Field{{
				Field: "macs", Code: apierror.CodeInvalid,
				Message: "nic " + mac + " is not a server nic",
			}})
		}
	}
	return nil
}

// Get fetches an aggregation by (belongs_to_uuid, name).
func (e *AggregationEngine) Get(belongsToUUID, name string) (model.Aggregation, error) {
	rec, err := e.Store.Get(store.BucketAggregations, belongsToUUID+"-"+name)
	if err != nil {
		return model.Aggregation{}, err
	}
	return model.AggregationFromValue(rec.Value), nil
}

// AggregationUpdate carries the mutable subset of an aggregation: the
// member MAC list, LACP mode, and advertised nic tags.
type AggregationUpdate struct {
	MACs            []string
	LACPMode        *model.LACPMode
	NicTagsProvided []string
}

// Update applies patch to the named aggregation, re-validating the
// member list when it changes.
func (e *AggregationEngine) Update(belongsToUUID, name string, patch AggregationUpdate) (model.Aggregation, error) {
	id := belongsToUUID + "-" + name
	rec, err := e.Store.Get(store.BucketAggregations, id)
	if err != nil {
		return model.Aggregation{}, err
	}
	a := model.AggregationFromValue(rec.Value)
	if patch.MACs != nil {
		a.MACs = patch.MACs
		if err := e.checkMembers(a); err != nil {
			return model.Aggregation{}, err
		}
	}
	if patch.LACPMode != nil {
		a.LACPMode = *patch.LACPMode
	}
	if patch.NicTagsProvided != nil {
		a.NicTagsProvided = patch.NicTagsProvided
	}
	etag := rec.Etag
	if _, err := e.Store.Put(store.BucketAggregations, id, a.ToValue(), &etag); err != nil {
		return model.Aggregation{}, err
	}
	return a, nil
}

// Delete removes an aggregation.
func (e *AggregationEngine) Delete(belongsToUUID, name string) error {
	return e.Store.Delete(store.BucketAggregations, belongsToUUID+"-"+name, nil)
}

// List returns every aggregation.
func (e *AggregationEngine) List(opts store.FindOptions) ([]model.Aggregation, error) {
	recs, err := e.Store.Find(store.BucketAggregations, store.All(), opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.Aggregation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.AggregationFromValue(rec.Value))
	}
	return out, nil
}
