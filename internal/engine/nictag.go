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
	"vnapi.io/internal/validate"
)

// NicTagEngine implements spec §3's NicTag lifecycle: created by an
// operator, deletable only while unreferenced by any network.
type NicTagEngine struct {
	Store store.Store
}

func nicTagBucketDef() store.BucketDef {
	return store.BucketDef{Name: store.BucketNICTags, Version: 1, Indexed: []string{"name"}}
}

// nicTagSchema is the spec §4.2 declarative contract for Create: a
// required, non-empty name and an optional non-negative MTU.
var nicTagSchema = validate.Schema{
	Required: map[string]validate.Validator{
		"name": func(field string, raw interface{}) (validate.Result, error) {
			s, _ := raw.(string)
			if s == "" {
				return validate.Result{}, apierror.New(apierror.InvalidParams, "name must not be empty")
			}
			return validate.Result{}, nil
		},
	},
	Optional: map[string]validate.Validator{
		"mtu": func(field string, raw interface{}) (validate.Result, error) {
			n, _ := raw.(float64)
			if n < 0 {
				return validate.Result{}, apierror.New(apierror.InvalidParams, "mtu must not be negative")
			}
			return validate.Result{}, nil
		},
	},
}

// Create writes t, rejecting a name collision with CodeDuplicate.
func (e *NicTagEngine) Create(t model.NicTag) (model.NicTag, error) {
	if _, err := nicTagSchema.Validate(validate.Params{"name": t.Name, "mtu": float64(t.MTU)}); err != nil {
		return model.NicTag{}, err
	}
	if err := e.Store.InitBucket(nicTagBucketDef()); err != nil {
		return model.NicTag{}, err
	}
	if _, err := e.Store.Put(store.BucketNICTags, t.Name, t.ToValue(), nil); err != nil {
		if apierror.Is(err, apierror.EtagConflict) {
			return model.NicTag{}, apierror.Invalid([]apierror.Field{{
				Field: "name", Code: apierror.CodeDuplicate, Message: "nic tag " + t.Name + " already exists",
			}})
		}
		return model.NicTag{}, err
	}
	return t, nil
}

// Get fetches a nic tag by name.
func (e *NicTagEngine) Get(name string) (model.NicTag, error) {
	rec, err := e.Store.Get(store.BucketNICTags, name)
	if err != nil {
		return model.NicTag{}, err
	}
	return model.NicTagFromValue(rec.Value), nil
}

// Update changes a nic tag's MTU in place (the name is its key and is
// immutable once created).
func (e *NicTagEngine) Update(name string, mtu int) (model.NicTag, error) {
	rec, err := e.Store.Get(store.BucketNICTags, name)
	if err != nil {
		return model.NicTag{}, err
	}
	t := model.NicTagFromValue(rec.Value)
	t.MTU = mtu
	etag := rec.Etag
	if _, err := e.Store.Put(store.BucketNICTags, name, t.ToValue(), &etag); err != nil {
		return model.NicTag{}, err
	}
	return t, nil
}

// Delete removes a nic tag, refusing while any network still
// references it (spec §3's "deletable only if unreferenced").
func (e *NicTagEngine) Delete(name string) error {
	if _, err := e.Get(name); err != nil {
		return err
	}
	if err := e.Store.InitBucket(networkBucketDef()); err != nil {
		return err
	}
	referrers, err := e.Store.Find(store.BucketNetworks, store.Eq("nic_tag", name), store.FindOptions{Limit: 1})
	if err != nil {
		return err
	}
	if len(referrers) > 0 {
		return apierror.New(apierror.InUse, "nic tag %s is referenced by network %s", name, referrers[0].Key)
	}
	return e.Store.Delete(store.BucketNICTags, name, nil)
}

// List returns every nic tag.
func (e *NicTagEngine) List(opts store.FindOptions) ([]model.NicTag, error) {
	recs, err := e.Store.Find(store.BucketNICTags, store.All(), opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.NicTag, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.NicTagFromValue(rec.Value))
	}
	return out, nil
}
