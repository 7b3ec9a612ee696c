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
	"github.com/google/uuid"
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
	"vnapi.io/internal/validate"
)

// PoolEngine implements spec §4.6: network-pool CRUD over an ordered
// member list, and §4.7's intersection-scoped cursor walk.
type PoolEngine struct {
	Store    store.Store
	Networks *NetworkEngine
}

func poolBucketDef() store.BucketDef {
	return store.BucketDef{Name: store.BucketNetworkPools, Version: 1, Indexed: []string{"uuid", "nic_tag"}}
}

// Create writes p after checking every member shares p.NicTag and a
// common address family.
func (e *PoolEngine) Create(p model.NetworkPool) (model.NetworkPool, error) {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if err := e.Store.InitBucket(poolBucketDef()); err != nil {
		return model.NetworkPool{}, err
	}
	if err := e.validateMembers(p.NicTag, p.Networks); err != nil {
		return model.NetworkPool{}, err
	}
	if _, err := e.Store.Put(store.BucketNetworkPools, p.UUID, p.ToValue(), nil); err != nil {
		return model.NetworkPool{}, err
	}
	return p, nil
}

// validateMembers is the validate.Schema front door for a pool's
// (nic_tag, networks) pair: nic_tag is a plain required field, while
// the networks list needs store lookups per member, so that part stays
// in checkMembers and runs as an After hook instead of a per-field
// Validator (the same cross-record-check-belongs-in-After reasoning as
// networkCrossFieldChecks in network.go).
func (e *PoolEngine) validateMembers(tag string, members []string) error {
	schema := validate.Schema{
		Required: map[string]validate.Validator{"nic_tag": requiredNonEmptyString},
		After: []validate.AfterHook{func(validate.Params) error {
			return e.checkMembers(tag, members)
		}},
	}
	_, err := schema.Validate(validate.Params{"nic_tag": tag})
	return err
}

// checkMembers verifies every network in members has nic_tag == tag
// and that all members share one address family.
func (e *PoolEngine) checkMembers(tag string, members []string) error {
	var family = -1
	for _, memberUUID := range members {
		n, err := e.Networks.Get(memberUUID)
		if err != nil {
			return err
		}
		if n.NicTag != tag {
			return apierror.Invalid([]apierror.Field{{
				Field: "networks", Code: apierror.CodeInvalid,
				Message: "network " + memberUUID + " does not carry nic_tag " + tag,
			}})
		}
		if family == -1 {
			family = int(n.Family)
		} else if family != int(n.Family) {
			return apierror.Invalid([]apierror.Field{{
				Field: "networks", Code: apierror.CodeInvalid,
				Message: "pool members must share one address family",
			}})
		}
	}
	return nil
}

// Get fetches a pool by uuid.
func (e *PoolEngine) Get(uuid string) (model.NetworkPool, error) {
	rec, err := e.Store.Get(store.BucketNetworkPools, uuid)
	if err != nil {
		return model.NetworkPool{}, err
	}
	return model.NetworkPoolFromValue(rec.Value), nil
}

// PoolUpdate carries the mutable subset of a pool spec §4.6 allows
// changing after creation: name, owners, and the ordered member list.
type PoolUpdate struct {
	Name       *string
	OwnerUUIDs []string
	Networks   []string
}

// Update applies patch to the named pool. Adding a member re-checks
// nic_tag/family against every other member.
func (e *PoolEngine) Update(uuid string, patch PoolUpdate) (model.NetworkPool, error) {
	rec, err := e.Store.Get(store.BucketNetworkPools, uuid)
	if err != nil {
		return model.NetworkPool{}, err
	}
	p := model.NetworkPoolFromValue(rec.Value)
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.OwnerUUIDs != nil {
		p.OwnerUUIDs = patch.OwnerUUIDs
	}
	if patch.Networks != nil {
		if err := e.validateMembers(p.NicTag, patch.Networks); err != nil {
			return model.NetworkPool{}, err
		}
		p.Networks = patch.Networks
	}
	etag := rec.Etag
	if _, err := e.Store.Put(store.BucketNetworkPools, uuid, p.ToValue(), &etag); err != nil {
		return model.NetworkPool{}, err
	}
	return p, nil
}

// Delete removes a pool. Spec places no referrer check on pools
// themselves (only networks refuse deletion while pool-referenced).
func (e *PoolEngine) Delete(uuid string) error {
	return e.Store.Delete(store.BucketNetworkPools, uuid, nil)
}

// List returns every pool.
func (e *PoolEngine) List(opts store.FindOptions) ([]model.NetworkPool, error) {
	recs, err := e.Store.Find(store.BucketNetworkPools, store.All(), opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.NetworkPool, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.NetworkPoolFromValue(rec.Value))
	}
	return out, nil
}

// Intersection narrows a pool's members to those a particular NIC
// request qualifies for (spec §4.7). VlanID/VnetID constrain the match
// only when HasVlan/HasVnet is set; an empty NicTag means "no constraint
// on the tag".
type Intersection struct {
	NicTag  string
	VlanID  int
	HasVlan bool
	VnetID  int
	HasVnet bool
}

// Members resolves pool's ordered network list, filtered by isect when
// non-nil.
func (e *PoolEngine) Members(pool model.NetworkPool, isect *Intersection) ([]model.Network, error) {
	out := make([]model.Network, 0, len(pool.Networks))
	for _, uuid := range pool.Networks {
		n, err := e.Networks.Get(uuid)
		if err != nil {
			return nil, err
		}
		if isect != nil {
			if isect.NicTag != "" && n.NicTag != isect.NicTag {
				continue
			}
			if isect.HasVlan && n.VlanID != isect.VlanID {
				continue
			}
			if isect.HasVnet && n.VnetID != isect.VnetID {
				continue
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// SelectFromPool walks candidates starting at startIndex (wrapping
// around once) trying SelectIP against each in turn, advancing past
// every network that reports SubnetFull. It returns the selection, the
// index of the network it succeeded against (the provisioning engine's
// next cursor position), or PoolFull if every candidate is full.
func SelectFromPool(st store.Store, candidates []model.Network, startIndex int, params IPParams, adminUUID string, scanLimit int) (IPSelection, int, error) {
	if len(candidates) == 0 {
		return IPSelection{}, 0, apierror.New(apierror.PoolFull, "no candidate networks in this pool/intersection")
	}
	n := len(candidates)
	for i := 0; i < n; i++ {
		idx := (startIndex + i) % n
		sel, err := SelectIP(st, candidates[idx], params, adminUUID, scanLimit)
		if err == nil {
			return sel, idx, nil
		}
		if apierror.Is(err, apierror.SubnetFull) {
			continue
		}
		return IPSelection{}, 0, err
	}
	return IPSelection{}, 0, apierror.New(apierror.PoolFull, "every network in this pool/intersection is full")
}
