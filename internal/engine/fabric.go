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

// fabricSchema is the validate.Schema front door for FabricEngine.Create.
var fabricSchema = validate.Schema{
	Required: map[string]validate.Validator{
		"owner_uuid": requiredNonEmptyString,
		"vnet_id": func(field string, raw interface{}) (validate.Result, error) {
			v, _ := raw.(int)
			if v < 0 || v >= 1<<24 {
				return validate.Result{}, apierror.New(apierror.InvalidParams, "vnet_id must fit in 24 bits")
			}
			return validate.Result{}, nil
		},
	},
}

// fabricVLANSchema is the validate.Schema front door for CreateVLAN.
var fabricVLANSchema = validate.Schema{
	Required: map[string]validate.Validator{
		"scope_uuid": requiredNonEmptyString,
	},
}

// FabricEngine implements spec §3's Fabric (one per owner_uuid,
// carrying its 24-bit vnet_id and the VPC sub-records spec §9 keeps as
// a quota-counting, not quota-enforcing, ledger) and FabricVLAN (a
// vlan_id scoped under an owner or vpc).
type FabricEngine struct {
	Store store.Store
}

func fabricBucketDef() store.BucketDef {
	return store.BucketDef{Name: store.BucketFabrics, Version: 1, Indexed: []string{"owner_uuid", "vnet_id"}}
}

func fabricVLANBucketDef() store.BucketDef {
	return store.BucketDef{Name: store.BucketFabricVLANs, Version: 1, Indexed: []string{"scope_uuid", "vlan_id"}}
}

// Create writes the one Fabric record an owner_uuid may hold.
func (e *FabricEngine) Create(f model.Fabric) (model.Fabric, error) {
	if _, err := fabricSchema.Validate(validate.Params{
		"owner_uuid": f.OwnerUUID, "vnet_id": f.VnetID,
	}); err != nil {
		return model.Fabric{}, err
	}
	if err := e.Store.InitBucket(fabricBucketDef()); err != nil {
		return model.Fabric{}, err
	}
	if _, err := e.Store.Put(store.BucketFabrics, f.OwnerUUID, f.ToValue(), nil); err != nil {
		if apierror.Is(err, apierror.EtagConflict) {
			return model.Fabric{}, apierror.Invalid([]apierror.Field{{
				Field: "owner_uuid", Code: apierror.CodeDuplicate, Message: "owner " + f.OwnerUUID + " already has a fabric",
			}})
		}
		return model.Fabric{}, err
	}
	return f, nil
}

// Get fetches the fabric belonging to owner.
func (e *FabricEngine) Get(owner string) (model.Fabric, error) {
	rec, err := e.Store.Get(store.BucketFabrics, owner)
	if err != nil {
		return model.Fabric{}, err
	}
	return model.FabricFromValue(rec.Value), nil
}

// AddVPC appends a VPC sub-record to owner's fabric with one Put guarded
// by the etag it read (a concurrent change fails with EtagConflict; there
// is no retry), keeping the running quota ledger spec §9 leaves
// unenforced.
func (e *FabricEngine) AddVPC(owner string, vpc model.VPC) (model.Fabric, error) {
	rec, err := e.Store.Get(store.BucketFabrics, owner)
	if err != nil {
		return model.Fabric{}, err
	}
	f := model.FabricFromValue(rec.Value)
	for _, existing := range f.VPCs {
		if existing.VPCUUID == vpc.VPCUUID {
			return model.Fabric{}, apierror.Invalid([]apierror.Field{{
				Field: "vpc_uuid", Code: apierror.CodeDuplicate, Message: "vpc " + vpc.VPCUUID + " already exists",
			}})
		}
	}
	f.VPCs = append(f.VPCs, vpc)
	etag := rec.Etag
	if _, err := e.Store.Put(store.BucketFabrics, owner, f.ToValue(), &etag); err != nil {
		return model.Fabric{}, err
	}
	return f, nil
}

// Delete removes owner's fabric, refusing while any FabricVLAN still
// scopes to it or one of its VPCs.
func (e *FabricEngine) Delete(owner string) error {
	f, err := e.Get(owner)
	if err != nil {
		return err
	}
	if err := e.Store.InitBucket(fabricVLANBucketDef()); err != nil {
		return err
	}
	scopes := append([]string{owner}, vpcUUIDs(f)...)
	for _, scope := range scopes {
		vlans, err := e.Store.Find(store.BucketFabricVLANs, store.Eq("scope_uuid", scope), store.FindOptions{Limit: 1})
		if err != nil {
			return err
		}
		if len(vlans) > 0 {
			return apierror.New(apierror.InUse, "fabric %s has vlan %s defined under scope %s", owner, vlans[0].Key, scope)
		}
	}
	return e.Store.Delete(store.BucketFabrics, owner, nil)
}

func vpcUUIDs(f model.Fabric) []string {
	out := make([]string, len(f.VPCs))
	for i, vp := range f.VPCs {
		out[i] = vp.VPCUUID
	}
	return out
}

// List returns every fabric.
func (e *FabricEngine) List(opts store.FindOptions) ([]model.Fabric, error) {
	recs, err := e.Store.Find(store.BucketFabrics, store.All(), opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.Fabric, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.FabricFromValue(rec.Value))
	}
	return out, nil
}

// CreateVLAN writes a FabricVLAN, rejecting a (scope, vlan_id)
// collision with CodeDuplicate (spec §3's "unique under owner/vpc").
func (e *FabricEngine) CreateVLAN(v model.FabricVLAN) (model.FabricVLAN, error) {
	if _, err := fabricVLANSchema.Validate(validate.Params{"scope_uuid": v.ScopeUUID}); err != nil {
		return model.FabricVLAN{}, err
	}
	if err := e.Store.InitBucket(fabricVLANBucketDef()); err != nil {
		return model.FabricVLAN{}, err
	}
	if _, err := e.Store.Put(store.BucketFabricVLANs, v.Key(), v.ToValue(), nil); err != nil {
		if apierror.Is(err, apierror.EtagConflict) {
			return model.FabricVLAN{}, apierror.Invalid([]apierror.Field{{
				Field: "vlan_id", Code: apierror.CodeDuplicate,
				Message: "vlan already defined under scope " + v.ScopeUUID,
			}})
		}
		return model.FabricVLAN{}, err
	}
	return v, nil
}

// GetVLAN fetches a FabricVLAN by (scope, vlan_id).
func (e *FabricEngine) GetVLAN(scope string, vlanID int) (model.FabricVLAN, error) {
	rec, err := e.Store.Get(store.BucketFabricVLANs, model.FabricVLAN{ScopeUUID: scope, VlanID: vlanID}.Key())
	if err != nil {
		return model.FabricVLAN{}, err
	}
	return model.FabricVLANFromValue(rec.Value), nil
}

// UpdateVLAN renames a FabricVLAN or repoints it at a different
// vnet_id with one Put guarded by the etag it read; a concurrent change
// fails with EtagConflict rather than retry.
func (e *FabricEngine) UpdateVLAN(scope string, vlanID int, name string, vnetID int) (model.FabricVLAN, error) {
	key := model.FabricVLAN{ScopeUUID: scope, VlanID: vlanID}.Key()
	rec, err := e.Store.Get(store.BucketFabricVLANs, key)
	if err != nil {
		return model.FabricVLAN{}, err
	}
	v := model.FabricVLANFromValue(rec.Value)
	v.Name = name
	v.VnetID = vnetID
	etag := rec.Etag
	if _, err := e.Store.Put(store.BucketFabricVLANs, key, v.ToValue(), &etag); err != nil {
		return model.FabricVLAN{}, err
	}
	return v, nil
}

// DeleteVLAN removes a FabricVLAN.
func (e *FabricEngine) DeleteVLAN(scope string, vlanID int) error {
	key := model.FabricVLAN{ScopeUUID: scope, VlanID: vlanID}.Key()
	return e.Store.Delete(store.BucketFabricVLANs, key, nil)
}

// ListVLANs returns every FabricVLAN scoped to scope.
func (e *FabricEngine) ListVLANs(scope string, opts store.FindOptions) ([]model.FabricVLAN, error) {
	recs, err := e.Store.Find(store.BucketFabricVLANs, store.Eq("scope_uuid", scope), opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.FabricVLAN, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.FabricVLANFromValue(rec.Value))
	}
	return out, nil
}
