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
	"net"

	"github.com/google/uuid"
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/ipmath"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
	"vnapi.io/internal/validate"
)

// NetworkEngine implements spec §4.5: network CRUD, overlap probing,
// bootstrap IP seeding, and find_containing.
type NetworkEngine struct {
	Store store.Store
}

func networkBucketDef() store.BucketDef {
	return store.BucketDef{
		Name: store.BucketNetworks, Version: 1,
		Indexed: []string{"uuid", "nic_tag", "vlan_id", "vnet_id", "fabric"},
	}
}

func ipBucketDef(name string) store.BucketDef {
	return store.BucketDef{
		Name: name, Version: 1, KeyOrder: store.OrderAddress,
		Indexed: []string{addressNumField, belongsToUUIDField, reservedField},
	}
}

// Create validates n against every other network sharing (nic_tag,
// vlan_id, vnet_id), then atomically writes the network record and
// seeds its IP bucket with reserved bootstrap addresses.
func (e *NetworkEngine) Create(n model.Network) (model.Network, error) {
	if n.UUID == "" {
		n.UUID = uuid.NewString()
	}
	if err := e.Store.InitBucket(networkBucketDef()); err != nil {
		return model.Network{}, err
	}
	if err := validateNetworkShape(n); err != nil {
		return model.Network{}, err
	}
	if err := e.checkOverlap(n, ""); err != nil {
		return model.Network{}, err
	}

	ipBucket := n.IPBucket()
	if err := e.Store.InitBucket(ipBucketDef(ipBucket)); err != nil {
		return model.Network{}, err
	}

	ops := []store.BatchOp{
		store.PutOp{Bucket: store.BucketNetworks, Key: n.UUID, Value: n.ToValue(), Etag: nil},
	}
	for _, seed := range bootstrapAddresses(n) {
		v := seed.ToValue()
		v[addressNumField] = addressNum(seed.Address)
		ops = append(ops, store.PutOp{Bucket: ipBucket, Key: seed.Key(), Value: v, Etag: nil})
	}
	if err := e.Store.Batch(ops); err != nil {
		return model.Network{}, err
	}
	return n, nil
}

// bootstrapAddresses returns the reserved other-owned records spec
// §4.5 seeds on creation: gateway, on-subnet resolvers, and (v4 only)
// the network and broadcast addresses.
func bootstrapAddresses(n model.Network) []model.IP {
	seen := map[string]bool{}
	var out []model.IP
	add := func(addr net.IP) {
		if addr == nil || !n.Subnet.Contains(addr) {
			return
		}
		key := ipmath.Format(addr)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, model.IP{
			Address: addr, Reserved: true,
			BelongsToUUID: n.UUID, BelongsToType: model.BelongsToOther, OwnerUUID: n.UUID,
		})
	}

	add(n.Gateway)
	for _, r := range n.Resolvers {
		add(r)
	}
	if n.Family == ipmath.FamilyV4 {
		add(n.Subnet.NetworkAddress())
		add(n.Subnet.Broadcast())
	}
	return out
}

// networkSchema is the validate.Schema front door for network shape
// checks (spec §4.2, §4.5): vlan_id is a true single-field validator,
// everything else here depends on the subnet it's being checked
// against, so it's declared present-only and the real check runs in
// networkCrossFieldChecks, the After hook that receives the candidate
// model.Network via the "network" key.
var networkSchema = validate.Schema{
	Required: map[string]validate.Validator{
		"vlan_id": func(field string, raw interface{}) (validate.Result, error) {
			v, _ := raw.(int)
			if v < 0 || v > 4094 || v == 1 {
				return validate.Result{}, apierror.New(apierror.InvalidParams, "vlan_id must be in 0..4094 and not 1")
			}
			return validate.Result{}, nil
		},
		"provision_start": noValidation,
		"provision_end":   noValidation,
	},
	Optional: map[string]validate.Validator{
		"gateway":   noValidation,
		"resolvers": noValidation,
	},
	After: []validate.AfterHook{networkCrossFieldChecks},
}

// networkCrossFieldChecks reproduces the subnet/provision-range/gateway/
// resolver invariants of spec §4.5 that need the whole model.Network at
// once rather than one field at a time.
func networkCrossFieldChecks(parsed validate.Params) error {
	n, _ := parsed["network"].(model.Network)
	var fields []apierror.Field
	if !n.Subnet.Contains(n.ProvisionStart) || !n.Subnet.Contains(n.ProvisionEnd) {
		fields = append(fields, apierror.Field{Field: "provision_start", Code: apierror.CodeInvalid, Message: "provision range must lie within the subnet"})
	}
	if ipmath.Compare(n.ProvisionStart, n.ProvisionEnd) > 0 {
		fields = append(fields, apierror.Field{Field: "provision_end", Code: apierror.CodeInvalid, Message: "provision_end must be >= provision_start"})
	}
	if n.Family == ipmath.FamilyV4 {
		if n.ProvisionStart.Equal(n.Subnet.NetworkAddress()) || n.ProvisionStart.Equal(n.Subnet.Broadcast()) ||
			n.ProvisionEnd.Equal(n.Subnet.NetworkAddress()) || n.ProvisionEnd.Equal(n.Subnet.Broadcast()) {
			fields = append(fields, apierror.Field{Field: "provision_start", Code: apierror.CodeInvalid, Message: "provision range must not include the network or broadcast address"})
		}
	}
	if n.Gateway != nil && !n.Subnet.Contains(n.Gateway) {
		fields = append(fields, apierror.Field{Field: "gateway", Code: apierror.CodeInvalid, Message: "gateway must lie within the subnet"})
	}
	for _, r := range n.Resolvers {
		if ipmath.FamilyOf(r) != n.Family {
			fields = append(fields, apierror.Field{Field: "resolvers", Code: apierror.CodeInvalid, Message: "resolvers must match the network's address family"})
			break
		}
	}
	if len(fields) > 0 {
		return apierror.Invalid(fields)
	}
	return nil
}

// validateNetworkShape is the single entry point Create and Update both
// call; it's a thin adapter from a model.Network to networkSchema's
// Params shape so the rest of the engine is unaffected by the move to
// a declarative schema.
func validateNetworkShape(n model.Network) error {
	_, err := networkSchema.Validate(validate.Params{
		"vlan_id":         n.VlanID,
		"provision_start": n.ProvisionStart,
		"provision_end":   n.ProvisionEnd,
		"gateway":         n.Gateway,
		"resolvers":       n.Resolvers,
		"network":         n,
	})
	return err
}

// checkOverlap enforces spec §3's "two networks with the same nic_tag,
// vlan_id and (if fabric) vnet_id must have non-overlapping subnets".
// excludeUUID lets Update skip comparing a network against itself.
func (e *NetworkEngine) checkOverlap(n model.Network, excludeUUID string) error {
	filter := store.And(store.Eq("nic_tag", n.NicTag), store.Eq("vlan_id", float64(n.VlanID)))
	if n.Fabric {
		filter = store.And(filter, store.Eq("vnet_id", float64(n.VnetID)))
	}
	recs, err := e.Store.Find(store.BucketNetworks, filter, store.FindOptions{})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Key == excludeUUID {
			continue
		}
		other, err := model.NetworkFromValue(rec.Value)
		if err != nil {
			return err
		}
		if ipmath.Overlaps(n.Subnet, other.Subnet) {
			return apierror.Invalid([]apierror.Field{{
				Field: "subnet", Code: apierror.CodeDuplicate,
				Message: "subnet overlaps network " + other.UUID,
			}})
		}
	}
	return nil
}

// Get fetches a network by uuid.
func (e *NetworkEngine) Get(uuid string) (model.Network, error) {
	rec, err := e.Store.Get(store.BucketNetworks, uuid)
	if err != nil {
		return model.Network{}, err
	}
	return model.NetworkFromValue(rec.Value)
}

// NetworkUpdate carries the mutable subset of a network spec §4.5
// allows changing after creation.
type NetworkUpdate struct {
	ProvisionStart     *net.IP
	ProvisionEnd       *net.IP
	OwnerUUIDs         []string
	Routes             map[string]string
	Resolvers          []net.IP
	MTU                *int
	GatewayProvisioned *bool
}

// Update applies patch to the named network with one Put guarded by the
// etag it read; a concurrent change makes it fail with EtagConflict
// rather than retry.
func (e *NetworkEngine) Update(uuid string, patch NetworkUpdate) (model.Network, error) {
	rec, err := e.Store.Get(store.BucketNetworks, uuid)
	if err != nil {
		return model.Network{}, err
	}
	n, err := model.NetworkFromValue(rec.Value)
	if err != nil {
		return model.Network{}, err
	}
	if patch.ProvisionStart != nil {
		n.ProvisionStart = *patch.ProvisionStart
	}
	if patch.ProvisionEnd != nil {
		n.ProvisionEnd = *patch.ProvisionEnd
	}
	if patch.OwnerUUIDs != nil {
		n.OwnerUUIDs = patch.OwnerUUIDs
	}
	if patch.Routes != nil {
		n.Routes = patch.Routes
	}
	if patch.Resolvers != nil {
		n.Resolvers = patch.Resolvers
	}
	if patch.MTU != nil {
		n.MTU = *patch.MTU
	}
	if patch.GatewayProvisioned != nil {
		n.GatewayProvisioned = *patch.GatewayProvisioned
	}
	if err := validateNetworkShape(n); err != nil {
		return model.Network{}, err
	}
	etag := rec.Etag
	if _, err := e.Store.Put(store.BucketNetworks, uuid, n.ToValue(), &etag); err != nil {
		return model.Network{}, err
	}
	return n, nil
}

// Delete refuses if any IP on the network is assigned to a NIC or any
// pool still references it; otherwise drops the network record (the
// IP bucket is left for the store's own bucket-retirement housekeeping).
func (e *NetworkEngine) Delete(uuid string) error {
	n, err := e.Get(uuid)
	if err != nil {
		return err
	}

	assigned, err := e.Store.Find(n.IPBucket(), store.Present(belongsToUUIDField), store.FindOptions{})
	if err != nil {
		return err
	}
	for _, rec := range assigned {
		// the bootstrap seeds (gateway, resolvers, network/broadcast)
		// belong to the network itself and do not block its deletion.
		if ip, err := model.IPFromValue(rec.Value); err == nil && ip.BelongsToUUID == n.UUID {
			continue
		}
		return apierror.New(apierror.InUse, "network %s has assigned addresses", uuid)
	}

	if err := e.Store.InitBucket(poolBucketDef()); err != nil {
		return err
	}
	pools, err := e.Store.Find(store.BucketNetworkPools, store.All(), store.FindOptions{})
	if err != nil {
		return err
	}
	for _, rec := range pools {
		pool := model.NetworkPoolFromValue(rec.Value)
		for _, member := range pool.Networks {
			if member == uuid {
				return apierror.New(apierror.InUse, "network %s is referenced by pool %s", uuid, pool.UUID)
			}
		}
	}

	return e.Store.Delete(store.BucketNetworks, uuid, nil)
}

// List returns every network, newest concerns (sort/limit/offset) left
// to the caller via opts.
func (e *NetworkEngine) List(opts store.FindOptions) ([]model.Network, error) {
	recs, err := e.Store.Find(store.BucketNetworks, store.All(), opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.Network, 0, len(recs))
	for _, rec := range recs {
		n, err := model.NetworkFromValue(rec.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// FindContaining infers the network a NIC request belongs to when the
// caller supplies an address but no network/pool (spec §4.5).
func (e *NetworkEngine) FindContaining(vlanID int, nicTag string, vnetID int, address net.IP) (model.Network, error) {
	filter := store.And(store.Eq("nic_tag", nicTag), store.Eq("vlan_id", float64(vlanID)))
	if vnetID != 0 {
		filter = store.And(filter, store.Eq("vnet_id", float64(vnetID)))
	}
	recs, err := e.Store.Find(store.BucketNetworks, filter, store.FindOptions{})
	if err != nil {
		return model.Network{}, err
	}
	for _, rec := range recs {
		n, err := model.NetworkFromValue(rec.Value)
		if err != nil {
			return model.Network{}, err
		}
		if n.Subnet.Contains(address) {
			return n, nil
		}
	}
	return model.Network{}, apierror.New(apierror.NotFound, "no network contains address %s for nic_tag=%s vlan_id=%d", address, nicTag, vlanID)
}
