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

	"vnapi.io/internal/apierror"
	"vnapi.io/internal/config"
	"vnapi.io/internal/macmath"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
	"vnapi.io/internal/validate"
)

// NICEngine is the only component that writes NIC records (spec §4.4).
type NICEngine struct {
	Store     store.Store
	Networks  *NetworkEngine
	Pools     *PoolEngine
	Config    *config.Config
	OUI       macmath.OUI
	AdminUUID string
}

// NICRequest is the Create/Update input spec §4.4 validates: owner,
// belongs-to triplet, one of an explicit MAC/IP/network/pool, and the
// per-NIC capability and tagging fields.
type NICRequest struct {
	MAC             string
	OwnerUUID       string
	BelongsToUUID   string
	BelongsToType   model.BelongsToType
	NetworkUUID     string
	NetworkPoolUUID string
	Intersections   []Intersection // §4.7 filters, tried in order on PoolFull
	IP              net.IP
	// VlanID/NicTag/VnetID resolve the network via find_containing when
	// IP is set but NetworkUUID is not (spec §4.5).
	VlanID  int
	NicTag  string
	VnetID  int
	Primary bool
	State   model.NICState
	model.Capabilities
	NicTagsProvided []string
	CNUUID          string
}

// nicRequestSchema is the validate.Schema front door for the
// owner/belongs-to triplet every Create and Update carries (spec §4.4a);
// the IP/network/pool fields stay outside it since "at most one of
// ip/network_uuid/network_pool_uuid, or none at all for a metadata-only
// Update" is a request-shape decision the provisioning loop itself
// already encodes via wantsIP, not a per-field constraint.
var nicRequestSchema = validate.Schema{
	Required: map[string]validate.Validator{
		"owner_uuid":      requiredNonEmptyString,
		"belongs_to_uuid": requiredNonEmptyString,
		"belongs_to_type": func(field string, raw interface{}) (validate.Result, error) {
			t, _ := raw.(model.BelongsToType)
			switch t {
			case model.BelongsToServer, model.BelongsToZone, model.BelongsToOther:
				return validate.Result{}, nil
			default:
				return validate.Result{}, apierror.New(apierror.InvalidParams, "belongs_to_type must be one of server, zone, other")
			}
		},
	},
}

func validateNICRequest(req NICRequest) error {
	_, err := nicRequestSchema.Validate(validate.Params{
		"owner_uuid": req.OwnerUUID, "belongs_to_uuid": req.BelongsToUUID, "belongs_to_type": req.BelongsToType,
	})
	return err
}

func nicBucketDef() store.BucketDef {
	return store.BucketDef{Name: store.BucketNICs, Version: 1, Indexed: []string{"belongs_to_uuid", "mac", "network_uuid"}}
}

// provisionState carries what survives across one Create/Update's
// bounded retry loop (spec §4.4g): the currently chosen IP (cleared on
// an IP-bucket conflict), the pool/intersection cursor, and the MAC
// candidate (redrawn on a NIC-bucket conflict up to MacRetries).
type provisionState struct {
	selection       *IPSelection
	network         model.Network
	poolIndex       int
	intersectionIdx int
	mac             uint64
	macRetries      int
}

// Create provisions a new NIC.
func (e *NICEngine) Create(req NICRequest) (model.NIC, error) {
	if err := e.Store.InitBucket(nicBucketDef()); err != nil {
		return model.NIC{}, err
	}
	return e.provision(req, nil)
}

// Update re-provisions an existing NIC: a new IP if network/pool/ip
// changed, MAC held fixed, previously held addresses reclaimed.
func (e *NICEngine) Update(mac string, req NICRequest) (model.NIC, error) {
	if err := e.Store.InitBucket(nicBucketDef()); err != nil {
		return model.NIC{}, err
	}
	rec, err := e.Store.Get(store.BucketNICs, mac)
	if err != nil {
		return model.NIC{}, err
	}
	existing, err := model.NICFromValue(rec.Value)
	if err != nil {
		return model.NIC{}, err
	}
	req.MAC = mac
	return e.provision(req, &existing)
}

// provision runs spec §4.4's algorithm: rebuild the batch from scratch
// every attempt, commit, and classify any conflict by {bucket,key}
// until success or a terminal/bounded-retry error.
func (e *NICEngine) provision(req NICRequest, existing *model.NIC) (model.NIC, error) {
	if err := validateNICRequest(req); err != nil {
		return model.NIC{}, err
	}

	st := &provisionState{}
	maxRetries := 100
	macRetryLimit := 50
	if e.Config != nil {
		if e.Config.NicProvisionRetries > 0 {
			maxRetries = e.Config.NicProvisionRetries
		}
		if e.Config.MacRetries > 0 {
			macRetryLimit = e.Config.MacRetries
		}
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		var ops []store.BatchOp

		if st.selection == nil && wantsIP(req) {
			sel, network, err := e.selectIP(req, st)
			if apierror.Is(err, apierror.PoolFull) {
				return model.NIC{}, err
			}
			if err != nil {
				return model.NIC{}, err
			}
			st.selection = &sel
			st.network = network
		}
		if st.selection != nil {
			ops = append(ops, st.selection.Op)
		}

		var fabricCNs []string
		if st.selection != nil && st.network.Fabric {
			fabricCNs = e.vl2CNs(st.network.VnetID)
		}

		if existing != nil && wantsIP(req) {
			ops = append(ops, e.freeOldIPs(*existing, st.selection, fabricCNs)...)
		}

		mac, err := e.resolveMAC(req, st)
		if err != nil {
			return model.NIC{}, err
		}
		st.mac = mac

		nic := buildNIC(req, existing, mac, st.selection, st.network)

		var etag *string
		if existing != nil {
			current := existingEtag(e.Store, nic.Key())
			etag = &current
		}
		ops = append(ops, store.PutOp{Bucket: store.BucketNICs, Key: nic.Key(), Value: nic.ToValue(), Etag: etag})

		if nic.Primary {
			ops = append(ops, store.UpdateByFilterOp{
				Bucket: store.BucketNICs,
				Filter: store.And(store.Eq("belongs_to_uuid", nic.BelongsToUUID), store.Not(store.Eq("mac", nic.Key()))),
				Fields: map[string]interface{}{"primary": false},
			})
		}

		if nic.IsFabricVNIC() && st.selection != nil {
			for _, b := range []string{model.BucketVL3, model.BucketShootdown} {
				if err := e.Store.InitBucket(store.BucketDef{Name: b}); err != nil {
					return model.NIC{}, err
				}
			}
			ops = append(ops, overlayAddOps(st.network.VnetID, nic, fabricCNs)...)
		}
		if nic.Capabilities.Underlay && nic.CNUUID != "" {
			um := model.UnderlayMapping{CNUUID: nic.CNUUID, MAC: nic.Key()}
			ops = append(ops, store.PutOp{Bucket: model.BucketUnderlay, Key: nic.CNUUID, Value: um.ToValue(), Etag: nil})
		}
		if st.selection != nil && st.network.Fabric && !st.network.GatewayProvisioned &&
			st.network.Gateway != nil && st.selection.IP.Address.Equal(st.network.Gateway) {
			gwNet := st.network
			gwNet.GatewayProvisioned = true
			netRec, err := e.Store.Get(store.BucketNetworks, gwNet.UUID)
			if err == nil {
				ops = append(ops, store.PutOp{Bucket: store.BucketNetworks, Key: gwNet.UUID, Value: gwNet.ToValue(), Etag: &netRec.Etag})
			}
		}

		commitErr := e.Store.Batch(ops)
		if commitErr == nil {
			return nic, nil
		}

		aerr, ok := commitErr.(*apierror.Error)
		if !ok || aerr.Kind != apierror.EtagConflict {
			return model.NIC{}, commitErr
		}

		switch {
		case aerr.Bucket == store.BucketNICs:
			if req.MAC != "" {
				return model.NIC{}, apierror.Invalid([]apierror.Field{{
					Field: "mac", Code: apierror.CodeDuplicate, Message: "mac is already in use",
				}})
			}
			st.macRetries++
			if st.macRetries > macRetryLimit {
				return model.NIC{}, apierror.New(apierror.Unavailable, "exhausted %d MAC retries", macRetryLimit)
			}
			st.mac = 0
		case aerr.Bucket == store.BucketNetworks:
			// gateway_provisioned lost a race; nothing to retry, the next
			// attempt re-reads the network's current etag.
		default:
			// a conflict in any other bucket (the IP bucket, or an
			// overlay/underlay mapping): drop the selection and re-pick.
			st.selection = nil
		}
	}
	return model.NIC{}, apierror.New(apierror.Unavailable, "exhausted %d provisioning attempts", maxRetries)
}

func existingEtag(st store.Store, key string) string {
	rec, err := st.Get(store.BucketNICs, key)
	if err != nil {
		return ""
	}
	return rec.Etag
}

func wantsIP(req NICRequest) bool {
	return req.IP != nil || req.NetworkPoolUUID != "" || req.NetworkUUID != ""
}

// selectIP resolves which network is in play and runs one pass of the
// allocator (spec §4.4b), walking pool intersections on PoolFull.
func (e *NICEngine) selectIP(req NICRequest, st *provisionState) (IPSelection, model.Network, error) {
	params := IPParams{
		OwnerUUID: req.OwnerUUID, BelongsToUUID: req.BelongsToUUID,
		BelongsToType: req.BelongsToType, IP: req.IP,
	}
	scanLimit := 100
	if e.Config != nil && e.Config.GapSearchScanLimit > 0 {
		scanLimit = e.Config.GapSearchScanLimit
	}

	if req.NetworkPoolUUID != "" {
		pool, err := e.Pools.Get(req.NetworkPoolUUID)
		if err != nil {
			return IPSelection{}, model.Network{}, err
		}
		intersections := req.Intersections
		if len(intersections) == 0 {
			intersections = []Intersection{{}}
		}
		for st.intersectionIdx < len(intersections) {
			isect := intersections[st.intersectionIdx]
			members, err := e.Pools.Members(pool, &isect)
			if err != nil {
				return IPSelection{}, model.Network{}, err
			}
			sel, idx, err := SelectFromPool(e.Store, members, st.poolIndex, params, e.AdminUUID, scanLimit)
			if apierror.Is(err, apierror.PoolFull) {
				st.intersectionIdx++
				st.poolIndex = 0
				continue
			}
			if err != nil {
				return IPSelection{}, model.Network{}, err
			}
			st.poolIndex = idx
			return sel, members[idx], nil
		}
		return IPSelection{}, model.Network{}, apierror.New(apierror.PoolFull, "no intersection of pool %s has capacity", req.NetworkPoolUUID)
	}

	var network model.Network
	var err error
	if req.NetworkUUID != "" {
		network, err = e.Networks.Get(req.NetworkUUID)
	} else {
		network, err = e.Networks.FindContaining(req.VlanID, req.NicTag, req.VnetID, req.IP)
	}
	if err != nil {
		return IPSelection{}, model.Network{}, err
	}
	sel, err := SelectIP(e.Store, network, params, e.AdminUUID, scanLimit)
	return sel, network, err
}

// resolveMAC picks this attempt's MAC: the user-supplied value (fixed
// across retries), a candidate already drawn on a prior attempt, or a
// fresh random draw from the engine's OUI.
func (e *NICEngine) resolveMAC(req NICRequest, st *provisionState) (uint64, error) {
	if req.MAC != "" {
		return macmath.Parse(req.MAC)
	}
	if st.mac != 0 {
		return st.mac, nil
	}
	return macmath.Random(e.OUI)
}

func buildNIC(req NICRequest, existing *model.NIC, mac uint64, sel *IPSelection, network model.Network) model.NIC {
	nic := model.NIC{
		MAC: mac, OwnerUUID: req.OwnerUUID, BelongsToUUID: req.BelongsToUUID,
		BelongsToType: req.BelongsToType, State: req.State, Primary: req.Primary,
		Capabilities: req.Capabilities, CNUUID: req.CNUUID, NicTagsProvided: req.NicTagsProvided,
	}
	if nic.State == "" {
		nic.State = model.NICProvisioning
	}
	if existing != nil {
		nic.Model = existing.Model
	}
	if sel != nil {
		nic.NetworkUUID = network.UUID
		nic.Address = sel.IP.Address
	} else if existing != nil {
		// the request didn't touch ip/network_uuid/network_pool_uuid
		// (wantsIP was false): carry the prior association forward
		// instead of silently dropping it.
		nic.NetworkUUID = existing.NetworkUUID
		nic.Address = existing.Address
	}
	return nic
}

// vl2CNs returns the set of compute nodes currently hosting a VNIC on
// vnetID, read from the overlay VL2 table (spec §4.4c).
func (e *NICEngine) vl2CNs(vnetID int) []string {
	if err := e.Store.InitBucket(store.BucketDef{Name: model.BucketVL2, Indexed: []string{"vnet_id"}}); err != nil {
		return nil
	}
	recs, err := e.Store.Find(model.BucketVL2, store.Eq("vnet_id", float64(vnetID)), store.FindOptions{})
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, rec := range recs {
		m := model.VL2MappingFromValue(rec.Value)
		if m.CNUUID != "" && !seen[m.CNUUID] {
			seen[m.CNUUID] = true
			out = append(out, m.CNUUID)
		}
	}
	return out
}

// freeOldIPs reclaims addresses the prior NIC revision held that are no
// longer the chosen address, keeping the owner check and reservation
// flag the spec requires (§4.4d). The caller only invokes this when the
// request actually carries an ip/network_uuid/network_pool_uuid (so sel
// is always populated by the time this runs); a metadata-only Update
// that never touches those fields must never reach here, or it would
// free an address the NIC still holds.
func (e *NICEngine) freeOldIPs(old model.NIC, sel *IPSelection, cns []string) []store.BatchOp {
	if old.Address == nil {
		return nil
	}
	if sel != nil && old.Address.Equal(sel.IP.Address) {
		return nil
	}
	oldNet, err := e.Networks.Get(old.NetworkUUID)
	if err != nil {
		return nil
	}
	bucket := oldNet.IPBucket()
	key := old.Address.String()
	ipRec, err := e.Store.Get(bucket, key)
	if err != nil {
		return nil
	}
	ip, err := model.IPFromValue(ipRec.Value)
	if err != nil || ip.OwnerUUID != old.OwnerUUID {
		return nil
	}
	freed := ip.Unassigned()
	freedVal := freed.ToValue()
	freedVal[addressNumField] = addressNum(freed.Address)
	etag := ipRec.Etag
	ops := []store.BatchOp{store.PutOp{Bucket: bucket, Key: key, Value: freedVal, Etag: &etag}}

	if old.IsFabricVNIC() {
		ops = append(ops,
			store.DeleteOp{Bucket: model.BucketVL2, Key: (model.VL2Mapping{VnetID: oldNet.VnetID, MAC: old.Key()}).Key(), Etag: nil},
			store.DeleteOp{Bucket: model.BucketVL3, Key: (model.VL3Mapping{VnetID: oldNet.VnetID, Address: old.Address.String()}).Key(), Etag: nil},
		)
		for _, cn := range cns {
			ev := model.ShootdownEvent{VnetID: oldNet.VnetID, Kind: model.ShootdownInvalidate, MAC: old.Key(), Address: old.Address.String(), CNUUID: cn}
			ops = append(ops, store.PutOp{Bucket: model.BucketShootdown, Key: shootdownKey(ev), Value: ev.ToValue(), Etag: nil})
		}
	}
	return ops
}

// overlayAddOps appends the VL2/VL3 mappings and shootdown broadcast a
// new fabric VNIC requires (spec §4.4f/§4.9).
func overlayAddOps(vnetID int, nic model.NIC, cns []string) []store.BatchOp {
	vl2 := model.VL2Mapping{VnetID: vnetID, MAC: nic.Key(), CNUUID: nic.CNUUID}
	ops := []store.BatchOp{store.PutOp{Bucket: model.BucketVL2, Key: vl2.Key(), Value: vl2.ToValue(), Etag: nil}}
	if nic.Address != nil {
		vl3 := model.VL3Mapping{VnetID: vnetID, Address: nic.Address.String(), MAC: nic.Key(), CNUUID: nic.CNUUID}
		ops = append(ops, store.PutOp{Bucket: model.BucketVL3, Key: vl3.Key(), Value: vl3.ToValue(), Etag: nil})
	}
	for _, cn := range cns {
		ev := model.ShootdownEvent{VnetID: vnetID, Kind: model.ShootdownRouteUpdate, MAC: nic.Key(), CNUUID: cn}
		if nic.Address != nil {
			ev.Address = nic.Address.String()
		}
		ops = append(ops, store.PutOp{Bucket: model.BucketShootdown, Key: shootdownKey(ev), Value: ev.ToValue(), Etag: nil})
	}
	return ops
}

func shootdownKey(ev model.ShootdownEvent) string {
	return ev.MAC + "/" + ev.CNUUID + "/" + string(ev.Kind) + "/" + ev.Address
}

// Get fetches a NIC by its MAC key.
func (e *NICEngine) Get(mac string) (model.NIC, error) {
	rec, err := e.Store.Get(store.BucketNICs, mac)
	if err != nil {
		return model.NIC{}, err
	}
	return model.NICFromValue(rec.Value)
}

// List returns every NIC matching filter (store.All() for unfiltered).
func (e *NICEngine) List(filter store.Filter, opts store.FindOptions) ([]model.NIC, error) {
	if filter == nil {
		filter = store.All()
	}
	recs, err := e.Store.Find(store.BucketNICs, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.NIC, 0, len(recs))
	for _, rec := range recs {
		n, err := model.NICFromValue(rec.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Delete removes a NIC, reclaiming any address it held (spec §4.4
// Delete): unassign if the address was reserved, free otherwise.
func (e *NICEngine) Delete(mac string) error {
	rec, err := e.Store.Get(store.BucketNICs, mac)
	if err != nil {
		return err
	}
	nic, err := model.NICFromValue(rec.Value)
	if err != nil {
		return err
	}

	ops := []store.BatchOp{store.DeleteOp{Bucket: store.BucketNICs, Key: mac, Etag: &rec.Etag}}

	if nic.Address != nil && nic.NetworkUUID != "" {
		network, err := e.Networks.Get(nic.NetworkUUID)
		if err == nil {
			bucket := network.IPBucket()
			key := nic.Address.String()
			if ipRec, err := e.Store.Get(bucket, key); err == nil {
				if ip, err := model.IPFromValue(ipRec.Value); err == nil && ip.OwnerUUID == nic.OwnerUUID {
					etag := ipRec.Etag
					freedVal := ip.Unassigned().ToValue()
					freedVal[addressNumField] = addressNum(ip.Address)
					ops = append(ops, store.PutOp{Bucket: bucket, Key: key, Value: freedVal, Etag: &etag})
				}
			}
			if nic.IsFabricVNIC() {
				cns := e.vl2CNs(network.VnetID)
				ops = append(ops,
					store.DeleteOp{Bucket: model.BucketVL2, Key: (model.VL2Mapping{VnetID: network.VnetID, MAC: nic.Key()}).Key(), Etag: nil},
					store.DeleteOp{Bucket: model.BucketVL3, Key: (model.VL3Mapping{VnetID: network.VnetID, Address: key}).Key(), Etag: nil},
				)
				for _, cn := range cns {
					ev := model.ShootdownEvent{VnetID: network.VnetID, Kind: model.ShootdownInvalidate, MAC: nic.Key(), Address: key, CNUUID: cn}
					ops = append(ops, store.PutOp{Bucket: model.BucketShootdown, Key: shootdownKey(ev), Value: ev.ToValue(), Etag: nil})
				}
			}
		}
	}

	return e.Store.Batch(ops)
}
