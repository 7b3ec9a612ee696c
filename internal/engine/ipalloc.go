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

// Package engine implements the provisioning engine (spec.md §4.3–§4.9):
// IP allocation, NIC provisioning's retry state machine, network/pool
// CRUD, and overlay propagation, all coordinated through the store's
// batch primitive.
package engine

import (
	"net"

	"vnapi.io/internal/apierror"
	"vnapi.io/internal/ipmath"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
)

// addressNumField mirrors an IP's address as a sortable number so the
// §4.3 step-3 fallback scan (released-but-recorded addresses, sorted
// ascending) can run through Find instead of a full bucket scan. Values
// beyond 2^53 lose exact ordering precision, and values of 2^64 or more
// keep only their low 64 bits, so for most IPv6 addresses the number
// does not preserve address order; GapSearch, not this fallback, is what
// the bulk of IPv4/IPv6 provisioning actually exercises.
const addressNumField = "address_num"
const belongsToUUIDField = "belongs_to_uuid"
const reservedField = "reserved"

func addressNum(ip net.IP) float64 {
	n := ipmath.ToInt(ip)
	if n.IsInt64() {
		return float64(n.Int64())
	}
	return float64(n.Uint64())
}

// IPParams is the caller-supplied input to IP selection (spec §4.3).
type IPParams struct {
	OwnerUUID      string
	BelongsToUUID  string
	BelongsToType  model.BelongsToType
	Reserved       bool
	IP             net.IP // nil selects the next free address
	SkipOwnerCheck bool
}

// IPSelection is a chosen address together with the batch operation
// that persists it.
type IPSelection struct {
	IP model.IP
	Op store.PutOp
}

// SelectIP runs one pass of spec §4.3's allocation algorithm: owner
// check, explicit-IP path, or next-free path. The caller (the NIC
// provisioning engine) re-invokes this on an EtagConflict targeting the
// IP bucket, up to its own bounded retry count — SelectIP itself does
// not loop.
func SelectIP(st store.Store, network model.Network, params IPParams, adminUUID string, scanLimit int) (IPSelection, error) {
	if !network.OwnerAllowed(params.OwnerUUID, adminUUID, !params.SkipOwnerCheck) {
		return IPSelection{}, apierror.Invalid([]apierror.Field{{
			Field: "owner_uuid", Code: apierror.CodeInvalid,
			Message: "owner_uuid is not permitted on this network",
		}})
	}

	bucket := network.IPBucket()

	if params.IP != nil {
		return selectExplicit(st, bucket, network, params)
	}
	return selectNextFree(st, bucket, network, params, scanLimit)
}

func selectExplicit(st store.Store, bucket string, network model.Network, params IPParams) (IPSelection, error) {
	if !network.Subnet.Contains(params.IP) {
		return IPSelection{}, apierror.Invalid([]apierror.Field{{
			Field: "ip", Code: apierror.CodeInvalid, Message: "ip is not within the network's subnet",
		}})
	}

	key := ipmath.Format(params.IP)
	rec, err := st.Get(bucket, key)
	if apierror.Is(err, apierror.NotFound) {
		return buildSelection(bucket, params, params.IP, nil), nil
	}
	if err != nil {
		return IPSelection{}, err
	}

	existing, err := model.IPFromValue(rec.Value)
	if err != nil {
		return IPSelection{}, err
	}

	provisionable := existing.Free() ||
		(existing.Assigned() && existing.BelongsToType == model.BelongsToOther)
	if !provisionable {
		return IPSelection{}, apierror.UsedBy("ip", map[string]interface{}{
			"belongs_to_uuid": existing.BelongsToUUID,
			"belongs_to_type": string(existing.BelongsToType),
			"owner_uuid":      existing.OwnerUUID,
		})
	}

	etag := rec.Etag
	return buildSelection(bucket, params, params.IP, &etag), nil
}

func selectNextFree(st store.Store, bucket string, network model.Network, params IPParams, scanLimit int) (IPSelection, error) {
	if addr, ok, err := st.GapSearch(bucket, network.ProvisionStart, network.ProvisionEnd); err != nil {
		return IPSelection{}, err
	} else if ok {
		return buildSelection(bucket, params, addr, nil), nil
	}

	if scanLimit <= 0 {
		scanLimit = 100
	}
	recs, err := st.Find(bucket, store.And(
		store.Ge(addressNumField, addressNum(network.ProvisionStart)),
		store.Le(addressNumField, addressNum(network.ProvisionEnd)),
		store.Not(store.Present(belongsToUUIDField)),
		store.Eq(reservedField, false),
	), store.FindOptions{Sort: addressNumField, Limit: scanLimit})
	if err != nil {
		return IPSelection{}, err
	}
	if len(recs) == 0 {
		return IPSelection{}, apierror.New(apierror.SubnetFull, "no address available in network %s", network.UUID)
	}

	rec := recs[0]
	existing, err := model.IPFromValue(rec.Value)
	if err != nil {
		return IPSelection{}, err
	}
	etag := rec.Etag
	return buildSelection(bucket, params, existing.Address, &etag), nil
}

func buildSelection(bucket string, params IPParams, addr net.IP, etag *string) IPSelection {
	ip := model.IP{
		Address: addr, Reserved: params.Reserved,
		BelongsToUUID: params.BelongsToUUID, BelongsToType: params.BelongsToType,
		OwnerUUID: params.OwnerUUID,
	}
	value := ip.ToValue()
	value[addressNumField] = addressNum(addr)
	return IPSelection{
		IP: ip,
		Op: store.PutOp{Bucket: bucket, Key: ip.Key(), Value: value, Etag: etag},
	}
}
