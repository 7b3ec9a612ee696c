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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/ipmath"
	"vnapi.io/internal/macmath"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
)

func testNICEngine(t *testing.T) (*NICEngine, *NetworkEngine) {
	t.Helper()
	st := store.NewMemStore()
	netEng := &NetworkEngine{Store: st}
	poolEng := &PoolEngine{Store: st, Networks: netEng}
	oui, err := macmath.ParseOUI("90:b8:d0")
	require.NoError(t, err)
	nicEng := &NICEngine{Store: st, Networks: netEng, Pools: poolEng, OUI: oui, AdminUUID: "admin"}
	return nicEng, netEng
}

func TestNICCreateAllocatesAddressAndMAC(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID,
	})
	require.NoError(t, err)
	assert.True(t, nic.Address.Equal(ipOf(t, "10.99.99.38")))
	assert.NotZero(t, nic.MAC)

	back, err := nicEng.Get(nic.Key())
	require.NoError(t, err)
	assert.Equal(t, nic.MAC, back.MAC)
}

func TestNICCreateExplicitMACConflictIsDuplicateMAC(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	_, err = nicEng.Create(NICRequest{
		MAC: "90:b8:d0:00:00:01", OwnerUUID: "owner-1", BelongsToUUID: "srv-1",
		BelongsToType: model.BelongsToServer, NetworkUUID: n.UUID,
	})
	require.NoError(t, err)

	_, err = nicEng.Create(NICRequest{
		MAC: "90:b8:d0:00:00:01", OwnerUUID: "owner-1", BelongsToUUID: "srv-2",
		BelongsToType: model.BelongsToServer, NetworkUUID: n.UUID,
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))
}

func TestNICCreatePrimaryClearsOtherNICsOnSameServer(t *testing.T) {
	nicEng, _ := testNICEngine(t)

	first, err := nicEng.Create(NICRequest{
		MAC: "90:b8:d0:00:00:01", OwnerUUID: "owner-1", BelongsToUUID: "srv-1",
		BelongsToType: model.BelongsToServer, Primary: true,
	})
	require.NoError(t, err)
	assert.True(t, first.Primary)

	_, err = nicEng.Create(NICRequest{
		MAC: "90:b8:d0:00:00:02", OwnerUUID: "owner-1", BelongsToUUID: "srv-1",
		BelongsToType: model.BelongsToServer, Primary: true,
	})
	require.NoError(t, err)

	reloaded, err := nicEng.Get(first.Key())
	require.NoError(t, err)
	assert.False(t, reloaded.Primary, "creating a new primary NIC must clear the old one")
}

func TestNICDeleteFreesAddress(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	created, err := netEng.Create(n)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID,
	})
	require.NoError(t, err)

	require.NoError(t, nicEng.Delete(nic.Key()))

	_, err = nicEng.Get(nic.Key())
	assert.True(t, apierror.Is(err, apierror.NotFound))

	ip, err := nicEng.Store.Get(created.IPBucket(), nic.Address.String())
	require.NoError(t, err)
	freed, err := model.IPFromValue(ip.Value)
	require.NoError(t, err)
	assert.False(t, freed.Assigned())
}

func ipOf(t *testing.T, s string) net.IP {
	t.Helper()
	ip, err := ipmath.ParseIP(s)
	require.NoError(t, err)
	return ip
}

// TestNICCreateExplicitUsedAddressIsUsedBy covers spec.md §8 scenario 4:
// requesting an address another NIC already holds reports UsedBy with
// the current holder, not a bare conflict.
func TestNICCreateExplicitUsedAddressIsUsedBy(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	_, err = nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID, IP: ipOf(t, "10.99.99.38"),
	})
	require.NoError(t, err)

	_, err = nicEng.Create(NICRequest{
		OwnerUUID: "owner-2", BelongsToUUID: "srv-2", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID, IP: ipOf(t, "10.99.99.38"),
	})
	require.Error(t, err)
	aerr, ok := err.(*apierror.Error)
	require.True(t, ok)
	assert.Equal(t, apierror.InvalidParams, aerr.Kind)
	require.Len(t, aerr.Fields, 1)
	assert.Equal(t, apierror.CodeUsedBy, aerr.Fields[0].Code)
	assert.Equal(t, "srv-1", aerr.Fields[0].Extra["belongs_to_uuid"])
}

// TestNICCreateTakesOverBootstrapAddress covers the flip side of the
// same path: a bootstrap (belongs_to_type=other) record such as the
// gateway is provisionable, not UsedBy.
func TestNICCreateTakesOverBootstrapAddress(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID, IP: ipOf(t, "10.99.99.1"),
	})
	require.NoError(t, err)
	assert.True(t, nic.Address.Equal(ipOf(t, "10.99.99.1")))
}

// TestNICCreateExhaustsSubnetFull covers spec.md §8's "(N+1)-th fails
// SubnetFull" property on a network whose provisionable range holds
// exactly one address.
func TestNICCreateExhaustsSubnetFull(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	n.ProvisionStart = ipOf(t, "10.99.99.38")
	n.ProvisionEnd = ipOf(t, "10.99.99.38")
	_, err := netEng.Create(n)
	require.NoError(t, err)

	_, err = nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID,
	})
	require.NoError(t, err)

	_, err = nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-2", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID,
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.SubnetFull))
}

// TestNICCreateConcurrentAllocatesDistinctAddresses covers spec.md §8's
// concurrent-provisioning property: K simultaneous requests against a
// network with capacity K all succeed, with K distinct addresses.
func TestNICCreateConcurrentAllocatesDistinctAddresses(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	const k = 8
	var wg sync.WaitGroup
	addrs := make(chan string, k)
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nic, err := nicEng.Create(NICRequest{
				OwnerUUID: "owner-1", BelongsToUUID: "srv", BelongsToType: model.BelongsToServer,
				NetworkUUID: n.UUID,
			})
			if err != nil {
				errs <- err
				return
			}
			addrs <- nic.Address.String()
		}(i)
	}
	wg.Wait()
	close(addrs)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for a := range addrs {
		assert.False(t, seen[a], "address %s allocated twice", a)
		seen[a] = true
	}
	assert.Len(t, seen, k)
}

// TestNICUpdateReclaimsOldAddress covers Update's old-IP reclamation
// (spec §4.4d): moving a NIC to a new network frees its prior address
// back to a free record.
func TestNICUpdateReclaimsOldAddress(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	created, err := netEng.Create(n)
	require.NoError(t, err)

	second := testNetwork(t)
	second.UUID = "nw-2"
	second.NicTag = "internal"
	second.Subnet, err = ipmath.ParseSubnet("10.88.88.0/24")
	require.NoError(t, err)
	second.ProvisionStart = net.ParseIP("10.88.88.38")
	second.ProvisionEnd = net.ParseIP("10.88.88.253")
	second.Gateway = nil
	second.Resolvers = nil
	_, err = netEng.Create(second)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		MAC: "90:b8:d0:00:01:00", OwnerUUID: "owner-1", BelongsToUUID: "srv-1",
		BelongsToType: model.BelongsToServer, NetworkUUID: n.UUID,
	})
	require.NoError(t, err)
	oldAddr := nic.Address.String()

	updated, err := nicEng.Update(nic.Key(), NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: second.UUID,
	})
	require.NoError(t, err)
	assert.True(t, updated.Address.Equal(ipOf(t, "10.88.88.38")))

	rec, err := nicEng.Store.Get(created.IPBucket(), oldAddr)
	require.NoError(t, err)
	freed, err := model.IPFromValue(rec.Value)
	require.NoError(t, err)
	assert.False(t, freed.Assigned(), "old address must be freed after the NIC moves networks")
}

// TestNICUpdateMetadataOnlyKeepsAddress covers spec §4.4's "Update is
// Create minus MAC selection plus old-IP reclamation": an Update that
// supplies no ip/network_uuid/network_pool_uuid (e.g. flipping State
// from provisioning to running) must neither wipe the NIC's existing
// network/address fields nor free its current address back to the pool.
func TestNICUpdateMetadataOnlyKeepsAddress(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	created, err := netEng.Create(n)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		MAC: "90:b8:d0:00:02:00", OwnerUUID: "owner-1", BelongsToUUID: "srv-1",
		BelongsToType: model.BelongsToServer, NetworkUUID: n.UUID,
	})
	require.NoError(t, err)
	addr := nic.Address.String()

	updated, err := nicEng.Update(nic.Key(), NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		State: model.NICRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, model.NICRunning, updated.State)
	require.NotNil(t, updated.Address, "a metadata-only update must not drop the NIC's address")
	assert.True(t, updated.Address.Equal(ipOf(t, addr)))
	assert.Equal(t, n.UUID, updated.NetworkUUID)

	rec, err := nicEng.Store.Get(created.IPBucket(), addr)
	require.NoError(t, err)
	ip, err := model.IPFromValue(rec.Value)
	require.NoError(t, err)
	assert.True(t, ip.Assigned(), "a metadata-only update must not free the NIC's current address")
	assert.Equal(t, "srv-1", ip.BelongsToUUID)
}

// TestNICCreateFabricVNICWritesOverlayMappingsInSameBatch covers spec.md
// §8 scenario 6: a zone-type NIC on a fabric network with a cn_uuid
// produces one VL2 mapping and one VL3 mapping, committed alongside the
// NIC/IP writes.
func TestNICCreateFabricVNICWritesOverlayMappingsInSameBatch(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	n.Fabric = true
	n.VnetID = 4242
	_, err := netEng.Create(n)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "zone-1", BelongsToType: model.BelongsToZone,
		NetworkUUID: n.UUID, CNUUID: "cn-1",
	})
	require.NoError(t, err)
	require.True(t, nic.IsFabricVNIC())

	vl2Key := (model.VL2Mapping{VnetID: n.VnetID, MAC: nic.Key()}).Key()
	rec, err := nicEng.Store.Get(model.BucketVL2, vl2Key)
	require.NoError(t, err)
	vl2 := model.VL2MappingFromValue(rec.Value)
	assert.Equal(t, "cn-1", vl2.CNUUID)

	vl3Key := (model.VL3Mapping{VnetID: n.VnetID, Address: nic.Address.String()}).Key()
	rec, err = nicEng.Store.Get(model.BucketVL3, vl3Key)
	require.NoError(t, err)
	vl3 := model.VL3MappingFromValue(rec.Value)
	assert.Equal(t, "cn-1", vl3.CNUUID)
	assert.Equal(t, nic.Key(), vl3.MAC)
}
