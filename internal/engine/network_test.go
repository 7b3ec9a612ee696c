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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/ipmath"
	"vnapi.io/internal/model"
	"vnapi.io/internal/store"
)

func testNetwork(t *testing.T) model.Network {
	t.Helper()
	subnet, err := ipmath.ParseSubnet("10.99.99.0/24")
	require.NoError(t, err)
	return model.Network{
		UUID: "nw-1", Name: "prod", NicTag: "external", VlanID: 42,
		Subnet:         subnet,
		ProvisionStart: net.ParseIP("10.99.99.38"),
		ProvisionEnd:   net.ParseIP("10.99.99.253"),
		Gateway:        net.ParseIP("10.99.99.1"),
		Resolvers:      []net.IP{net.ParseIP("10.99.99.11")},
		Family:         ipmath.FamilyV4,
	}
}

func TestNetworkCreateSeedsBootstrapAddresses(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)

	created, err := eng.Create(n)
	require.NoError(t, err)

	for _, addr := range []string{"10.99.99.0", "10.99.99.1", "10.99.99.11", "10.99.99.255"} {
		rec, err := st.Get(created.IPBucket(), addr)
		require.NoError(t, err, "expected a seeded record at %s", addr)
		ip, err := model.IPFromValue(rec.Value)
		require.NoError(t, err)
		assert.True(t, ip.Reserved)
		assert.Equal(t, model.BelongsToOther, ip.BelongsToType)
	}

	_, err = st.Get(created.IPBucket(), "10.99.99.38")
	assert.True(t, apierror.Is(err, apierror.NotFound), "provisionable range starts untouched")
}

func TestNetworkCreateRejectsOverlap(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	_, err := eng.Create(n)
	require.NoError(t, err)

	overlap := testNetwork(t)
	overlap.UUID = "nw-2"
	overlap.Subnet, err = ipmath.ParseSubnet("10.99.99.128/25")
	require.NoError(t, err)
	overlap.ProvisionStart = net.ParseIP("10.99.99.130")
	overlap.ProvisionEnd = net.ParseIP("10.99.99.200")
	overlap.Gateway = nil
	overlap.Resolvers = nil

	_, err = eng.Create(overlap)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))
}

func TestNetworkCreateRejectsProvisionRangeOutsideSubnet(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	n.ProvisionEnd = net.ParseIP("10.99.100.10")

	_, err := eng.Create(n)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))
}

func TestNetworkUpdateRejectsNothingButAppliesMutableFields(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	_, err := eng.Create(n)
	require.NoError(t, err)

	newMTU := 9000
	updated, err := eng.Update(n.UUID, NetworkUpdate{MTU: &newMTU})
	require.NoError(t, err)
	assert.Equal(t, 9000, updated.MTU)

	fetched, err := eng.Get(n.UUID)
	require.NoError(t, err)
	assert.Equal(t, 9000, fetched.MTU)
}

func TestNetworkDeleteRefusesWhenAddressAssigned(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	created, err := eng.Create(n)
	require.NoError(t, err)

	ip := model.IP{Address: net.ParseIP("10.99.99.38"), BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer, OwnerUUID: "owner-1"}
	_, err = st.Put(created.IPBucket(), ip.Key(), ip.ToValue(), nil)
	require.NoError(t, err)

	err = eng.Delete(n.UUID)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InUse))
}

func TestNetworkDeleteRefusesWhenPoolReferencesIt(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	created, err := eng.Create(n)
	require.NoError(t, err)

	require.NoError(t, st.InitBucket(poolBucketDef()))
	pool := model.NetworkPool{UUID: "pool-1", NicTag: "external", Networks: []string{created.UUID}}
	_, err = st.Put(store.BucketNetworkPools, pool.UUID, pool.ToValue(), nil)
	require.NoError(t, err)

	err = eng.Delete(n.UUID)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InUse))
}

func TestNetworkDeleteSucceedsWhenUnreferenced(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	_, err := eng.Create(n)
	require.NoError(t, err)

	require.NoError(t, eng.Delete(n.UUID))
	_, err = eng.Get(n.UUID)
	assert.True(t, apierror.Is(err, apierror.NotFound))
}

func TestFindContainingLocatesNetworkByAddress(t *testing.T) {
	st := store.NewMemStore()
	eng := &NetworkEngine{Store: st}
	n := testNetwork(t)
	_, err := eng.Create(n)
	require.NoError(t, err)

	found, err := eng.FindContaining(42, "external", 0, net.ParseIP("10.99.99.38"))
	require.NoError(t, err)
	assert.Equal(t, n.UUID, found.UUID)

	_, err = eng.FindContaining(42, "external", 0, net.ParseIP("192.0.2.1"))
	assert.True(t, apierror.Is(err, apierror.NotFound))
}
