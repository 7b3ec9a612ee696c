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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/model"
)

func TestAggregationCreateRejectsNonServerMember(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	nic, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "zone-1", BelongsToType: model.BelongsToZone,
		NetworkUUID: n.UUID,
	})
	require.NoError(t, err)

	aggEng := &AggregationEngine{Store: nicEng.Store}
	_, err = aggEng.Create(model.Aggregation{
		BelongsToUUID: "zone-1", Name: "bond0", MACs: []string{nic.Key()},
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))
}

func TestAggregationCreateAndUpdate(t *testing.T) {
	nicEng, netEng := testNICEngine(t)
	n := testNetwork(t)
	_, err := netEng.Create(n)
	require.NoError(t, err)

	nicA, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID,
	})
	require.NoError(t, err)
	nicB, err := nicEng.Create(NICRequest{
		OwnerUUID: "owner-1", BelongsToUUID: "srv-1", BelongsToType: model.BelongsToServer,
		NetworkUUID: n.UUID,
	})
	require.NoError(t, err)

	aggEng := &AggregationEngine{Store: nicEng.Store}
	agg, err := aggEng.Create(model.Aggregation{
		BelongsToUUID: "srv-1", Name: "bond0", MACs: []string{nicA.Key()}, LACPMode: model.LACPActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1-bond0", agg.ID())

	updated, err := aggEng.Update("srv-1", "bond0", AggregationUpdate{MACs: []string{nicA.Key(), nicB.Key()}})
	require.NoError(t, err)
	assert.Len(t, updated.MACs, 2)

	require.NoError(t, aggEng.Delete("srv-1", "bond0"))
	_, err = aggEng.Get("srv-1", "bond0")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.NotFound))
}
