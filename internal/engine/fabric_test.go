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
	"vnapi.io/internal/store"
)

func TestFabricCreateRejectsDuplicateOwner(t *testing.T) {
	st := store.NewMemStore()
	eng := &FabricEngine{Store: st}

	_, err := eng.Create(model.Fabric{OwnerUUID: "owner-1", VnetID: 100})
	require.NoError(t, err)

	_, err = eng.Create(model.Fabric{OwnerUUID: "owner-1", VnetID: 200})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))
}

func TestFabricAddVPCRejectsDuplicateVPCUUID(t *testing.T) {
	st := store.NewMemStore()
	eng := &FabricEngine{Store: st}
	_, err := eng.Create(model.Fabric{OwnerUUID: "owner-1", VnetID: 100})
	require.NoError(t, err)

	_, err = eng.AddVPC("owner-1", model.VPC{VPCUUID: "vpc-1", IP4CIDR: "10.1.0.0/16", Quota: 10})
	require.NoError(t, err)

	_, err = eng.AddVPC("owner-1", model.VPC{VPCUUID: "vpc-1", IP4CIDR: "10.2.0.0/16", Quota: 5})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))
}

func TestFabricDeleteRefusedWhileVLANReferences(t *testing.T) {
	st := store.NewMemStore()
	eng := &FabricEngine{Store: st}
	_, err := eng.Create(model.Fabric{OwnerUUID: "owner-1", VnetID: 100})
	require.NoError(t, err)

	_, err = eng.CreateVLAN(model.FabricVLAN{ScopeUUID: "owner-1", VlanID: 10, Name: "prod", VnetID: 100})
	require.NoError(t, err)

	err = eng.Delete("owner-1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InUse))
}

func TestFabricVLANUniqueUnderScope(t *testing.T) {
	st := store.NewMemStore()
	eng := &FabricEngine{Store: st}

	_, err := eng.CreateVLAN(model.FabricVLAN{ScopeUUID: "owner-1", VlanID: 10, Name: "prod", VnetID: 100})
	require.NoError(t, err)

	_, err = eng.CreateVLAN(model.FabricVLAN{ScopeUUID: "owner-1", VlanID: 10, Name: "dup", VnetID: 200})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.InvalidParams))

	updated, err := eng.UpdateVLAN("owner-1", 10, "renamed", 150)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 150, updated.VnetID)

	vlans, err := eng.ListVLANs("owner-1", store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, vlans, 1)

	require.NoError(t, eng.DeleteVLAN("owner-1", 10))
	_, err = eng.GetVLAN("owner-1", 10)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.NotFound))
}
