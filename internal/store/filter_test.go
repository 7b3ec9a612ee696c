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

package store

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqMatches(t *testing.T) {
	f := Eq("belongs_to_uuid", "tenant-1")
	assert.True(t, f.eval(map[string]interface{}{"belongs_to_uuid": "tenant-1"}))
	assert.False(t, f.eval(map[string]interface{}{"belongs_to_uuid": "tenant-2"}))
	assert.False(t, f.eval(map[string]interface{}{}))
}

func TestAndOrNot(t *testing.T) {
	doc := map[string]interface{}{"reserved": float64(0), "free": true}
	f := And(Eq("reserved", float64(0)), Not(Eq("free", false)))
	assert.True(t, f.eval(doc))

	f2 := Or(Eq("reserved", float64(1)), Eq("free", true))
	assert.True(t, f2.eval(doc))

	assert.False(t, All().eval(map[string]interface{}{}) == false)
}

func TestPresent(t *testing.T) {
	f := Present("nic_uuid")
	assert.True(t, f.eval(map[string]interface{}{"nic_uuid": "x"}))
	assert.False(t, f.eval(map[string]interface{}{"nic_uuid": nil}))
	assert.False(t, f.eval(map[string]interface{}{}))
}

func TestComparisons(t *testing.T) {
	doc := map[string]interface{}{"address_num": float64(100)}
	assert.True(t, Ge("address_num", float64(100)).eval(doc))
	assert.True(t, Ge("address_num", float64(99)).eval(doc))
	assert.False(t, Gt("address_num", float64(100)).eval(doc))
	assert.True(t, Le("address_num", float64(100)).eval(doc))
	assert.True(t, Lt("address_num", float64(101)).eval(doc))
}

func TestFieldsEnumeratesReferencedNames(t *testing.T) {
	f := And(Eq("a", 1), Or(Present("b"), Lt("c", 2)))
	names := Fields(f)
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
