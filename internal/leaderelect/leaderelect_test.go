// Copyright 2020 Acnodal Inc.
//
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

package leaderelect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var nodes = []string{"test-node0", "test-node1", "test-node2"}

func TestRankIsDeterministicPerKey(t *testing.T) {
	assert.Equal(t, "test-node1", rank("bucket-napi_nics-v2", nodes)[0])
	assert.Equal(t, rank("bucket-napi_nics-v2", nodes), rank("bucket-napi_nics-v2", nodes))
}

func TestRankVariesByKey(t *testing.T) {
	a := rank("epoch-1", nodes)[0]
	b := rank("epoch-2", nodes)[0]
	c := rank("epoch-3", nodes)[0]
	seen := map[string]bool{a: true, b: true, c: true}
	assert.True(t, len(seen) >= 2, "expected the winner to vary across different epochs")
}
