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

package validate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vnapi.io/internal/apierror"
)

func nonEmptyString(field string, raw interface{}) (Result, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return Result{}, fmt.Errorf("must be a non-empty string")
	}
	return Result{}, nil
}

func TestMissingRequiredField(t *testing.T) {
	schema := Schema{Required: map[string]Validator{"owner_uuid": nonEmptyString}}
	_, err := schema.Validate(Params{})
	require.Error(t, err)
	ae, ok := err.(*apierror.Error)
	require.True(t, ok)
	assert.Equal(t, apierror.InvalidParams, ae.Kind)
	assert.Equal(t, "owner_uuid", ae.Fields[0].Field)
	assert.Equal(t, apierror.CodeMissing, ae.Fields[0].Code)
}

func TestStrictRejectsUnknownField(t *testing.T) {
	schema := Schema{Required: map[string]Validator{"a": nonEmptyString}, Strict: true}
	_, err := schema.Validate(Params{"a": "x", "b": "y"})
	require.Error(t, err)
	ae := err.(*apierror.Error)
	assert.Equal(t, "b", ae.Fields[0].Field)
}

func TestFieldErrorsAreSorted(t *testing.T) {
	schema := Schema{Required: map[string]Validator{
		"zeta":  nonEmptyString,
		"alpha": nonEmptyString,
	}}
	_, err := schema.Validate(Params{"zeta": "", "alpha": ""})
	require.Error(t, err)
	ae := err.(*apierror.Error)
	require.Len(t, ae.Fields, 2)
	assert.Equal(t, "alpha", ae.Fields[0].Field)
	assert.Equal(t, "zeta", ae.Fields[1].Field)
}

func TestValidatorCanExpandFields(t *testing.T) {
	resolver := func(field string, raw interface{}) (Result, error) {
		return Result{Extra: map[string]interface{}{"resolved": raw.(string) + "!"}}, nil
	}
	schema := Schema{Required: map[string]Validator{"network_uuid": resolver}}
	parsed, err := schema.Validate(Params{"network_uuid": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc!", parsed["resolved"])
}

func TestAfterHookRunsOnlyWithoutHardErrors(t *testing.T) {
	called := false
	schema := Schema{
		Required: map[string]Validator{"a": nonEmptyString},
		After: []AfterHook{func(p Params) error {
			called = true
			return nil
		}},
	}
	_, err := schema.Validate(Params{})
	require.Error(t, err)
	assert.False(t, called)

	_, err = schema.Validate(Params{"a": "x"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAfterHookCanReturnOtherKinds(t *testing.T) {
	schema := Schema{After: []AfterHook{func(p Params) error {
		return apierror.NotFoundf("napi_networks", "missing-uuid")
	}}}
	_, err := schema.Validate(Params{})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.NotFound))
}
