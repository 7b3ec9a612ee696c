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
	"vnapi.io/internal/apierror"
	"vnapi.io/internal/validate"
)

// requiredNonEmptyString is the shared single-field validator for the
// handful of "must be a non-empty string" fields spread across the
// model engines (nic_tag, owner_uuid, belongs_to_uuid, ...). Pairing it
// with a Required entry and simply omitting the key from Params when
// the Go-level value is "" gives CodeMissing on absence and lets this
// validator reject a present-but-blank value with CodeInvalid.
func requiredNonEmptyString(field string, raw interface{}) (validate.Result, error) {
	s, _ := raw.(string)
	if s == "" {
		return validate.Result{}, apierror.New(apierror.InvalidParams, field+" must not be empty")
	}
	return validate.Result{}, nil
}

// noValidation is a placeholder Validator for a Required/Optional field
// whose only contract is "present" (or whose shape check genuinely needs
// another field and therefore belongs in an After hook instead).
func noValidation(field string, raw interface{}) (validate.Result, error) {
	return validate.Result{}, nil
}
