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

// Package validate implements the declarative schema validator described
// in spec §4.2: required/optional/strict field sets, per-field validators
// that may rewrite or expand a field, cross-field "after" hooks, and
// aggregated, field-sorted error reporting.
package validate

import (
	"sort"
	"sync"

	"vnapi.io/internal/apierror"
)

// Params is both the raw input to a Schema and the parsed output it
// produces. A Validator may add keys beyond the field it was registered
// for (e.g. a "network_uuid" validator also resolving a "network" key to
// the looked-up Network object).
type Params map[string]interface{}

// Result is what a Validator hands back for the field it was invoked on.
type Result struct {
	// Value is the normalized value to store under the field's own key.
	// If nil, the original raw value is kept as-is.
	Value interface{}
	// Extra holds additional keys to merge into the parsed output, used
	// by validators that expand one field into several (spec §4.2).
	Extra map[string]interface{}
}

// Validator normalizes or validates a single field's raw value.
type Validator func(field string, raw interface{}) (Result, error)

// AfterHook runs once all per-field validators have succeeded. It may
// return any *apierror.Error kind (not just InvalidParams) — e.g. a hook
// resolving an owner reference can fail with NotFound.
type AfterHook func(parsed Params) error

// Schema is a declarative validation contract for one operation's input.
type Schema struct {
	Required map[string]Validator
	Optional map[string]Validator
	// Strict rejects any input key not named in Required or Optional.
	Strict bool
	After  []AfterHook
}

type fieldOutcome struct {
	field string
	res   Result
	err   error
}

// Validate runs the schema against raw input and returns the parsed,
// normalized Params, or an *apierror.Error (always InvalidParams unless
// an After hook returns something else).
func (s Schema) Validate(input Params) (Params, error) {
	var fieldErrs []apierror.Field

	if s.Strict {
		for k := range input {
			if _, ok := s.Required[k]; ok {
				continue
			}
			if _, ok := s.Optional[k]; ok {
				continue
			}
			fieldErrs = append(fieldErrs, apierror.Field{
				Field: k, Code: apierror.CodeInvalid, Message: "unknown field " + k,
			})
		}
	}

	for field := range s.Required {
		if _, present := input[field]; !present {
			fieldErrs = append(fieldErrs, apierror.Field{
				Field: field, Code: apierror.CodeMissing, Message: field + " is required",
			})
		}
	}

	type job struct {
		field string
		v     Validator
	}
	var jobs []job
	for field, v := range s.Required {
		if _, present := input[field]; present && v != nil {
			jobs = append(jobs, job{field, v})
		}
	}
	for field, v := range s.Optional {
		if _, present := input[field]; present && v != nil {
			jobs = append(jobs, job{field, v})
		}
	}

	outcomes := make([]fieldOutcome, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, j := range jobs {
		i, j := i, j
		go func() {
			defer wg.Done()
			res, err := j.v(j.field, input[j.field])
			outcomes[i] = fieldOutcome{field: j.field, res: res, err: err}
		}()
	}
	wg.Wait()

	parsed := Params{}
	for k, v := range input {
		parsed[k] = v
	}
	for _, o := range outcomes {
		if o.err != nil {
			fieldErrs = append(fieldErrs, toField(o.field, o.err))
			continue
		}
		if o.res.Value != nil {
			parsed[o.field] = o.res.Value
		}
		for k, v := range o.res.Extra {
			parsed[k] = v
		}
	}

	if len(fieldErrs) > 0 {
		sort.Slice(fieldErrs, func(i, j int) bool { return fieldErrs[i].Field < fieldErrs[j].Field })
		return nil, apierror.Invalid(fieldErrs)
	}

	for _, hook := range s.After {
		if err := hook(parsed); err != nil {
			return nil, err
		}
	}

	return parsed, nil
}

// toField converts a Validator's plain error into an aggregated field
// entry, preserving a *apierror.Error's own fields if it produced one.
func toField(field string, err error) apierror.Field {
	if ae, ok := err.(*apierror.Error); ok && len(ae.Fields) > 0 {
		f := ae.Fields[0]
		if f.Field == "" {
			f.Field = field
		}
		return f
	}
	return apierror.Field{Field: field, Code: apierror.CodeInvalid, Message: err.Error()}
}
