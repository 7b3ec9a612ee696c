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

import "fmt"

// Filter is an LDAP-shape boolean tree over a bucket's indexed fields
// (spec §4.1). No general-purpose LDAP library in the retrieved pack
// implements this against an arbitrary document shape, so it is a small
// hand-rolled AST matching exactly the operators the core needs.
type Filter interface {
	eval(doc map[string]interface{}) bool
	fields(out map[string]struct{})
}

// Fields returns the set of field names referenced anywhere in f, so a
// store implementation can reject queries over unindexed fields.
func Fields(f Filter) []string {
	set := map[string]struct{}{}
	f.fields(set)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

type andFilter struct{ terms []Filter }
type orFilter struct{ terms []Filter }
type notFilter struct{ term Filter }
type eqFilter struct {
	field string
	value interface{}
}
type presentFilter struct{ field string }
type cmpFilter struct {
	field string
	value interface{}
	op    cmpOp
}

type cmpOp int

const (
	opGe cmpOp = iota
	opLe
	opGt
	opLt
)

// And matches when every term matches.
func And(terms ...Filter) Filter { return andFilter{terms} }

// Or matches when any term matches.
func Or(terms ...Filter) Filter { return orFilter{terms} }

// Not negates term.
func Not(term Filter) Filter { return notFilter{term} }

// Eq matches when field equals value.
func Eq(field string, value interface{}) Filter { return eqFilter{field, value} }

// Present matches when field is set on the document at all.
func Present(field string) Filter { return presentFilter{field} }

// Ge matches when field >= value (numeric or string ordering per type).
func Ge(field string, value interface{}) Filter { return cmpFilter{field, value, opGe} }

// Le matches when field <= value.
func Le(field string, value interface{}) Filter { return cmpFilter{field, value, opLe} }

// Gt matches when field > value.
func Gt(field string, value interface{}) Filter { return cmpFilter{field, value, opGt} }

// Lt matches when field < value.
func Lt(field string, value interface{}) Filter { return cmpFilter{field, value, opLt} }

// All matches every document; used when a Find call wants no filtering.
func All() Filter { return andFilter{nil} }

func (f andFilter) eval(doc map[string]interface{}) bool {
	for _, t := range f.terms {
		if !t.eval(doc) {
			return false
		}
	}
	return true
}
func (f andFilter) fields(out map[string]struct{}) {
	for _, t := range f.terms {
		t.fields(out)
	}
}

func (f orFilter) eval(doc map[string]interface{}) bool {
	if len(f.terms) == 0 {
		return false
	}
	for _, t := range f.terms {
		if t.eval(doc) {
			return true
		}
	}
	return false
}
func (f orFilter) fields(out map[string]struct{}) {
	for _, t := range f.terms {
		t.fields(out)
	}
}

func (f notFilter) eval(doc map[string]interface{}) bool { return !f.term.eval(doc) }
func (f notFilter) fields(out map[string]struct{})       { f.term.fields(out) }

func (f eqFilter) eval(doc map[string]interface{}) bool {
	v, ok := doc[f.field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(f.value)
}
func (f eqFilter) fields(out map[string]struct{}) { out[f.field] = struct{}{} }

func (f presentFilter) eval(doc map[string]interface{}) bool {
	v, ok := doc[f.field]
	return ok && v != nil
}
func (f presentFilter) fields(out map[string]struct{}) { out[f.field] = struct{}{} }

func (f cmpFilter) eval(doc map[string]interface{}) bool {
	v, ok := doc[f.field]
	if !ok {
		return false
	}
	c, ok := compare(v, f.value)
	if !ok {
		return false
	}
	switch f.op {
	case opGe:
		return c >= 0
	case opLe:
		return c <= 0
	case opGt:
		return c > 0
	case opLt:
		return c < 0
	}
	return false
}
func (f cmpFilter) fields(out map[string]struct{}) { out[f.field] = struct{}{} }

// compare orders two values of the same dynamic shape (float64, a JSON
// decoding default, or string). Booleans are not ordered.
func compare(a, b interface{}) (int, bool) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
