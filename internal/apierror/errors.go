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

// Package apierror defines the classified error taxonomy of the
// provisioning core (spec §7): validation failures, not-found, conflicts,
// capacity exhaustion and internal faults. Store failures always arrive as
// one of these kinds; errors from the MAC and address parsers (for
// example an unparseable MAC in a NIC request) are returned as plain
// errors, not converted.
package apierror

import (
	"errors"
	"fmt"
	"sort"
)

// Kind classifies an error the way a caller needs to branch on it.
type Kind string

const (
	// InvalidParams means validation rejected the request.
	InvalidParams Kind = "InvalidParams"
	// NotFound means the referenced record does not exist.
	NotFound Kind = "NotFound"
	// InUse means a delete was refused because something still refers
	// to the record.
	InUse Kind = "InUse"
	// SubnetFull means no address was available in the target network.
	SubnetFull Kind = "SubnetFull"
	// PoolFull means every network in a pool/intersection is full.
	PoolFull Kind = "PoolFull"
	// EtagConflict is internal: the engine retries transparently and a
	// caller must never see it directly.
	EtagConflict Kind = "EtagConflict"
	// Unavailable means the retry budget was exhausted, or the store is
	// transiently unreachable.
	Unavailable Kind = "Unavailable"
	// Internal means an invariant was violated.
	Internal Kind = "Internal"
)

// FieldCode enumerates the per-field codes InvalidParams carries.
type FieldCode string

const (
	CodeMissing   FieldCode = "Missing"
	CodeInvalid   FieldCode = "Invalid"
	CodeDuplicate FieldCode = "Duplicate"
	CodeUsedBy    FieldCode = "UsedBy"
	CodeInUse     FieldCode = "InUse"
)

// Field is one entry in an InvalidParams error.
type Field struct {
	Field   string
	Code    FieldCode
	Message string
	Extra   map[string]interface{}
}

// Error is the single error type every component-boundary failure is
// converted into.
type Error struct {
	Kind    Kind
	Message string
	Fields  []Field
	// Bucket/Key identify the record a store-level conflict or
	// not-found applies to, so the engine can decide what to retry.
	Bucket string
	Key    string
	cause  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Fields[0].Message)
	}
	return string(e.Kind)
}

// Unwrap lets callers errors.Is/As through to a wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// New builds a plain error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a lower-level cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFoundf is a convenience constructor for the common NotFound case.
func NotFoundf(bucket, key string) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf("%s %q not found", bucket, key), Bucket: bucket, Key: key}
}

// Conflict builds an EtagConflict tagged with the bucket/key that
// disagreed, so the engine's retry loop can classify it (spec §4.1).
func Conflict(bucket, key string) *Error {
	return &Error{Kind: EtagConflict, Message: fmt.Sprintf("etag conflict on %s/%s", bucket, key), Bucket: bucket, Key: key}
}

// Invalid aggregates field errors into one InvalidParams error, sorted
// by field name per spec §4.2.
func Invalid(fields []Field) *Error {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })
	return &Error{Kind: InvalidParams, Fields: sorted}
}

// Missing builds a single-field InvalidParams(Missing) error.
func Missing(field string) *Error {
	return Invalid([]Field{{Field: field, Code: CodeMissing, Message: fmt.Sprintf("%s is required", field)}})
}

// UsedBy builds an InvalidParams(UsedBy) error describing the current
// holder of a requested resource (spec scenario 4).
func UsedBy(field string, extra map[string]interface{}) *Error {
	return Invalid([]Field{{Field: field, Code: CodeUsedBy, Message: fmt.Sprintf("%s is in use", field), Extra: extra}})
}
