// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"fmt"
	"strings"
)

// NoMatchingSchemaError reports a selector with no registered schema.
type NoMatchingSchemaError struct {
	Selector string
}

func (e *NoMatchingSchemaError) Error() string {
	return fmt.Sprintf("selector %q: no matching schema", e.Selector)
}

// Kind returns the error kind used by command-line exit code mapping.
func (e *NoMatchingSchemaError) Kind() string { return "no_matching_schema" }

// AmbiguousSchemaError reports a selector that matches more than one
// registered schema. Candidates lists the full names of every match.
type AmbiguousSchemaError struct {
	Selector   string
	Candidates []string
}

func (e *AmbiguousSchemaError) Error() string {
	return fmt.Sprintf("selector %q: ambiguous schema, candidates: %s",
		e.Selector, strings.Join(e.Candidates, ", "))
}

// Kind returns the error kind used by command-line exit code mapping.
func (e *AmbiguousSchemaError) Kind() string { return "ambiguous_schema" }

// SerializationError reports a payload that cannot be converted to or
// from its schema. Field is the dotted path of the offending field
// within the payload (e.g. "references.url"), empty when the failure
// concerns the payload as a whole.
type SerializationError struct {
	Selector string
	Field    string
	Reason   string
	Err      error
}

func (e *SerializationError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "selector %q", e.Selector)
	if e.Field != "" {
		fmt.Fprintf(&builder, " field %q", e.Field)
	}
	builder.WriteString(": ")
	builder.WriteString(e.Reason)
	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}
	return builder.String()
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Kind returns the error kind used by command-line exit code mapping.
func (e *SerializationError) Kind() string { return "serialization" }
