// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package plan

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/relplan/query"
)

// StructuralError is the error type returned when a
// query is structurally invalid for the requested
// operation: missing from, forbidden clause sets,
// unknown associations, bad preload join kinds,
// ambiguous subquery projections, missing fields,
// and values that cannot be encoded for the backend.
type StructuralError struct {
	Msg  string
	Kind query.ClauseKind
	// HasKind reports whether Kind identifies the
	// offending clause; errors about the query as a
	// whole leave it unset.
	HasKind bool
	File    string
	Line    int
}

func (e *StructuralError) Error() string {
	var dst strings.Builder
	if e.File != "" {
		fmt.Fprintf(&dst, "%s:%d: ", e.File, e.Line)
	}
	dst.WriteString(e.Msg)
	if e.HasKind {
		fmt.Fprintf(&dst, " in %s clause", e.Kind)
	}
	return dst.String()
}

func errstruct(f string, args ...any) *StructuralError {
	return &StructuralError{Msg: fmt.Sprintf(f, args...)}
}

func errclause(c *query.Clause, kind query.ClauseKind, f string, args ...any) *StructuralError {
	e := &StructuralError{
		Msg:     fmt.Sprintf(f, args...),
		Kind:    kind,
		HasKind: true,
	}
	if c != nil {
		e.File, e.Line = c.File, c.Line
	}
	return e
}

// CastError is the error type returned when an
// interpolated parameter value fails domain casting.
// It carries the offending value, the expected type,
// and the clause the parameter appeared in.
type CastError struct {
	Value any
	Type  string
	Kind  query.ClauseKind
	File  string
	Line  int
	// Hint carries additional guidance, e.g. the
	// is_nil suggestion for nil comparisons.
	Hint string
}

func (e *CastError) Error() string {
	var dst strings.Builder
	if e.File != "" {
		fmt.Fprintf(&dst, "%s:%d: ", e.File, e.Line)
	}
	fmt.Fprintf(&dst, "cannot cast %v to type %s in %s clause", e.Value, e.Type, e.Kind)
	if e.Hint != "" {
		dst.WriteString(": ")
		dst.WriteString(e.Hint)
	}
	return dst.String()
}

// SubqueryError wraps an error raised while planning
// a nested query, preserving the inner failure for
// diagnostics.
type SubqueryError struct {
	Err error
}

func (e *SubqueryError) Error() string {
	return "subquery compilation failed: " + e.Err.Error()
}

func (e *SubqueryError) Unwrap() error { return e.Err }
