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

package query

import (
	"github.com/SnellerInc/relplan/schema"
	"github.com/SnellerInc/relplan/types"
)

// Source is a resolved, canonical source descriptor.
// One of Table, Fragment or Subquery.
//
// Declared sources (Query.From, JoinExpr.Source)
// accept a wider vocabulary that the planner resolves:
// a schema.Schema (bare schema reference), a Table
// value (explicit name/schema pair), a *Fragment, or a
// *Query (subquery).
type Source interface {
	// Name returns the source name for diagnostics.
	Name() string
	sealed()
}

// Table is a named table, optionally backed by schema
// metadata. Schema may be nil for raw table names, in
// which case field references against the binding are
// permissive.
type Table struct {
	TableName string
	Schema    schema.Schema
}

func (t Table) Name() string { return t.TableName }

func (t Table) sealed() {}

// Fragment is an opaque source expression passed
// through to the backend untouched. A Dynamic
// fragment has no stable cache identity and forces
// the whole query to plan uncached.
type Fragment struct {
	Text    string
	Dynamic bool
}

func (f *Fragment) Name() string { return "fragment" }

func (f *Fragment) sealed() {}

// SubqueryField records where one exposed field of a
// subquery projection came from and its scalar type.
type SubqueryField struct {
	Ix     int // binding inside the subquery
	Source string
	Type   types.Type
}

// Subquery is a fully planned nested query embedded
// as a source. It snapshots the nested query, its
// flattened parameter list, its own cache key, and
// the field->type map its projection exposes to the
// outer query.
type Subquery struct {
	Query  *Query
	Params []any
	// CacheKey is the nested query's own cache key
	// bytes; empty means the subquery is uncacheable
	// and poisons the parent key.
	CacheKey string
	Fields   map[string]SubqueryField
	// FieldOrder lists the exposed field names in
	// projection order.
	FieldOrder []string
}

func (s *Subquery) Name() string { return "subquery" }

func (s *Subquery) sealed() {}
