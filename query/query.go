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

// Package query defines the composable, structured
// query representation consumed by the planner.
//
// A Query is an aggregate of ordered clause lists
// over index-addressed sources: binding 0 is the from
// source and declared join i is binding i+1. The
// representation is declarative and not validated at
// construction; validation, join expansion, parameter
// merging and normalization all happen in the plan
// package.
package query

import (
	"runtime"

	"github.com/SnellerInc/relplan/expr"
	"github.com/SnellerInc/relplan/types"
)

// Op is the operation a query is planned for.
type Op int

const (
	// All reads whole rows (or a projection of them).
	All Op = iota
	// UpdateAll bulk-updates every matching row.
	UpdateAll
	// DeleteAll bulk-deletes every matching row.
	DeleteAll
)

func (o Op) String() string {
	switch o {
	case All:
		return "all"
	case UpdateAll:
		return "update_all"
	case DeleteAll:
		return "delete_all"
	default:
		return "unknown"
	}
}

// SpecKind discriminates TypeSpec variants.
type SpecKind int

const (
	// SpecFixed: a concrete scalar type.
	SpecFixed SpecKind = iota
	// SpecField: the declared type of binding Ix's
	// field Field, resolved against its schema.
	SpecField
	// SpecElem: list context; each element of the
	// value is checked against Elem.
	SpecElem
)

// TypeSpec describes the expected type of one
// interpolated parameter.
type TypeSpec struct {
	Kind  SpecKind
	Type  types.Type // SpecFixed
	Ix    int        // SpecField
	Field string     // SpecField
	Elem  *TypeSpec  // SpecElem
}

// FixedType is the TypeSpec for a concrete type.
func FixedType(t types.Type) TypeSpec {
	return TypeSpec{Kind: SpecFixed, Type: t}
}

// FieldType is the TypeSpec resolved from the schema
// of binding ix.
func FieldType(ix int, field string) TypeSpec {
	return TypeSpec{Kind: SpecField, Ix: ix, Field: field}
}

// ElemType is the TypeSpec for a spread list whose
// elements are typed by elem.
func ElemType(elem TypeSpec) TypeSpec {
	e := elem
	return TypeSpec{Kind: SpecElem, Elem: &e}
}

// Param is one interpolated parameter: the raw value
// and the type it must be cast to.
type Param struct {
	Value any
	Type  TypeSpec
}

// ClauseKind names the clause a parameter or error
// belongs to; used in diagnostics and cache keys.
type ClauseKind int

const (
	KindSelect ClauseKind = iota
	KindFrom
	KindDistinct
	KindJoin
	KindWhere
	KindGroupBy
	KindHaving
	KindOrderBy
	KindLimit
	KindOffset
	KindUpdate
)

func (k ClauseKind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindFrom:
		return "from"
	case KindDistinct:
		return "distinct"
	case KindJoin:
		return "join"
	case KindWhere:
		return "where"
	case KindGroupBy:
		return "group_by"
	case KindHaving:
		return "having"
	case KindOrderBy:
		return "order_by"
	case KindLimit:
		return "limit"
	case KindOffset:
		return "offset"
	case KindUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Clause is one expression clause: the tree itself,
// the interpolated parameters it references by
// clause-local placeholder index, and the source
// location captured at construction for diagnostics.
type Clause struct {
	Expr   expr.Node
	Op     expr.LogicalOp // combinator for where/having chains
	Params []Param
	File   string
	Line   int
}

// NewClause builds a clause and captures the caller's
// file and line.
func NewClause(e expr.Node, params ...Param) *Clause {
	c := &Clause{Expr: e, Params: params}
	if _, file, line, ok := runtime.Caller(1); ok {
		c.File, c.Line = file, line
	}
	return c
}

func (c *Clause) clone() *Clause {
	if c == nil {
		return nil
	}
	out := *c
	out.Expr = expr.Copy(c.Expr)
	out.Params = append([]Param(nil), c.Params...)
	return &out
}

// Take restricts the projection of one binding to a
// subset of its fields.
type Take struct {
	Ix     int
	Fields []string
}

// Select is the projection clause. Takes restrict the
// fields projected out of individual bindings; the
// normalizer rejects two different take sets for the
// same binding.
type Select struct {
	Clause
	Takes []Take
}

func (s *Select) clone() *Select {
	if s == nil {
		return nil
	}
	out := &Select{Clause: *s.Clause.clone()}
	if s.Takes != nil {
		out.Takes = make([]Take, len(s.Takes))
		for i, t := range s.Takes {
			out.Takes[i] = Take{Ix: t.Ix, Fields: append([]string(nil), t.Fields...)}
		}
	}
	return out
}

// Assoc is one node of the join-backed preload tree:
// preload the association Field of its parent binding
// using the join that introduced binding Ix.
type Assoc struct {
	Field    string
	Ix       int
	Children []Assoc
}

func cloneAssocs(as []Assoc) []Assoc {
	if as == nil {
		return nil
	}
	out := make([]Assoc, len(as))
	for i := range as {
		out[i] = as[i]
		out[i].Children = cloneAssocs(as[i].Children)
	}
	return out
}

// Query is the full declarative query aggregate.
//
// From and JoinExpr.Source hold declared sources
// (see Source for the accepted kinds); Sources is
// populated by the planner with the resolved source
// for every binding index.
type Query struct {
	From     any
	Joins    []*JoinExpr
	Wheres   []*Clause
	GroupBys []*Clause
	Havings  []*Clause
	OrderBys []*Clause
	Updates  []*Clause
	Select   *Select
	Distinct *Clause
	Limit    *Clause
	Offset   *Clause
	Lock     string
	Prefix   string

	Sources  []Source
	Assocs   []Assoc
	Preloads []string
}

// New starts a query over the given declared source.
func New(from any) *Query {
	return &Query{From: from}
}

// NumBindings returns the number of binding indices
// the query declares (from plus declared joins).
func (q *Query) NumBindings() int {
	return 1 + len(q.Joins)
}

// Clone returns a deep copy of q.
// The planner clones queries up front so that plans
// never mutate caller-held state.
func (q *Query) Clone() *Query {
	out := *q
	out.Joins = make([]*JoinExpr, len(q.Joins))
	for i := range q.Joins {
		out.Joins[i] = q.Joins[i].clone()
	}
	cloneList := func(cs []*Clause) []*Clause {
		if cs == nil {
			return nil
		}
		out := make([]*Clause, len(cs))
		for i := range cs {
			out[i] = cs[i].clone()
		}
		return out
	}
	out.Wheres = cloneList(q.Wheres)
	out.GroupBys = cloneList(q.GroupBys)
	out.Havings = cloneList(q.Havings)
	out.OrderBys = cloneList(q.OrderBys)
	out.Updates = cloneList(q.Updates)
	out.Select = q.Select.clone()
	out.Distinct = q.Distinct.clone()
	out.Limit = q.Limit.clone()
	out.Offset = q.Offset.clone()
	out.Sources = append([]Source(nil), q.Sources...)
	out.Assocs = cloneAssocs(q.Assocs)
	out.Preloads = append([]string(nil), q.Preloads...)
	return &out
}

// Where appends a where clause combined with and.
func (q *Query) Where(e expr.Node, params ...Param) *Query {
	c := NewClause(e, params...)
	c.Op = expr.OpAnd
	q.Wheres = append(q.Wheres, c)
	return q
}

// OrWhere appends a where clause combined with or.
func (q *Query) OrWhere(e expr.Node, params ...Param) *Query {
	c := NewClause(e, params...)
	c.Op = expr.OpOr
	q.Wheres = append(q.Wheres, c)
	return q
}

// Having appends a having clause combined with and.
func (q *Query) Having(e expr.Node, params ...Param) *Query {
	c := NewClause(e, params...)
	c.Op = expr.OpAnd
	q.Havings = append(q.Havings, c)
	return q
}

// GroupBy appends a group_by clause; e is typically
// an expr.List of field references.
func (q *Query) GroupBy(e expr.Node, params ...Param) *Query {
	q.GroupBys = append(q.GroupBys, NewClause(e, params...))
	return q
}

// OrderBy appends an order_by clause; e is typically
// an expr.List of expr.Ord items.
func (q *Query) OrderBy(e expr.Node, params ...Param) *Query {
	q.OrderBys = append(q.OrderBys, NewClause(e, params...))
	return q
}

// Update appends an update clause; e is an expr.List
// of expr.Assign items.
func (q *Query) Update(e expr.Node, params ...Param) *Query {
	q.Updates = append(q.Updates, NewClause(e, params...))
	return q
}

// SetSelect installs the projection clause.
func (q *Query) SetSelect(e expr.Node, params ...Param) *Query {
	q.Select = &Select{Clause: *NewClause(e, params...)}
	return q
}

// TakeFields restricts the projection of binding ix
// to the given fields, creating an empty select if
// none exists yet.
func (q *Query) TakeFields(ix int, fields ...string) *Query {
	if q.Select == nil {
		q.Select = &Select{}
	}
	q.Select.Takes = append(q.Select.Takes, Take{Ix: ix, Fields: fields})
	return q
}

// SetLimit installs the limit clause.
func (q *Query) SetLimit(e expr.Node, params ...Param) *Query {
	q.Limit = NewClause(e, params...)
	return q
}

// SetOffset installs the offset clause.
func (q *Query) SetOffset(e expr.Node, params ...Param) *Query {
	q.Offset = NewClause(e, params...)
	return q
}

// SetDistinct installs the distinct clause.
func (q *Query) SetDistinct(e expr.Node, params ...Param) *Query {
	q.Distinct = NewClause(e, params...)
	return q
}

// Join appends a plain join over a declared source
// and returns the binding index assigned to it.
func (q *Query) Join(kind JoinKind, source any, on expr.Node, params ...Param) *Query {
	j := &JoinExpr{
		Kind:   kind,
		Source: source,
		Ix:     len(q.Joins) + 1,
	}
	if on != nil {
		j.On = NewClause(on, params...)
	}
	q.Joins = append(q.Joins, j)
	return q
}

// JoinAssoc appends an association join: join the
// association assoc of binding parentIx. An optional
// extra on condition is conjoined onto the
// association's own join condition.
func (q *Query) JoinAssoc(kind JoinKind, parentIx int, assoc string, on expr.Node, params ...Param) *Query {
	j := &JoinExpr{
		Kind:  kind,
		Ix:    len(q.Joins) + 1,
		Assoc: &AssocJoin{ParentIx: parentIx, Name: assoc},
	}
	if on != nil {
		j.On = NewClause(on, params...)
	}
	q.Joins = append(q.Joins, j)
	return q
}

// PreloadAssoc records a join-backed preload tree.
func (q *Query) PreloadAssoc(assocs ...Assoc) *Query {
	q.Assocs = append(q.Assocs, assocs...)
	return q
}
