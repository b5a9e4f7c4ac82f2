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
	"github.com/SnellerInc/relplan/expr"
	"github.com/SnellerInc/relplan/query"
	"github.com/SnellerInc/relplan/types"

	"golang.org/x/exp/slices"
)

// normalize is the second full pass over a prepared
// query: it enforces per-operation clause restrictions,
// renumbers every parameter placeholder into one
// global zero-based sequence, resolves type coercion
// markers, validates field references against schema
// metadata, drops empty clauses, and expands the
// select into the final projected field list (which it
// returns).
func (p *planner) normalize(q *query.Query, op query.Op, nparams int) ([]expr.Node, error) {
	if err := validateOp(q, op); err != nil {
		return nil, err
	}
	dropEmpty(q)
	if err := renumber(q, nparams); err != nil {
		return nil, err
	}
	if err := p.resolveCoerce(q); err != nil {
		return nil, err
	}
	if err := p.validateFields(q); err != nil {
		return nil, err
	}
	if op != query.All {
		return nil, nil
	}
	return p.expandSelect(q)
}

// validateOp rejects clause sets that are structurally
// forbidden for the operation.
func validateOp(q *query.Query, op query.Op) error {
	switch op {
	case query.All:
		if len(q.Updates) > 0 {
			return errstruct("`all` query does not allow update clauses")
		}
	case query.UpdateAll:
		if err := onlyFiltersAndJoins(q, op); err != nil {
			return err
		}
		if err := validateUpdates(q); err != nil {
			return err
		}
	case query.DeleteAll:
		if len(q.Updates) > 0 {
			return errstruct("`delete_all` query does not allow update clauses")
		}
		if err := onlyFiltersAndJoins(q, op); err != nil {
			return err
		}
	}
	return nil
}

func onlyFiltersAndJoins(q *query.Query, op query.Op) error {
	bad := ""
	switch {
	case q.Select != nil:
		bad = "select"
	case q.Distinct != nil:
		bad = "distinct"
	case len(q.GroupBys) > 0:
		bad = "group_by"
	case len(q.Havings) > 0:
		bad = "having"
	case len(q.OrderBys) > 0:
		bad = "order_by"
	case q.Limit != nil:
		bad = "limit"
	case q.Offset != nil:
		bad = "offset"
	case len(q.Assocs) > 0 || len(q.Preloads) > 0:
		bad = "preload"
	}
	if bad != "" {
		allowed := "`where` and `join`"
		if op == query.UpdateAll {
			allowed = "`where`, `join` and `update`"
		}
		return errstruct("`%s` allows only %s expressions, got `%s`", op, allowed, bad)
	}
	return nil
}

func validateUpdates(q *query.Query) error {
	seen := make(map[string]struct{})
	for _, c := range q.Updates {
		l, ok := c.Expr.(*expr.List)
		if !ok {
			continue
		}
		for _, item := range l.Items {
			a, ok := item.(*expr.Assign)
			if !ok {
				continue
			}
			if _, dup := seen[a.Field]; dup {
				return errclause(c, query.KindUpdate, "duplicate field `%s` in update", a.Field)
			}
			seen[a.Field] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return errstruct("`update_all` requires at least one field to update")
	}
	return nil
}

// dropEmpty removes group_by and order_by clauses that
// ended up with no terms (for example from an empty
// interpolated list), rather than emitting
// empty-clause markers to the backend.
func dropEmpty(q *query.Query) {
	keep := func(cs []*query.Clause) []*query.Clause {
		out := cs[:0]
		for _, c := range cs {
			if c.Expr == nil {
				continue
			}
			if l, ok := c.Expr.(*expr.List); ok && len(l.Items) == 0 {
				continue
			}
			out = append(out, c)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	q.GroupBys = keep(q.GroupBys)
	q.OrderBys = keep(q.OrderBys)
}

// renumber assigns global placeholder indices in
// traversal order. Spread placeholders receive their
// start index and occupy Len slots; subquery sources
// shift their (zero-based) placeholder space by the
// running counter and occupy one slot per nested
// parameter.
func renumber(q *query.Query, nparams int) error {
	counter := 0
	for _, cv := range clauseSeq(q) {
		if sub, ok := cv.source.(*query.Subquery); ok {
			shiftParams(sub.Query, counter)
			counter += len(sub.Params)
		}
		if cv.clause == nil || cv.clause.Expr == nil {
			continue
		}
		expr.Walk(expr.WalkFn(func(n expr.Node) bool {
			if pn, ok := n.(*expr.Param); ok {
				pn.Ix = counter
				if pn.Spread {
					counter += pn.Len
				} else {
					counter++
				}
			}
			return true
		}), cv.clause.Expr)
	}
	if counter != nparams {
		return errstruct("parameter list has %d values but the query has %d placeholders",
			nparams, counter)
	}
	return nil
}

func shiftParams(q *query.Query, off int) {
	if off == 0 {
		return
	}
	for _, cv := range clauseSeq(q) {
		if sub, ok := cv.source.(*query.Subquery); ok {
			shiftParams(sub.Query, off)
		}
		if cv.clause == nil || cv.clause.Expr == nil {
			continue
		}
		expr.Walk(expr.WalkFn(func(n expr.Node) bool {
			if pn, ok := n.(*expr.Param); ok {
				pn.Ix += off
			}
			return true
		}), cv.clause.Expr)
	}
}

// resolveCoerce resolves type(value, target) markers
// to concrete type tags.
func (p *planner) resolveCoerce(q *query.Query) error {
	for _, cv := range clauseSeq(q) {
		if cv.clause == nil || cv.clause.Expr == nil {
			continue
		}
		c, kind := cv.clause, cv.kind
		var werr error
		expr.Walk(expr.WalkFn(func(n expr.Node) bool {
			if werr != nil {
				return false
			}
			tc, ok := n.(*expr.TypeCoerce)
			if !ok {
				return true
			}
			if tc.TargetField != nil {
				t, err := fieldType(sourceAt(q, tc.TargetField.Ix), tc.TargetField.Name, c, kind)
				if err != nil {
					werr = err
					return false
				}
				tc.Type = t
				return true
			}
			t := types.Lookup(tc.TargetName)
			if t == nil {
				werr = errclause(c, kind, "unknown type `%s` in type/2", tc.TargetName)
				return false
			}
			tc.Type = t
			return true
		}), c.Expr)
		if werr != nil {
			return werr
		}
	}
	return nil
}

func sourceAt(q *query.Query, ix int) query.Source {
	if ix < 0 || ix >= len(q.Sources) {
		return nil
	}
	return q.Sources[ix]
}

// validateFields checks every dotted field reference
// against the owning binding's schema (or a subquery's
// exposed field map) and records the resolved type on
// the node. Fragment-typed and schemaless bindings are
// permissive.
func (p *planner) validateFields(q *query.Query) error {
	for _, cv := range clauseSeq(q) {
		if cv.clause == nil || cv.clause.Expr == nil {
			continue
		}
		c, kind := cv.clause, cv.kind
		var werr error
		expr.Walk(expr.WalkFn(func(n expr.Node) bool {
			if werr != nil {
				return false
			}
			f, ok := n.(*expr.Field)
			if !ok {
				return true
			}
			if f.Ix < 0 || f.Ix >= len(q.Sources) {
				werr = errclause(c, kind, "unknown binding $%d", f.Ix)
				return false
			}
			t, err := fieldType(q.Sources[f.Ix], f.Name, c, kind)
			if err != nil {
				werr = err
				return false
			}
			f.Type = t
			return true
		}), c.Expr)
		if werr != nil {
			return werr
		}
		// aggregates read their argument's resolved type
		expr.Walk(expr.WalkFn(func(n expr.Node) bool {
			if a, ok := n.(*expr.Aggregate); ok {
				a.Type = aggregateType(a)
			}
			return true
		}), c.Expr)
	}
	return nil
}

func aggregateType(a *expr.Aggregate) types.Type {
	if a.Op == expr.OpCount {
		return types.Int
	}
	if f, ok := a.Inner.(*expr.Field); ok && f.Type != nil {
		if a.Op == expr.OpAvg {
			return types.Float
		}
		return f.Type
	}
	return types.Any
}

// expandSelect produces the final projected field
// list. An absent select defaults to every declared
// field of the from binding in schema order; take
// specs restrict individual bindings; preloaded
// associations inject their full field lists ahead of
// the explicit selection.
func (p *planner) expandSelect(q *query.Query) ([]expr.Node, error) {
	takes := make(map[int][]string)
	if q.Select != nil {
		for _, t := range q.Select.Takes {
			if prev, ok := takes[t.Ix]; ok && !slices.Equal(prev, t.Fields) {
				return nil, errstruct("binding $%d is already selected with a different subset of fields", t.Ix)
			}
			takes[t.Ix] = t.Fields
		}
		for ix, fields := range takes {
			tbl, ok := sourceAt(q, ix).(query.Table)
			if !ok || tbl.Schema == nil {
				return nil, errstruct("cannot select a subset of fields from %s because it does not have a schema",
					nameAt(q, ix))
			}
			for _, f := range fields {
				if tbl.Schema.FieldType(f) == nil {
					return nil, errstruct("field `%s` does not exist in the schema %q",
						f, tbl.Schema.SourceName())
				}
			}
		}
	}

	var items []expr.Node
	switch {
	case q.Select == nil || q.Select.Expr == nil:
		items = []expr.Node{&expr.BindRef{Ix: 0}}
	default:
		if l, ok := q.Select.Expr.(*expr.List); ok {
			items = l.Items
		} else {
			items = []expr.Node{q.Select.Expr}
		}
	}

	projected := make(map[int]bool)
	var explicit []expr.Node
	for _, item := range items {
		if b, ok := item.(*expr.BindRef); ok {
			if b.Ix < 0 || b.Ix >= len(q.Sources) {
				return nil, errstruct("select references unknown binding $%d", b.Ix)
			}
			projected[b.Ix] = true
			explicit = append(explicit, bindingFields(q, b.Ix, takes[b.Ix])...)
			continue
		}
		explicit = append(explicit, item)
	}

	if len(q.Assocs) == 0 {
		return explicit, nil
	}
	if !projected[0] {
		return nil, errstruct("the binding used in `from` must be selected in `select` when using preload")
	}
	var injected []expr.Node
	var inject func(as []query.Assoc)
	inject = func(as []query.Assoc) {
		for i := range as {
			injected = append(injected, bindingFields(q, as[i].Ix, nil)...)
			inject(as[i].Children)
		}
	}
	inject(q.Assocs)
	return append(injected, explicit...), nil
}

// bindingFields lists the field nodes projected for a
// whole-binding reference: the take subset if one was
// given, otherwise every declared field in order.
// Schemaless bindings project no explicit fields.
func bindingFields(q *query.Query, ix int, take []string) []expr.Node {
	switch src := q.Sources[ix].(type) {
	case query.Table:
		if src.Schema == nil {
			return nil
		}
		names := src.Schema.Fields()
		if take != nil {
			names = take
		}
		out := make([]expr.Node, len(names))
		for i, name := range names {
			out[i] = &expr.Field{Ix: ix, Name: name, Type: src.Schema.FieldType(name)}
		}
		return out
	case *query.Subquery:
		out := make([]expr.Node, 0, len(src.FieldOrder))
		for _, name := range src.FieldOrder {
			out = append(out, &expr.Field{Ix: ix, Name: name, Type: src.Fields[name].Type})
		}
		return out
	default:
		return nil
	}
}

func nameAt(q *query.Query, ix int) string {
	if src := sourceAt(q, ix); src != nil {
		return src.Name()
	}
	return "unknown"
}
