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
)

// bindRewriter renumbers binding references through fn.
type bindRewriter struct {
	fn func(int) int
}

func (b bindRewriter) Rewrite(n expr.Node) expr.Node {
	switch n := n.(type) {
	case *expr.Field:
		n.Ix = b.fn(n.Ix)
	case *expr.BindRef:
		n.Ix = b.fn(n.Ix)
	}
	return n
}

func (b bindRewriter) Walk(expr.Node) expr.Rewriter { return b }

// expandJoins expands every association join into its
// concrete join chain and renumbers binding indices so
// the whole query uses one flat, contiguous index
// space. It also resolves every join source, extending
// q.Sources so that q.Sources[j.Ix] holds the source
// of every join j.
//
// Expressions written by the caller reference bindings
// positionally (from = 0, declared join i = i+1); the
// expansion computes a declared-to-final mapping and
// rewrites every caller expression through it exactly
// once. The on conditions synthesized for association
// hops are built directly in the final index space and
// are never rewritten.
func (p *planner) expandJoins(q *query.Query) error {
	if len(q.Joins) == 0 {
		return nil
	}
	mapping := make([]int, q.NumBindings())
	for i := range mapping {
		mapping[i] = -1
	}
	mapping[0] = 0
	declRw := bindRewriter{fn: func(ix int) int {
		if ix >= 0 && ix < len(mapping) && mapping[ix] >= 0 {
			return mapping[ix]
		}
		return ix
	}}

	expanded := false
	var out []*query.JoinExpr
	var userOns []*query.JoinExpr // joins whose on must be rewritten at the end
	// user-supplied on conditions of association joins,
	// conjoined onto the innermost hop once the mapping
	// is complete
	type conj struct {
		join *query.JoinExpr
		on   *query.Clause
	}
	var conjs []conj
	for d, j := range q.Joins {
		decl := d + 1
		if j.Assoc == nil {
			src, err := p.resolveSource(j.Source)
			if err != nil {
				return err
			}
			j.Ix = len(q.Sources)
			mapping[decl] = j.Ix
			q.Sources = append(q.Sources, src)
			out = append(out, j)
			if j.On != nil {
				userOns = append(userOns, j)
			}
			continue
		}

		expanded = true
		parent := j.Assoc.ParentIx
		if parent < 0 || parent >= len(mapping) || mapping[parent] < 0 {
			return errclause(j.On, query.KindJoin,
				"association join references binding $%d, which is not bound yet", parent)
		}
		ownerIx := mapping[parent]
		tbl, ok := q.Sources[ownerIx].(query.Table)
		if !ok || tbl.Schema == nil {
			return errclause(j.On, query.KindJoin,
				"cannot perform association join on %s because it does not have a schema",
				q.Sources[ownerIx].Name())
		}
		assoc := tbl.Schema.Association(j.Assoc.Name)
		if assoc == nil {
			return errclause(j.On, query.KindJoin,
				"could not find association %q on schema %s",
				j.Assoc.Name, tbl.Schema.SourceName())
		}
		hops, err := assoc.Hops()
		if err != nil {
			return errclause(j.On, query.KindJoin, "%v", err)
		}

		// the association's joins query uses a local
		// index space: 0 is the owner and 1..len(hops)
		// are the hops, the last being the join target.
		// rewrite it into the final space: 0 becomes the
		// owner's final index, locals shift by inc, and
		// anything beyond the chain is already
		// outer-relative.
		last := len(hops)
		base := len(q.Sources)
		inc := base - 1
		chainRw := bindRewriter{fn: func(ix int) int {
			switch {
			case ix == 0:
				return ownerIx
			case ix <= last:
				return ix + inc
			default:
				return ix
			}
		}}
		mapping[decl] = base + last - 1
		for h, hop := range hops {
			on := expr.Rewrite(chainRw, &expr.Comparison{
				Op:    expr.OpEq,
				Left:  &expr.Field{Ix: h + 1, Name: hop.RelatedKey},
				Right: &expr.Field{Ix: h, Name: hop.OwnerKey},
			})
			nj := &query.JoinExpr{
				Kind: j.Kind,
				Ix:   base + h,
				On:   &query.Clause{Expr: on},
			}
			if h == last-1 && j.On != nil {
				// the user condition may reference joins
				// declared later, so it cannot be rewritten
				// until the whole mapping is known
				conjs = append(conjs, conj{join: nj, on: j.On})
			}
			q.Sources = append(q.Sources, query.Table{
				TableName: hop.Related.SourceName(),
				Schema:    hop.Related,
			})
			out = append(out, nj)
		}
	}
	q.Joins = out

	if !expanded {
		// no association joins: the mapping is the
		// identity and nothing needs rewriting
		return nil
	}
	for _, j := range userOns {
		j.On.Expr = expr.Rewrite(declRw, j.On.Expr)
	}
	for _, c := range conjs {
		user := expr.Rewrite(declRw, c.on.Expr)
		c.join.On.Expr = expr.And(c.join.On.Expr, user)
		c.join.On.Params = c.on.Params
		c.join.On.File, c.join.On.Line = c.on.File, c.on.Line
	}
	rewriteClauses(q, declRw)
	remapAssocs(q.Assocs, mapping)
	if q.Select != nil {
		for i := range q.Select.Takes {
			q.Select.Takes[i].Ix = declRw.fn(q.Select.Takes[i].Ix)
		}
	}
	remapParamSpecs(q, declRw.fn)
	return nil
}

// remapParamSpecs rewrites the binding index inside
// every field-typed parameter spec, recursing into
// spread element specs. Specs are rebuilt rather than
// mutated: a cloned clause still shares spread element
// pointers with the caller's query.
func remapParamSpecs(q *query.Query, fn func(int) int) {
	one := func(c *query.Clause) {
		if c == nil {
			return
		}
		for i := range c.Params {
			c.Params[i].Type = remapSpec(c.Params[i].Type, fn)
		}
	}
	if q.Select != nil {
		one(&q.Select.Clause)
	}
	one(q.Distinct)
	for _, j := range q.Joins {
		one(j.On)
	}
	for _, cs := range [][]*query.Clause{q.Wheres, q.GroupBys, q.Havings, q.OrderBys, q.Updates} {
		for _, c := range cs {
			one(c)
		}
	}
	one(q.Limit)
	one(q.Offset)
}

func remapSpec(spec query.TypeSpec, fn func(int) int) query.TypeSpec {
	switch spec.Kind {
	case query.SpecField:
		spec.Ix = fn(spec.Ix)
	case query.SpecElem:
		e := remapSpec(*spec.Elem, fn)
		spec.Elem = &e
	}
	return spec
}

// rewriteClauses applies rw to every caller-written
// expression outside the join list.
func rewriteClauses(q *query.Query, rw expr.Rewriter) {
	each := func(cs []*query.Clause) {
		for _, c := range cs {
			c.Expr = expr.Rewrite(rw, c.Expr)
		}
	}
	if q.Select != nil && q.Select.Expr != nil {
		q.Select.Expr = expr.Rewrite(rw, q.Select.Expr)
	}
	if q.Distinct != nil && q.Distinct.Expr != nil {
		q.Distinct.Expr = expr.Rewrite(rw, q.Distinct.Expr)
	}
	each(q.Wheres)
	each(q.GroupBys)
	each(q.Havings)
	each(q.OrderBys)
	each(q.Updates)
	if q.Limit != nil && q.Limit.Expr != nil {
		q.Limit.Expr = expr.Rewrite(rw, q.Limit.Expr)
	}
	if q.Offset != nil && q.Offset.Expr != nil {
		q.Offset.Expr = expr.Rewrite(rw, q.Offset.Expr)
	}
}

func remapAssocs(as []query.Assoc, mapping []int) {
	for i := range as {
		if as[i].Ix >= 0 && as[i].Ix < len(mapping) && mapping[as[i].Ix] >= 0 {
			as[i].Ix = mapping[as[i].Ix]
		}
		remapAssocs(as[i].Children, mapping)
	}
}
