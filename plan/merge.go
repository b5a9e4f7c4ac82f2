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
	"sort"

	"github.com/SnellerInc/relplan/expr"
	"github.com/SnellerInc/relplan/query"
	"github.com/SnellerInc/relplan/types"
)

// Key is a structure-only fingerprint of a query:
// two queries have equal keys iff they are
// compile-equivalent (identical structure, sources and
// types, differing only in parameter values, with no
// spread parameter). NoCache marks queries whose shape
// depends on parameter values and must be planned on
// every invocation.
type Key string

// NoCache is the key of uncacheable queries.
const NoCache Key = ""

// cache-key fragment tags; disjoint from the expr
// shape tags so clause boundaries cannot be confused
// with node encodings.
const (
	keyOp byte = 0x80 + iota
	keyClause
	keySourceTable
	keySourceSubquery
	keySourceFragment
	keyPrefix
	keyLock
	keyTake
	keyAssoc
)

// clauseVisit is one step of the fixed traversal
// order shared by the merge and normalize passes:
// select, from, distinct, joins, where, group_by,
// having, order_by, limit, offset, update.
type clauseVisit struct {
	kind   query.ClauseKind
	clause *query.Clause
	source query.Source    // set for from and join visits
	join   *query.JoinExpr // set for join visits
}

func clauseSeq(q *query.Query) []clauseVisit {
	var out []clauseVisit
	if q.Select != nil {
		out = append(out, clauseVisit{kind: query.KindSelect, clause: &q.Select.Clause})
	}
	out = append(out, clauseVisit{kind: query.KindFrom, source: q.Sources[0]})
	if q.Distinct != nil {
		out = append(out, clauseVisit{kind: query.KindDistinct, clause: q.Distinct})
	}
	for _, j := range q.Joins {
		out = append(out, clauseVisit{kind: query.KindJoin, clause: j.On, source: q.Sources[j.Ix], join: j})
	}
	for _, c := range q.Wheres {
		out = append(out, clauseVisit{kind: query.KindWhere, clause: c})
	}
	for _, c := range q.GroupBys {
		out = append(out, clauseVisit{kind: query.KindGroupBy, clause: c})
	}
	for _, c := range q.Havings {
		out = append(out, clauseVisit{kind: query.KindHaving, clause: c})
	}
	for _, c := range q.OrderBys {
		out = append(out, clauseVisit{kind: query.KindOrderBy, clause: c})
	}
	if q.Limit != nil {
		out = append(out, clauseVisit{kind: query.KindLimit, clause: q.Limit})
	}
	if q.Offset != nil {
		out = append(out, clauseVisit{kind: query.KindOffset, clause: q.Offset})
	}
	for _, c := range q.Updates {
		out = append(out, clauseVisit{kind: query.KindUpdate, clause: c})
	}
	return out
}

// merge performs the single forward pass that casts
// and dumps every interpolated parameter into one flat
// list and folds the query's structural shape into a
// cache key, short-circuiting to NoCache when any
// clause contains a spread parameter or a source
// without a stable cache identity.
//
// Per-clause parameter lists are consumed: after merge
// the only parameter state left in the query is the
// placeholder nodes themselves.
func (p *planner) merge(q *query.Query, op query.Op) ([]any, Key, error) {
	sh := &expr.Shape{}
	sh.Tag(keyOp)
	sh.U64(uint64(op))
	cacheable := true
	params := []any{}
	for _, cv := range clauseSeq(q) {
		if cv.source != nil {
			if sub, ok := cv.source.(*query.Subquery); ok {
				// splice the nested query's (already
				// dumped) parameters at the position
				// its source is traversed
				params = append(params, sub.Params...)
			}
			if cv.join != nil {
				sh.U64(uint64(cv.join.Kind))
			}
			if !sourceShape(sh, cv.source) {
				cacheable = false
			}
		}
		if cv.clause != nil {
			spread, err := p.mergeClause(q, cv.kind, cv.clause, &params)
			if err != nil {
				return nil, NoCache, err
			}
			if spread {
				cacheable = false
			}
			sh.Tag(keyClause)
			sh.U64(uint64(cv.kind))
			sh.U64(uint64(cv.clause.Op))
			if cv.clause.Expr != nil {
				sh.Node(cv.clause.Expr)
			}
		}
	}
	// trailing conditional fragments, in normative
	// order: prefix, lock, take, assocs
	if q.Prefix != "" {
		sh.Tag(keyPrefix)
		sh.Str(q.Prefix)
	}
	if q.Lock != "" {
		sh.Tag(keyLock)
		sh.Str(q.Lock)
	}
	if q.Select != nil && len(q.Select.Takes) > 0 {
		takes := append([]query.Take(nil), q.Select.Takes...)
		sort.SliceStable(takes, func(i, j int) bool { return takes[i].Ix < takes[j].Ix })
		for _, t := range takes {
			sh.Tag(keyTake)
			sh.U64(uint64(t.Ix))
			sh.U64(uint64(len(t.Fields)))
			for _, f := range t.Fields {
				sh.Str(f)
			}
		}
	}
	if len(q.Assocs) > 0 {
		assocShape(sh, q.Assocs)
	}
	if !cacheable {
		return params, NoCache, nil
	}
	return params, Key(sh.String()), nil
}

// sourceShape folds the cache identity of a source
// and reports whether the source has one.
func sourceShape(sh *expr.Shape, src query.Source) bool {
	switch src := src.(type) {
	case query.Table:
		sh.Tag(keySourceTable)
		sh.Str(src.TableName)
		if src.Schema != nil {
			sh.U64(src.Schema.Hash())
		} else {
			sh.U64(0)
		}
		return true
	case *query.Subquery:
		if src.CacheKey == "" {
			return false
		}
		sh.Tag(keySourceSubquery)
		sh.Str(src.CacheKey)
		return true
	case *query.Fragment:
		if src.Dynamic {
			return false
		}
		sh.Tag(keySourceFragment)
		sh.Str(src.Text)
		return true
	default:
		return false
	}
}

func assocShape(sh *expr.Shape, as []query.Assoc) {
	for i := range as {
		sh.Tag(keyAssoc)
		sh.Str(as[i].Field)
		sh.U64(uint64(as[i].Ix))
		sh.U64(uint64(len(as[i].Children)))
		assocShape(sh, as[i].Children)
	}
}

// mergeClause replaces the clause's parameter list
// with cast+dumped values appended to params, marking
// spread placeholders with their unfolded length.
// It reports whether the clause contained a spread
// parameter.
func (p *planner) mergeClause(q *query.Query, kind query.ClauseKind, c *query.Clause, params *[]any) (bool, error) {
	if c.Expr == nil {
		c.Params = nil
		return false, nil
	}
	spread := false
	var werr error
	expr.Walk(expr.WalkFn(func(n expr.Node) bool {
		if werr != nil {
			return false
		}
		pn, ok := n.(*expr.Param)
		if !ok {
			return true
		}
		if pn.Ix < 0 || pn.Ix >= len(c.Params) {
			werr = errclause(c, kind, "placeholder ^%d has no interpolated value", pn.Ix)
			return false
		}
		par := c.Params[pn.Ix]
		if par.Type.Kind == query.SpecElem {
			vals, err := p.castSpread(q, kind, c, par)
			if err != nil {
				werr = err
				return false
			}
			pn.Spread = true
			pn.Len = len(vals)
			spread = true
			*params = append(*params, vals...)
			return true
		}
		v, err := p.castParam(q, kind, c, par)
		if err != nil {
			werr = err
			return false
		}
		*params = append(*params, v)
		return true
	}), c.Expr)
	if werr != nil {
		return false, werr
	}
	c.Params = nil
	return spread, nil
}

// paramType resolves a TypeSpec to a concrete type.
func (p *planner) paramType(q *query.Query, kind query.ClauseKind, c *query.Clause, spec query.TypeSpec) (types.Type, error) {
	switch spec.Kind {
	case query.SpecFixed:
		if spec.Type == nil {
			return types.Any, nil
		}
		return spec.Type, nil
	case query.SpecField:
		if spec.Ix < 0 || spec.Ix >= len(q.Sources) {
			return nil, errclause(c, kind, "unknown binding $%d", spec.Ix)
		}
		return fieldType(q.Sources[spec.Ix], spec.Field, c, kind)
	case query.SpecElem:
		return p.paramType(q, kind, c, *spec.Elem)
	default:
		return nil, errclause(c, kind, "invalid parameter type spec")
	}
}

// fieldType resolves the declared type of a dotted
// field reference against its binding's source.
func fieldType(src query.Source, field string, c *query.Clause, kind query.ClauseKind) (types.Type, error) {
	switch src := src.(type) {
	case query.Table:
		if src.Schema == nil {
			return types.Any, nil
		}
		t := src.Schema.FieldType(field)
		if t == nil {
			return nil, errclause(c, kind, "field `%s` does not exist in the schema %q",
				field, src.Schema.SourceName())
		}
		return t, nil
	case *query.Subquery:
		f, ok := src.Fields[field]
		if !ok {
			return nil, errclause(c, kind, "field `%s` does not exist in subquery", field)
		}
		if f.Type == nil {
			return types.Any, nil
		}
		return f.Type, nil
	default:
		return types.Any, nil
	}
}

func (p *planner) castParam(q *query.Query, kind query.ClauseKind, c *query.Clause, par query.Param) (any, error) {
	t, err := p.paramType(q, kind, c, par.Type)
	if err != nil {
		return nil, err
	}
	return p.castValue(kind, c, par.Type, t, par.Value)
}

func (p *planner) castValue(kind query.ClauseKind, c *query.Clause, spec query.TypeSpec, t types.Type, v any) (any, error) {
	if v == nil {
		if kind == query.KindUpdate {
			// updates may legitimately write NULL;
			// tag the value so the backend keeps the type
			return types.Tagged{Type: t}, nil
		}
		hint := "nil values are not comparable, use is_nil instead"
		if spec.Kind == query.SpecField {
			hint = "nil given for field `" + spec.Field + "`; " + hint
		}
		return nil, &CastError{
			Value: "nil", Type: t.Name(), Kind: kind,
			File: c.File, Line: c.Line, Hint: hint,
		}
	}
	cast, err := t.Cast(v)
	if err != nil {
		return nil, &CastError{
			Value: v, Type: t.Name(), Kind: kind,
			File: c.File, Line: c.Line,
		}
	}
	dumped, err := types.Dump(p.adapter, t, cast)
	if err != nil {
		return nil, errclause(c, kind, "cannot dump value `%v` to type %s", v, t.Name())
	}
	return dumped, nil
}

// castSpread unfolds a spread-list parameter,
// casting and dumping each element individually.
func (p *planner) castSpread(q *query.Query, kind query.ClauseKind, c *query.Clause, par query.Param) ([]any, error) {
	t, err := p.paramType(q, kind, c, par.Type)
	if err != nil {
		return nil, err
	}
	items, ok := par.Value.([]any)
	if !ok {
		return nil, &CastError{
			Value: par.Value, Type: "list of " + t.Name(), Kind: kind,
			File: c.File, Line: c.Line,
		}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := p.castValue(kind, c, *par.Type.Elem, t, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
