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
	"github.com/SnellerInc/relplan/schema"
	"github.com/SnellerInc/relplan/types"
)

// resolveSource turns a declared source into its
// canonical descriptor. Declared sources are:
//
//   - a schema.Schema: the table name comes from the
//     schema metadata
//   - a query.Table: passed through (name required)
//   - a *query.Fragment: passed through
//   - a *query.Query: planned recursively and embedded
//     as a Subquery
func (p *planner) resolveSource(decl any) (query.Source, error) {
	switch d := decl.(type) {
	case schema.Schema:
		return query.Table{TableName: d.SourceName(), Schema: d}, nil
	case query.Table:
		if d.TableName == "" {
			return nil, errstruct("table source is missing a name")
		}
		return d, nil
	case *query.Fragment:
		return d, nil
	case *query.Query:
		return p.resolveSubquery(d)
	case nil:
		return nil, errstruct("query must have a from clause")
	default:
		return nil, errstruct("invalid source %T", decl)
	}
}

// resolveSubquery runs the full prepare+normalize
// pipeline on a nested query and types its projection.
// Subqueries never reach the adapter on their own;
// only the outermost query is compiled.
func (p *planner) resolveSubquery(sub *query.Query) (query.Source, error) {
	sq := sub.Clone()
	if len(sq.Assocs) > 0 || len(sq.Preloads) > 0 {
		return nil, &SubqueryError{Err: errstruct("cannot preload associations in a subquery")}
	}
	params, key, err := p.prepare(sq, query.All)
	if err != nil {
		return nil, &SubqueryError{Err: err}
	}
	if _, err := p.normalize(sq, query.All, len(params)); err != nil {
		return nil, &SubqueryError{Err: err}
	}
	fields, order, err := subqueryFields(sq)
	if err != nil {
		return nil, &SubqueryError{Err: err}
	}
	return &query.Subquery{
		Query:      sq,
		Params:     params,
		CacheKey:   string(key),
		Fields:     fields,
		FieldOrder: order,
	}, nil
}

// subqueryFields types a normalized subquery's
// projection. The select must expose whole-source
// projections or individual dotted fields; every
// exposed name must be unique across the projected
// sources.
func subqueryFields(q *query.Query) (map[string]query.SubqueryField, []string, error) {
	var items []expr.Node
	if q.Select == nil || q.Select.Expr == nil {
		items = []expr.Node{&expr.BindRef{Ix: 0}}
	} else if l, ok := q.Select.Expr.(*expr.List); ok {
		items = l.Items
	} else {
		items = []expr.Node{q.Select.Expr}
	}

	fields := make(map[string]query.SubqueryField)
	var order []string
	add := func(name string, f query.SubqueryField) error {
		if prev, ok := fields[name]; ok {
			if prev.Source != f.Source {
				return errstruct("field %q selected from two different sources (%s and %s) in subquery",
					name, prev.Source, f.Source)
			}
			return nil
		}
		fields[name] = f
		order = append(order, name)
		return nil
	}

	takes := make(map[int][]string)
	if q.Select != nil {
		for _, t := range q.Select.Takes {
			takes[t.Ix] = t.Fields
		}
	}

	for _, item := range items {
		switch item := item.(type) {
		case *expr.BindRef:
			if item.Ix < 0 || item.Ix >= len(q.Sources) {
				return nil, nil, errstruct("subquery select references unknown binding $%d", item.Ix)
			}
			switch src := q.Sources[item.Ix].(type) {
			case query.Table:
				if src.Schema == nil {
					return nil, nil, errstruct("cannot select %q in subquery because it has no schema", src.TableName)
				}
				names := src.Schema.Fields()
				if take, ok := takes[item.Ix]; ok {
					names = take
				}
				for _, name := range names {
					t := src.Schema.FieldType(name)
					if t == nil {
						return nil, nil, errstruct("field `%s` does not exist in the schema %q",
							name, src.Schema.SourceName())
					}
					err := add(name, query.SubqueryField{Ix: item.Ix, Source: src.TableName, Type: t})
					if err != nil {
						return nil, nil, err
					}
				}
			case *query.Subquery:
				for _, name := range src.FieldOrder {
					f := src.Fields[name]
					err := add(name, query.SubqueryField{Ix: item.Ix, Source: "subquery", Type: f.Type})
					if err != nil {
						return nil, nil, err
					}
				}
			default:
				return nil, nil, errstruct("cannot select %s in subquery", q.Sources[item.Ix].Name())
			}
		case *expr.Field:
			if item.Ix < 0 || item.Ix >= len(q.Sources) {
				return nil, nil, errstruct("subquery select references unknown binding $%d", item.Ix)
			}
			t, err := fieldType(q.Sources[item.Ix], item.Name, &q.Select.Clause, query.KindSelect)
			if err != nil {
				return nil, nil, err
			}
			if t == nil {
				t = types.Any
			}
			err = add(item.Name, query.SubqueryField{
				Ix:     item.Ix,
				Source: q.Sources[item.Ix].Name(),
				Type:   t,
			})
			if err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, errstruct("subquery select must project sources or fields, got `%s`",
				expr.ToString(item))
		}
	}
	if len(order) == 0 {
		return nil, nil, errstruct("subquery must select at least one field")
	}
	return fields, order, nil
}
