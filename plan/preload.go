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
	"github.com/SnellerInc/relplan/query"
)

// validateAssocs checks the join-backed preload tree:
// every requested association must exist on the owning
// binding's schema, and the join that supplies it must
// be an inner or left join. Runs after join expansion,
// so binding indices are final.
func (p *planner) validateAssocs(q *query.Query) error {
	return p.validateAssocTree(q, q.Assocs, 0)
}

func (p *planner) validateAssocTree(q *query.Query, as []query.Assoc, ownerIx int) error {
	if len(as) == 0 {
		return nil
	}
	tbl, ok := q.Sources[ownerIx].(query.Table)
	if !ok || tbl.Schema == nil {
		return errstruct("cannot preload associations on %s because it does not have a schema",
			q.Sources[ownerIx].Name())
	}
	for i := range as {
		a := &as[i]
		if tbl.Schema.Association(a.Field) == nil {
			return errstruct("field `%s` in preload is not an association on schema %q",
				a.Field, tbl.Schema.SourceName())
		}
		join := findJoin(q, a.Ix)
		if join == nil {
			return errstruct("preload of `%s` references binding $%d, which no join supplies",
				a.Field, a.Ix)
		}
		if join.Kind != query.InnerJoin && join.Kind != query.LeftJoin {
			return errstruct("preload of `%s` requires an inner or left join, got %s join",
				a.Field, join.Kind)
		}
		if err := p.validateAssocTree(q, a.Children, a.Ix); err != nil {
			return err
		}
	}
	return nil
}

func findJoin(q *query.Query, ix int) *query.JoinExpr {
	for _, j := range q.Joins {
		if j.Ix == ix {
			return j
		}
	}
	return nil
}
