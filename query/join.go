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

// JoinKind is the join qualifier.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	RightJoin
	FullJoin
	CrossJoin
)

func (k JoinKind) String() string {
	switch k {
	case InnerJoin:
		return "inner"
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case FullJoin:
		return "full"
	case CrossJoin:
		return "cross"
	default:
		return "unknown"
	}
}

// AssocJoin qualifies a join as an association join:
// join the association Name of binding ParentIx.
// The join expander replaces it with concrete joins
// and clears the descriptor.
type AssocJoin struct {
	ParentIx int
	Name     string
}

// JoinExpr is one join of a query.
//
// Ix is the binding index the join introduces.
// At construction it is the positional declaration
// index; the join expander renumbers it (and every
// expression referencing it) into the final flat
// index space.
type JoinExpr struct {
	Kind   JoinKind
	Source any
	On     *Clause
	Ix     int
	Assoc  *AssocJoin
}

func (j *JoinExpr) clone() *JoinExpr {
	out := *j
	out.On = j.On.clone()
	if j.Assoc != nil {
		a := *j.Assoc
		out.Assoc = &a
	}
	return &out
}
