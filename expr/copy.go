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

package expr

// Copy returns a deep copy of e.
//
// The planner rewrites expression trees in place
// during join expansion and normalization, so it
// copies every clause up front to keep caller-held
// queries intact.
func Copy(e Node) Node {
	switch e := e.(type) {
	case nil:
		return nil
	case Int, Float, String, Bool, Null:
		return e
	case *BindRef:
		c := *e
		return &c
	case *Field:
		c := *e
		return &c
	case *Param:
		c := *e
		return &c
	case *Fragment:
		c := *e
		return &c
	case *Logical:
		return &Logical{Op: e.Op, Left: Copy(e.Left), Right: Copy(e.Right)}
	case *Not:
		return &Not{Expr: Copy(e.Expr)}
	case *IsNull:
		return &IsNull{Expr: Copy(e.Expr)}
	case *Comparison:
		return &Comparison{Op: e.Op, Left: Copy(e.Left), Right: Copy(e.Right)}
	case *Arithmetic:
		return &Arithmetic{Op: e.Op, Left: Copy(e.Left), Right: Copy(e.Right)}
	case *In:
		return &In{Left: Copy(e.Left), Right: Copy(e.Right)}
	case *List:
		items := make([]Node, len(e.Items))
		for i := range e.Items {
			items[i] = Copy(e.Items[i])
		}
		return &List{Items: items}
	case *Aggregate:
		out := &Aggregate{Op: e.Op, Type: e.Type}
		if e.Inner != nil {
			out.Inner = Copy(e.Inner)
		}
		return out
	case *TypeCoerce:
		out := &TypeCoerce{TargetName: e.TargetName, Type: e.Type, Inner: Copy(e.Inner)}
		if e.TargetField != nil {
			out.TargetField = Copy(e.TargetField).(*Field)
		}
		return out
	case *Ord:
		return &Ord{Col: Copy(e.Col), Desc: e.Desc}
	case *Assign:
		return &Assign{Op: e.Op, Field: e.Field, Value: Copy(e.Value)}
	default:
		panic("expr.Copy: unhandled node type")
	}
}
