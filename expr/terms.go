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

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/relplan/types"

	"golang.org/x/exp/slices"
)

// Int is an integer literal.
type Int int64

func (i Int) text(dst *strings.Builder) { fmt.Fprintf(dst, "%d", int64(i)) }

func (i Int) Equals(x Node) bool {
	xi, ok := x.(Int)
	return ok && xi == i
}

func (i Int) shape(dst *Shape) {
	dst.Tag(shapeInt)
	dst.I64(int64(i))
}

func (i Int) walk(v Visitor) {}

// Float is a floating-point literal.
type Float float64

func (f Float) text(dst *strings.Builder) { fmt.Fprintf(dst, "%g", float64(f)) }

func (f Float) Equals(x Node) bool {
	xf, ok := x.(Float)
	return ok && xf == f
}

func (f Float) shape(dst *Shape) {
	dst.Tag(shapeFloat)
	dst.F64(float64(f))
}

func (f Float) walk(v Visitor) {}

// String is a string literal.
type String string

func (s String) text(dst *strings.Builder) { fmt.Fprintf(dst, "%q", string(s)) }

func (s String) Equals(x Node) bool {
	xs, ok := x.(String)
	return ok && xs == s
}

func (s String) shape(dst *Shape) {
	dst.Tag(shapeString)
	dst.Str(string(s))
}

func (s String) walk(v Visitor) {}

// Bool is a boolean literal.
type Bool bool

func (b Bool) text(dst *strings.Builder) { fmt.Fprintf(dst, "%v", bool(b)) }

func (b Bool) Equals(x Node) bool {
	xb, ok := x.(Bool)
	return ok && xb == b
}

func (b Bool) shape(dst *Shape) {
	dst.Tag(shapeBool)
	dst.Bool(bool(b))
}

func (b Bool) walk(v Visitor) {}

// Null is the literal null.
type Null struct{}

func (n Null) text(dst *strings.Builder) { dst.WriteString("null") }

func (n Null) Equals(x Node) bool {
	_, ok := x.(Null)
	return ok
}

func (n Null) shape(dst *Shape) { dst.Tag(shapeNull) }

func (n Null) walk(v Visitor) {}

// BindRef references a whole source by binding index,
// as in a select projection that returns every field
// of one binding.
type BindRef struct {
	Ix int
}

func (b *BindRef) text(dst *strings.Builder) { fmt.Fprintf(dst, "$%d", b.Ix) }

func (b *BindRef) Equals(x Node) bool {
	xb, ok := x.(*BindRef)
	return ok && xb.Ix == b.Ix
}

func (b *BindRef) shape(dst *Shape) {
	dst.Tag(shapeBindRef)
	dst.U64(uint64(b.Ix))
}

func (b *BindRef) walk(v Visitor) {}

// Field is a dotted field reference $ix.name.
//
// Type is populated during normalization with the
// field's resolved scalar type; it is derived
// metadata and does not participate in equality.
type Field struct {
	Ix   int
	Name string
	Type types.Type
}

func (f *Field) text(dst *strings.Builder) { fmt.Fprintf(dst, "$%d.%s", f.Ix, f.Name) }

func (f *Field) Equals(x Node) bool {
	xf, ok := x.(*Field)
	return ok && xf.Ix == f.Ix && xf.Name == f.Name
}

func (f *Field) shape(dst *Shape) {
	dst.Tag(shapeField)
	dst.U64(uint64(f.Ix))
	dst.Str(f.Name)
}

func (f *Field) walk(v Visitor) {}

// Param is an interpolated-parameter placeholder.
//
// Before normalization Ix is local to the clause that
// owns the parameter; normalization renumbers Ix into
// the single global placeholder space. For spread
// parameters (an interpolated list spliced into an IN
// clause) Ix is the global start index and Len the
// number of values occupied.
type Param struct {
	Ix     int
	Len    int
	Spread bool
}

func (p *Param) text(dst *strings.Builder) {
	if p.Spread {
		fmt.Fprintf(dst, "^(%d:%d)", p.Ix, p.Len)
		return
	}
	fmt.Fprintf(dst, "^%d", p.Ix)
}

func (p *Param) Equals(x Node) bool {
	xp, ok := x.(*Param)
	return ok && *xp == *p
}

// parameters are erased to a bare placeholder:
// two queries differing only in parameter values
// must produce identical shapes
func (p *Param) shape(dst *Shape) { dst.Tag(shapeParam) }

func (p *Param) walk(v Visitor) {}

// LogicalOp is a boolean combinator.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
)

func (o LogicalOp) String() string {
	if o == OpAnd {
		return "and"
	}
	return "or"
}

// Logical is a binary boolean expression.
type Logical struct {
	Op          LogicalOp
	Left, Right Node
}

// And conjoins two boolean expressions, treating a
// nil side as absent.
func And(a, b Node) Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &Logical{Op: OpAnd, Left: a, Right: b}
}

func (l *Logical) text(dst *strings.Builder) {
	dst.WriteByte('(')
	l.Left.text(dst)
	dst.WriteByte(' ')
	dst.WriteString(l.Op.String())
	dst.WriteByte(' ')
	l.Right.text(dst)
	dst.WriteByte(')')
}

func (l *Logical) Equals(x Node) bool {
	xl, ok := x.(*Logical)
	return ok && xl.Op == l.Op && l.Left.Equals(xl.Left) && l.Right.Equals(xl.Right)
}

func (l *Logical) shape(dst *Shape) {
	dst.Tag(shapeLogical)
	dst.U64(uint64(l.Op))
	l.Left.shape(dst)
	l.Right.shape(dst)
}

func (l *Logical) walk(v Visitor) {
	Walk(v, l.Left)
	Walk(v, l.Right)
}

func (l *Logical) rewrite(r Rewriter) Node {
	l.Left = Rewrite(r, l.Left)
	l.Right = Rewrite(r, l.Right)
	return l
}

// Not negates a boolean expression.
type Not struct {
	Expr Node
}

func (n *Not) text(dst *strings.Builder) {
	dst.WriteString("not ")
	n.Expr.text(dst)
}

func (n *Not) Equals(x Node) bool {
	xn, ok := x.(*Not)
	return ok && n.Expr.Equals(xn.Expr)
}

func (n *Not) shape(dst *Shape) {
	dst.Tag(shapeNot)
	n.Expr.shape(dst)
}

func (n *Not) walk(v Visitor) { Walk(v, n.Expr) }

func (n *Not) rewrite(r Rewriter) Node {
	n.Expr = Rewrite(r, n.Expr)
	return n
}

// IsNull tests a value for null-ness.
type IsNull struct {
	Expr Node
}

func (n *IsNull) text(dst *strings.Builder) {
	dst.WriteString("is_nil(")
	n.Expr.text(dst)
	dst.WriteByte(')')
}

func (n *IsNull) Equals(x Node) bool {
	xn, ok := x.(*IsNull)
	return ok && n.Expr.Equals(xn.Expr)
}

func (n *IsNull) shape(dst *Shape) {
	dst.Tag(shapeIsNull)
	n.Expr.shape(dst)
}

func (n *IsNull) walk(v Visitor) { Walk(v, n.Expr) }

func (n *IsNull) rewrite(r Rewriter) Node {
	n.Expr = Rewrite(r, n.Expr)
	return n
}

// CmpOp is a comparison operator.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpLike
)

func (o CmpOp) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLike:
		return "like"
	default:
		return "?"
	}
}

// Comparison is a binary comparison expression.
type Comparison struct {
	Op          CmpOp
	Left, Right Node
}

func (c *Comparison) text(dst *strings.Builder) {
	c.Left.text(dst)
	dst.WriteByte(' ')
	dst.WriteString(c.Op.String())
	dst.WriteByte(' ')
	c.Right.text(dst)
}

func (c *Comparison) Equals(x Node) bool {
	xc, ok := x.(*Comparison)
	return ok && xc.Op == c.Op && c.Left.Equals(xc.Left) && c.Right.Equals(xc.Right)
}

func (c *Comparison) shape(dst *Shape) {
	dst.Tag(shapeCompare)
	dst.U64(uint64(c.Op))
	c.Left.shape(dst)
	c.Right.shape(dst)
}

func (c *Comparison) walk(v Visitor) {
	Walk(v, c.Left)
	Walk(v, c.Right)
}

func (c *Comparison) rewrite(r Rewriter) Node {
	c.Left = Rewrite(r, c.Left)
	c.Right = Rewrite(r, c.Right)
	return c
}

// ArithOp is an arithmetic operator.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
)

func (o ArithOp) String() string {
	switch o {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return "?"
	}
}

// Arithmetic is a binary arithmetic expression.
type Arithmetic struct {
	Op          ArithOp
	Left, Right Node
}

func (a *Arithmetic) text(dst *strings.Builder) {
	dst.WriteByte('(')
	a.Left.text(dst)
	dst.WriteByte(' ')
	dst.WriteString(a.Op.String())
	dst.WriteByte(' ')
	a.Right.text(dst)
	dst.WriteByte(')')
}

func (a *Arithmetic) Equals(x Node) bool {
	xa, ok := x.(*Arithmetic)
	return ok && xa.Op == a.Op && a.Left.Equals(xa.Left) && a.Right.Equals(xa.Right)
}

func (a *Arithmetic) shape(dst *Shape) {
	dst.Tag(shapeArith)
	dst.U64(uint64(a.Op))
	a.Left.shape(dst)
	a.Right.shape(dst)
}

func (a *Arithmetic) walk(v Visitor) {
	Walk(v, a.Left)
	Walk(v, a.Right)
}

func (a *Arithmetic) rewrite(r Rewriter) Node {
	a.Left = Rewrite(r, a.Left)
	a.Right = Rewrite(r, a.Right)
	return a
}

// In is a membership test. Right is either a List or
// a spread Param (an interpolated list whose length is
// unknown at plan-shape time).
type In struct {
	Left, Right Node
}

func (i *In) text(dst *strings.Builder) {
	i.Left.text(dst)
	dst.WriteString(" in ")
	i.Right.text(dst)
}

func (i *In) Equals(x Node) bool {
	xi, ok := x.(*In)
	return ok && i.Left.Equals(xi.Left) && i.Right.Equals(xi.Right)
}

func (i *In) shape(dst *Shape) {
	dst.Tag(shapeIn)
	i.Left.shape(dst)
	i.Right.shape(dst)
}

func (i *In) walk(v Visitor) {
	Walk(v, i.Left)
	Walk(v, i.Right)
}

func (i *In) rewrite(r Rewriter) Node {
	i.Left = Rewrite(r, i.Left)
	i.Right = Rewrite(r, i.Right)
	return i
}

// List is an ordered list of expressions.
type List struct {
	Items []Node
}

func (l *List) text(dst *strings.Builder) {
	dst.WriteByte('[')
	for i := range l.Items {
		if i > 0 {
			dst.WriteString(", ")
		}
		l.Items[i].text(dst)
	}
	dst.WriteByte(']')
}

func (l *List) Equals(x Node) bool {
	xl, ok := x.(*List)
	return ok && slices.EqualFunc(l.Items, xl.Items, Node.Equals)
}

func (l *List) shape(dst *Shape) {
	dst.Tag(shapeList)
	dst.U64(uint64(len(l.Items)))
	for i := range l.Items {
		l.Items[i].shape(dst)
	}
}

func (l *List) walk(v Visitor) {
	for i := range l.Items {
		Walk(v, l.Items[i])
	}
}

func (l *List) rewrite(r Rewriter) Node {
	for i := range l.Items {
		l.Items[i] = Rewrite(r, l.Items[i])
	}
	return l
}

// Fragment is an opaque backend expression embedded
// verbatim. The planner treats its contents as a
// black box of type any.
type Fragment struct {
	Text string
}

func (f *Fragment) text(dst *strings.Builder) {
	dst.WriteString("fragment(")
	fmt.Fprintf(dst, "%q", f.Text)
	dst.WriteByte(')')
}

func (f *Fragment) Equals(x Node) bool {
	xf, ok := x.(*Fragment)
	return ok && xf.Text == f.Text
}

func (f *Fragment) shape(dst *Shape) {
	dst.Tag(shapeFragment)
	dst.Str(f.Text)
}

func (f *Fragment) walk(v Visitor) {}

// AggOp is an aggregate function.
type AggOp int

const (
	OpCount AggOp = iota
	OpSum
	OpAvg
	OpMin
	OpMax
)

func (o AggOp) String() string {
	switch o {
	case OpCount:
		return "count"
	case OpSum:
		return "sum"
	case OpAvg:
		return "avg"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	default:
		return "?"
	}
}

// Aggregate applies an aggregate function to an
// expression in a select projection. Type carries the
// resolved result type after normalization.
type Aggregate struct {
	Op    AggOp
	Inner Node
	Type  types.Type
}

func (a *Aggregate) text(dst *strings.Builder) {
	dst.WriteString(a.Op.String())
	dst.WriteByte('(')
	if a.Inner != nil {
		a.Inner.text(dst)
	} else {
		dst.WriteByte('*')
	}
	dst.WriteByte(')')
}

func (a *Aggregate) Equals(x Node) bool {
	xa, ok := x.(*Aggregate)
	if !ok || xa.Op != a.Op {
		return false
	}
	if (a.Inner == nil) != (xa.Inner == nil) {
		return false
	}
	return a.Inner == nil || a.Inner.Equals(xa.Inner)
}

func (a *Aggregate) shape(dst *Shape) {
	dst.Tag(shapeAggregate)
	dst.U64(uint64(a.Op))
	// optional children carry a presence flag so the
	// encoding stays injective across sibling nodes
	dst.Bool(a.Inner != nil)
	if a.Inner != nil {
		a.Inner.shape(dst)
	}
}

func (a *Aggregate) walk(v Visitor) {
	if a.Inner != nil {
		Walk(v, a.Inner)
	}
}

func (a *Aggregate) rewrite(r Rewriter) Node {
	if a.Inner != nil {
		a.Inner = Rewrite(r, a.Inner)
	}
	return a
}

// TypeCoerce is a type(value, target) coercion
// marker. Exactly one of TargetName or TargetField is
// set; the normalizer resolves it and records the
// concrete type in Type.
type TypeCoerce struct {
	Inner       Node
	TargetName  string
	TargetField *Field
	Type        types.Type
}

func (t *TypeCoerce) text(dst *strings.Builder) {
	dst.WriteString("type(")
	t.Inner.text(dst)
	dst.WriteString(", ")
	if t.TargetField != nil {
		t.TargetField.text(dst)
	} else {
		dst.WriteString(t.TargetName)
	}
	dst.WriteByte(')')
}

func (t *TypeCoerce) Equals(x Node) bool {
	xt, ok := x.(*TypeCoerce)
	if !ok || xt.TargetName != t.TargetName {
		return false
	}
	if (t.TargetField == nil) != (xt.TargetField == nil) {
		return false
	}
	if t.TargetField != nil && !t.TargetField.Equals(xt.TargetField) {
		return false
	}
	return t.Inner.Equals(xt.Inner)
}

func (t *TypeCoerce) shape(dst *Shape) {
	dst.Tag(shapeCoerce)
	dst.Str(t.TargetName)
	dst.Bool(t.TargetField != nil)
	if t.TargetField != nil {
		t.TargetField.shape(dst)
	}
	t.Inner.shape(dst)
}

func (t *TypeCoerce) walk(v Visitor) {
	Walk(v, t.Inner)
	if t.TargetField != nil {
		Walk(v, t.TargetField)
	}
}

func (t *TypeCoerce) rewrite(r Rewriter) Node {
	t.Inner = Rewrite(r, t.Inner)
	if t.TargetField != nil {
		if f, ok := Rewrite(r, t.TargetField).(*Field); ok {
			t.TargetField = f
		}
	}
	return t
}

// Ord is one ordering term of an order_by clause.
type Ord struct {
	Col  Node
	Desc bool
}

func (o *Ord) text(dst *strings.Builder) {
	o.Col.text(dst)
	if o.Desc {
		dst.WriteString(" desc")
	} else {
		dst.WriteString(" asc")
	}
}

func (o *Ord) Equals(x Node) bool {
	xo, ok := x.(*Ord)
	return ok && xo.Desc == o.Desc && o.Col.Equals(xo.Col)
}

func (o *Ord) shape(dst *Shape) {
	dst.Tag(shapeOrd)
	dst.Bool(o.Desc)
	o.Col.shape(dst)
}

func (o *Ord) walk(v Visitor) { Walk(v, o.Col) }

func (o *Ord) rewrite(r Rewriter) Node {
	o.Col = Rewrite(r, o.Col)
	return o
}

// UpdateOp is an update-clause operator.
type UpdateOp int

const (
	OpSet UpdateOp = iota
	OpInc
	OpPush
	OpPull
)

func (o UpdateOp) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpInc:
		return "inc"
	case OpPush:
		return "push"
	case OpPull:
		return "pull"
	default:
		return "?"
	}
}

// Assign is one field assignment of an update clause.
// Field is a bare field name on the from-binding.
type Assign struct {
	Op    UpdateOp
	Field string
	Value Node
}

func (a *Assign) text(dst *strings.Builder) {
	dst.WriteString(a.Op.String())
	dst.WriteByte('(')
	dst.WriteString(a.Field)
	dst.WriteString(", ")
	a.Value.text(dst)
	dst.WriteByte(')')
}

func (a *Assign) Equals(x Node) bool {
	xa, ok := x.(*Assign)
	return ok && xa.Op == a.Op && xa.Field == a.Field && a.Value.Equals(xa.Value)
}

func (a *Assign) shape(dst *Shape) {
	dst.Tag(shapeAssign)
	dst.U64(uint64(a.Op))
	dst.Str(a.Field)
	a.Value.shape(dst)
}

func (a *Assign) walk(v Visitor) { Walk(v, a.Value) }

func (a *Assign) rewrite(r Rewriter) Node {
	a.Value = Rewrite(r, a.Value)
	return a
}
