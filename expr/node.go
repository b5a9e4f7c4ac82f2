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

// Package expr defines the expression trees that
// query clauses are built from, plus the traversal
// primitives (Walk, Rewrite) used by the planner to
// analyze and rewrite them.
//
// Expressions reference query sources by zero-based
// binding index rather than by embedded pointers, so
// renumbering bindings across join expansion is a pure
// integer rewrite over an otherwise-immutable tree.
package expr

import (
	"strings"
)

// Node is a node in an expression tree.
type Node interface {
	// text writes the diagnostic rendering of
	// the node to dst
	text(dst *strings.Builder)

	// Equals returns whether this node is
	// structurally equal to x
	Equals(x Node) bool

	// shape appends the canonical, parameter-erased
	// structural encoding of the node to dst;
	// two nodes append identical bytes iff they are
	// compile-equivalent (see Shape)
	shape(dst *Shape)

	// walk invokes Walk on each child of the node
	walk(v Visitor)
}

// Visitor is an interface that must
// be satisfied by the argument to Walk.
//
// A Visitor's Visit method is invoked for each node
// encountered by Walk. If the result visitor w is not
// nil, Walk visits each of the children of node with
// the visitor w, followed by a call of w.Visit(nil).
//
// (see also: ast.Visitor)
type Visitor interface {
	Visit(Node) Visitor
}

// Walk traverses an expression tree in depth-first,
// left-to-right order. That order is load-bearing:
// parameter placeholders are numbered by it.
func Walk(v Visitor, n Node) {
	if n == nil {
		return
	}
	w := v.Visit(n)
	if w != nil {
		n.walk(w)
		w.Visit(nil)
	}
}

// WalkFn adapts a function to the Visitor interface;
// traversal descends below a node iff the function
// returns true for it.
type WalkFn func(Node) bool

func (f WalkFn) Visit(n Node) Visitor {
	if n == nil || !f(n) {
		return nil
	}
	return f
}

// Rewriter accepts a Node and returns
// a new node (or just its argument).
type Rewriter interface {
	// Rewrite is applied to nodes
	// in depth-first order, and each
	// node is re-written to use the
	// returned value.
	Rewrite(Node) Node

	// Walk is called during node traversal
	// and the returned Rewriter is used for
	// all the children of Node.
	// If the returned rewriter is nil,
	// then traversal does not proceed past Node.
	Walk(Node) Rewriter
}

type nonleaf interface {
	rewrite(r Rewriter) Node
}

// Rewrite recursively applies a Rewriter in
// depth-first, left-to-right order.
func Rewrite(r Rewriter, n Node) Node {
	if n == nil {
		return nil
	}
	if nl, ok := n.(nonleaf); ok {
		if rc := r.Walk(n); rc != nil {
			n = nl.rewrite(rc)
		}
	}
	return r.Rewrite(n)
}

// RewriteFn adapts a leaf-rewriting function to the
// Rewriter interface; traversal always descends.
type RewriteFn func(Node) Node

func (f RewriteFn) Rewrite(n Node) Node { return f(n) }

func (f RewriteFn) Walk(Node) Rewriter { return f }

// ToString returns the diagnostic rendering of n.
// Parameter values are never included, so the result
// is safe to embed in error messages and logs.
func ToString(n Node) string {
	if n == nil {
		return "<nil>"
	}
	var dst strings.Builder
	n.text(&dst)
	return dst.String()
}
