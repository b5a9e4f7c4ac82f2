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
	"encoding/binary"
	"math"
)

// shape tags; one byte per node kind.
// The exact values are arbitrary but must never
// collide, since cache keys are compared byte-wise.
const (
	shapeInt byte = iota + 1
	shapeFloat
	shapeString
	shapeBool
	shapeNull
	shapeBindRef
	shapeField
	shapeParam
	shapeLogical
	shapeNot
	shapeIsNull
	shapeCompare
	shapeArith
	shapeIn
	shapeList
	shapeFragment
	shapeAggregate
	shapeCoerce
	shapeOrd
	shapeAssign
)

// Shape accumulates the canonical structural encoding
// of expressions with parameter values erased.
//
// The encoding is injective over everything that
// affects compilation: two expression trees append
// identical bytes iff they are compile-equivalent,
// i.e. they differ at most in the values bound to
// their parameter placeholders. The planner uses the
// accumulated bytes directly as the cache key.
type Shape struct {
	buf []byte
}

// Tag appends a single discriminator byte.
func (s *Shape) Tag(b byte) {
	s.buf = append(s.buf, b)
}

// Str appends a length-prefixed string.
func (s *Shape) Str(v string) {
	s.U64(uint64(len(v)))
	s.buf = append(s.buf, v...)
}

// U64 appends an unsigned integer (varint).
func (s *Shape) U64(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	s.buf = append(s.buf, tmp[:n]...)
}

// I64 appends a signed integer (zigzag varint).
func (s *Shape) I64(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	s.buf = append(s.buf, tmp[:n]...)
}

// F64 appends a float as its IEEE 754 bits.
func (s *Shape) F64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	s.buf = append(s.buf, tmp[:]...)
}

// Bool appends a boolean.
func (s *Shape) Bool(v bool) {
	if v {
		s.buf = append(s.buf, 1)
	} else {
		s.buf = append(s.buf, 0)
	}
}

// Node appends the canonical shape of n.
func (s *Shape) Node(n Node) {
	n.shape(s)
}

// Bytes returns the accumulated encoding.
func (s *Shape) Bytes() []byte { return s.buf }

// String returns the accumulated encoding as a string
// suitable for use as a map key.
func (s *Shape) String() string { return string(s.buf) }
