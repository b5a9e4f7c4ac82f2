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

package types

import "fmt"

// Array returns the composite type "array of elem".
// Array types are first-class: they cast and dump
// element-wise, and uniformly re-tag arrays whose
// elements dump to tagged values so the backend sees
// one element representation per list.
func Array(elem Type) Type {
	return arrayType{elem: elem}
}

type arrayType struct {
	elem Type
}

func (a arrayType) Name() string {
	return fmt.Sprintf("array(%s)", a.elem.Name())
}

// Elem returns the element type of an array type,
// or nil if t is not an array.
func Elem(t Type) Type {
	if a, ok := t.(arrayType); ok {
		return a.elem
	}
	return nil
}

func (a arrayType) Cast(v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, errcast(a, v)
	}
	out := make([]any, len(items))
	for i := range items {
		cast, err := a.elem.Cast(items[i])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = cast
	}
	return out, nil
}

func (a arrayType) Dump(v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, errdump(a, v)
	}
	out := make([]any, len(items))
	tagged := false
	for i := range items {
		d, err := a.elem.Dump(items[i])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if t, ok := d.(Tagged); ok {
			// unwrap per-element tags; the array
			// itself carries the tag instead
			d = t.Value
			tagged = true
		}
		out[i] = d
	}
	if tagged {
		return Tagged{Type: a, Value: out}, nil
	}
	return out, nil
}
