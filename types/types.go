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

// Package types implements the scalar type system
// used by the query planner.
//
// A Type knows how to coerce user-supplied values
// into a canonical runtime representation (Cast)
// and how to encode canonical values for a particular
// backend (Dump, optionally overridden per-adapter).
// New types can be added at runtime with Register.
package types

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

// Type is a scalar type understood by the planner.
type Type interface {
	// Name returns the canonical name of the type.
	// Name is used to look up the type in the registry,
	// so it must be unique across registered types.
	Name() string

	// Cast coerces v into the canonical runtime
	// representation of the type, or returns an
	// error if v cannot represent a value of this type.
	Cast(v any) (any, error)

	// Dump encodes an already-cast value into the
	// generic backend representation. Adapters can
	// override Dump by implementing Dumper.
	Dump(v any) (any, error)
}

// Adapter identifies a backend to Dump.
type Adapter interface {
	// Name returns the adapter name
	// (used only for diagnostics).
	Name() string
}

// Dumper may be implemented by an Adapter that needs
// to override the encoding of particular types.
// DumpValue should return handled=false to fall back
// to the type's own Dump.
type Dumper interface {
	DumpValue(t Type, v any) (out any, handled bool, err error)
}

// Dump encodes v, already cast to t, for the adapter a.
func Dump(a Adapter, t Type, v any) (any, error) {
	if d, ok := a.(Dumper); ok {
		out, handled, err := d.DumpValue(t, v)
		if err != nil || handled {
			return out, err
		}
	}
	return t.Dump(v)
}

// Tagged is a dumped value that carries its type tag
// through to the backend. Tagged values are produced
// for types whose wire representation is ambiguous
// without the tag (binary-encoded types, arrays of
// such, and nil values in update clauses).
type Tagged struct {
	Type  Type
	Value any
}

var (
	registry   = make(map[string]Type)
	registryMu sync.RWMutex
)

// Register adds t to the global type registry
// under t.Name. Registering two types with the
// same name is a programming error and panics.
func Register(t Type) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[t.Name()]; ok {
		panic("types: duplicate registration of " + t.Name())
	}
	registry[t.Name()] = t
}

// Lookup returns the registered type with the
// given name, or nil if no such type exists.
func Lookup(name string) Type {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

func init() {
	for _, t := range []Type{
		Int, Float, Bool, String, ID, Binary, UUID, Datetime, Any,
	} {
		Register(t)
	}
}

func errcast(t Type, v any) error {
	return fmt.Errorf("cannot cast %v (%T) to type %s", v, v, t.Name())
}

func errdump(t Type, v any) error {
	return fmt.Errorf("cannot dump %v (%T) to type %s", v, v, t.Name())
}

// Int is a 64-bit signed integer type.
// Cast accepts Go integers, integral floats,
// and decimal strings.
var Int Type = intType{}

type intType struct{}

func (intType) Name() string { return "integer" }

func (t intType) Cast(v any) (any, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, errcast(t, v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, errcast(t, v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errcast(t, v)
		}
		return i, nil
	}
	return nil, errcast(t, v)
}

func (t intType) Dump(v any) (any, error) {
	if i, ok := v.(int64); ok {
		return i, nil
	}
	return nil, errdump(t, v)
}

// ID is the type of primary and foreign keys.
// It behaves like Int but is registered separately
// so schemas can distinguish key columns.
var ID Type = idType{}

type idType struct{}

func (idType) Name() string { return "id" }

func (t idType) Cast(v any) (any, error) {
	out, err := Int.Cast(v)
	if err != nil {
		return nil, errcast(t, v)
	}
	return out, nil
}

func (t idType) Dump(v any) (any, error) {
	if i, ok := v.(int64); ok {
		return i, nil
	}
	return nil, errdump(t, v)
}

// Float is a 64-bit floating point type.
var Float Type = floatType{}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (t floatType) Cast(v any) (any, error) {
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errcast(t, v)
		}
		return f, nil
	}
	return nil, errcast(t, v)
}

func (t floatType) Dump(v any) (any, error) {
	if f, ok := v.(float64); ok {
		return f, nil
	}
	return nil, errdump(t, v)
}

// Bool is the boolean type.
var Bool Type = boolType{}

type boolType struct{}

func (boolType) Name() string { return "boolean" }

func (t boolType) Cast(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, errcast(t, v)
}

func (t boolType) Dump(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return nil, errdump(t, v)
}

// String is the UTF-8 string type.
var String Type = stringType{}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (t stringType) Cast(v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, errcast(t, v)
}

func (t stringType) Dump(v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, errdump(t, v)
}

// Binary is a raw byte-string type.
// Dumped values are tagged so backends can
// distinguish them from text.
var Binary Type = binaryType{}

type binaryType struct{}

func (binaryType) Name() string { return "binary" }

func (t binaryType) Cast(v any) (any, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errcast(t, v)
}

func (t binaryType) Dump(v any) (any, error) {
	if b, ok := v.([]byte); ok {
		return Tagged{Type: t, Value: b}, nil
	}
	return nil, errdump(t, v)
}

// Datetime is a UTC timestamp type.
// Cast accepts time.Time and RFC 3339 strings.
var Datetime Type = datetimeType{}

type datetimeType struct{}

func (datetimeType) Name() string { return "datetime" }

func (t datetimeType) Cast(v any) (any, error) {
	switch v := v.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errcast(t, v)
		}
		return tm.UTC(), nil
	}
	return nil, errcast(t, v)
}

func (t datetimeType) Dump(v any) (any, error) {
	if tm, ok := v.(time.Time); ok {
		return tm.UTC(), nil
	}
	return nil, errdump(t, v)
}

// Any is the permissive type used for fragment-typed
// bindings and schemaless sources: every value casts
// and dumps to itself.
var Any Type = anyType{}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Cast(v any) (any, error) { return v, nil }

func (anyType) Dump(v any) (any, error) { return v, nil }
