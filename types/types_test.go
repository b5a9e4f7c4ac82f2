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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntCast(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		err  bool
	}{
		{in: 1, want: 1},
		{in: int8(-3), want: -3},
		{in: int64(1 << 40), want: 1 << 40},
		{in: uint32(7), want: 7},
		{in: float64(3), want: 3},
		{in: "1", want: 1},
		{in: "-42", want: -42},
		{in: float64(3.5), err: true},
		{in: "x", err: true},
		{in: "1.5", err: true},
		{in: uint64(1) << 63, err: true},
		{in: true, err: true},
		{in: nil, err: true},
	}
	for i := range tests {
		got, err := Int.Cast(tests[i].in)
		if tests[i].err {
			assert.Error(t, err, "case %d", i)
			continue
		}
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, tests[i].want, got, "case %d", i)
	}
}

func TestFloatCast(t *testing.T) {
	got, err := Float.Cast("2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
	got, err = Float.Cast(3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
	_, err = Float.Cast("abc")
	assert.Error(t, err)
}

func TestBoolCast(t *testing.T) {
	got, err := Bool.Cast("true")
	require.NoError(t, err)
	assert.Equal(t, true, got)
	_, err = Bool.Cast("yes")
	assert.Error(t, err)
	_, err = Bool.Cast(1)
	assert.Error(t, err)
}

func TestDatetimeCast(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	in := time.Date(2023, 4, 1, 12, 30, 0, 0, loc)
	got, err := Datetime.Cast(in)
	require.NoError(t, err)
	assert.Equal(t, in.UTC(), got)

	got, err = Datetime.Cast("2023-04-01T12:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, in.UTC(), got)

	_, err = Datetime.Cast("april fools")
	assert.Error(t, err)
}

func TestBinaryDumpTagged(t *testing.T) {
	cast, err := Binary.Cast("abc")
	require.NoError(t, err)
	out, err := Binary.Dump(cast)
	require.NoError(t, err)
	tagged, ok := out.(Tagged)
	require.True(t, ok, "binary dump must be tagged")
	assert.Equal(t, Binary, tagged.Type)
	assert.Equal(t, []byte("abc"), tagged.Value)
}

func TestUUID(t *testing.T) {
	const text = "0d7cefbe-4f6c-4ea3-8d1e-9a9f27b2fb0f"
	cast, err := UUID.Cast(text)
	require.NoError(t, err)
	out, err := UUID.Dump(cast)
	require.NoError(t, err)
	tagged, ok := out.(Tagged)
	require.True(t, ok)
	assert.Equal(t, Binary, tagged.Type)
	raw, ok := tagged.Value.([]byte)
	require.True(t, ok)
	assert.Len(t, raw, 16)

	// the binary form round-trips through Cast
	back, err := UUID.Cast(raw)
	require.NoError(t, err)
	assert.Equal(t, cast, back)

	_, err = UUID.Cast("not-a-uuid")
	assert.Error(t, err)
	_, err = UUID.Cast([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestArray(t *testing.T) {
	at := Array(Int)
	assert.Equal(t, "array(integer)", at.Name())
	assert.Equal(t, Int, Elem(at))
	assert.Nil(t, Elem(Int))

	cast, err := at.Cast([]any{"1", 2, int64(3)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, cast)

	_, err = at.Cast([]any{"1", "x"})
	assert.Error(t, err)
	_, err = at.Cast("1")
	assert.Error(t, err)

	out, err := at.Dump(cast)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out)
}

func TestArrayDumpRetags(t *testing.T) {
	// per-element tags are lifted onto the array
	ab := Array(Binary)
	cast, err := ab.Cast([]any{"a", "b"})
	require.NoError(t, err)
	out, err := ab.Dump(cast)
	require.NoError(t, err)
	tagged, ok := out.(Tagged)
	require.True(t, ok)
	assert.Equal(t, ab, tagged.Type)
	assert.Equal(t, []any{[]byte("a"), []byte("b")}, tagged.Value)
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{
		"integer", "id", "float", "boolean", "string",
		"binary", "uuid", "datetime", "any",
	} {
		tt := Lookup(name)
		require.NotNil(t, tt, "type %s not registered", name)
		assert.Equal(t, name, tt.Name())
	}
	assert.Nil(t, Lookup("no-such-type"))
}

type dumpAdapter struct{ handle bool }

func (dumpAdapter) Name() string { return "dumper" }

func (d dumpAdapter) DumpValue(t Type, v any) (any, bool, error) {
	if !d.handle {
		return nil, false, nil
	}
	return "overridden", true, nil
}

type plainAdapter struct{}

func (plainAdapter) Name() string { return "plain" }

func TestDumpAdapterOverride(t *testing.T) {
	out, err := Dump(dumpAdapter{handle: true}, Int, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "overridden", out)

	// unhandled values fall back to the type's Dump
	out, err = Dump(dumpAdapter{handle: false}, Int, int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)

	out, err = Dump(plainAdapter{}, Int, int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)
}
