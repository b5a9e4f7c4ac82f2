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
	guuid "github.com/google/uuid"
)

// UUID is an RFC 4122 UUID type.
// Cast accepts canonical string form, 16-byte
// slices, and uuid.UUID values; the dumped form
// is the 16-byte binary encoding, tagged as binary.
var UUID Type = uuidType{}

type uuidType struct{}

func (uuidType) Name() string { return "uuid" }

func (t uuidType) Cast(v any) (any, error) {
	switch v := v.(type) {
	case guuid.UUID:
		return v, nil
	case string:
		u, err := guuid.Parse(v)
		if err != nil {
			return nil, errcast(t, v)
		}
		return u, nil
	case []byte:
		u, err := guuid.FromBytes(v)
		if err != nil {
			return nil, errcast(t, v)
		}
		return u, nil
	}
	return nil, errcast(t, v)
}

func (t uuidType) Dump(v any) (any, error) {
	u, ok := v.(guuid.UUID)
	if !ok {
		return nil, errdump(t, v)
	}
	return Tagged{Type: Binary, Value: u[:]}, nil
}
