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

// Package schema provides the read-only metadata
// capability consumed by the query planner: the
// list of fields a source declares, their types,
// its primary key, and its associations.
//
// The planner only depends on the Schema interface;
// Def is the concrete implementation used by tests
// and by schemas loaded from YAML definitions
// (see LoadDefs).
package schema

import (
	"fmt"
	"sort"

	"github.com/SnellerInc/relplan/types"

	"github.com/dchest/siphash"
)

// Schema is the metadata the planner can ask of
// a schema-backed source.
type Schema interface {
	// SourceName returns the name of the underlying
	// table or collection.
	SourceName() string

	// Fields returns the declared field names
	// in declaration order.
	Fields() []string

	// FieldType returns the type of the named field,
	// or nil if the field is not declared.
	FieldType(name string) types.Type

	// PrimaryKey returns the primary key field names.
	PrimaryKey() []string

	// Association returns the named association,
	// or nil if the schema does not declare it.
	Association(name string) *Association

	// Hash returns a stable content hash of the
	// schema. Two schemas with equal hashes are
	// treated as interchangeable by the plan cache.
	Hash() uint64
}

// AssociationKind discriminates association shapes.
type AssociationKind int

const (
	// BelongsTo: the owner holds the foreign key.
	BelongsTo AssociationKind = iota
	// Has: the related schema holds the foreign key.
	Has
	// Through: the association traverses other
	// associations by name.
	Through
)

func (k AssociationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case Has:
		return "has"
	case Through:
		return "through"
	default:
		return "unknown"
	}
}

// Association describes a schema-declared relationship
// that a join can be expressed through.
type Association struct {
	Name    string
	Kind    AssociationKind
	Owner   Schema
	Related Schema // nil for Through

	// OwnerKey and RelatedKey are the join key fields
	// on the owner and related schemas respectively.
	// Unused for Through associations.
	OwnerKey   string
	RelatedKey string

	// Path names the associations traversed by a
	// Through association, in order, starting at
	// the owner.
	Path []string
}

// Hop is one concrete step of an association join
// chain: join Related on Related.RelatedKey = owner.OwnerKey.
type Hop struct {
	Related    Schema
	OwnerKey   string
	RelatedKey string
}

// Hops flattens the association into its concrete
// join chain, resolving Through associations
// recursively. The returned slice has one entry per
// join that must be emitted, ordered from the owner
// outward.
func (a *Association) Hops() ([]Hop, error) {
	switch a.Kind {
	case BelongsTo, Has:
		return []Hop{{Related: a.Related, OwnerKey: a.OwnerKey, RelatedKey: a.RelatedKey}}, nil
	case Through:
		var out []Hop
		owner := a.Owner
		for _, name := range a.Path {
			next := owner.Association(name)
			if next == nil {
				return nil, fmt.Errorf("association %q traverses unknown association %q on %s",
					a.Name, name, owner.SourceName())
			}
			hops, err := next.Hops()
			if err != nil {
				return nil, err
			}
			out = append(out, hops...)
			owner = out[len(out)-1].Related
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("association %q has an empty path", a.Name)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("association %q has unknown kind", a.Name)
	}
}

// Def is a concrete Schema built programmatically
// or loaded from a YAML definition.
type Def struct {
	name   string
	fields []string
	ftypes map[string]types.Type
	pkey   []string
	assocs map[string]*Association

	hash uint64 // computed lazily, 0 = not yet computed
}

// NewDef creates an empty schema definition
// for the given source name.
func NewDef(name string) *Def {
	return &Def{
		name:   name,
		ftypes: make(map[string]types.Type),
		assocs: make(map[string]*Association),
	}
}

// Field declares a field. Declaration order is
// preserved and is the order used when expanding
// select-less queries.
func (d *Def) Field(name string, t types.Type) *Def {
	if _, ok := d.ftypes[name]; !ok {
		d.fields = append(d.fields, name)
	}
	d.ftypes[name] = t
	d.hash = 0
	return d
}

// Key sets the primary key fields.
func (d *Def) Key(fields ...string) *Def {
	d.pkey = fields
	d.hash = 0
	return d
}

// BelongsTo declares a belongs-to association:
// d holds ownerKey referencing related's relatedKey.
func (d *Def) BelongsTo(name string, related Schema, ownerKey, relatedKey string) *Def {
	d.assocs[name] = &Association{
		Name: name, Kind: BelongsTo, Owner: d, Related: related,
		OwnerKey: ownerKey, RelatedKey: relatedKey,
	}
	d.hash = 0
	return d
}

// Has declares a has-one/has-many association:
// related holds relatedKey referencing d's ownerKey.
func (d *Def) Has(name string, related Schema, ownerKey, relatedKey string) *Def {
	d.assocs[name] = &Association{
		Name: name, Kind: Has, Owner: d, Related: related,
		OwnerKey: ownerKey, RelatedKey: relatedKey,
	}
	d.hash = 0
	return d
}

// HasThrough declares an association that traverses
// the named associations in order.
func (d *Def) HasThrough(name string, path ...string) *Def {
	d.assocs[name] = &Association{
		Name: name, Kind: Through, Owner: d, Path: path,
	}
	d.hash = 0
	return d
}

func (d *Def) SourceName() string { return d.name }

func (d *Def) Fields() []string { return d.fields }

func (d *Def) FieldType(name string) types.Type { return d.ftypes[name] }

func (d *Def) PrimaryKey() []string { return d.pkey }

func (d *Def) Association(name string) *Association { return d.assocs[name] }

// siphash keys for Def.Hash; arbitrary but fixed,
// since hashes must be stable across processes.
const (
	hashK0 uint64 = 0x7265706c616e6b30
	hashK1 uint64 = 0x7265706c616e6b31
)

// Hash implements Schema.Hash as a siphash over the
// canonical serialization of the definition content.
func (d *Def) Hash() uint64 {
	if d.hash != 0 {
		return d.hash
	}
	h := siphash.New(hashkey())
	put := func(s string) {
		var n [1]byte
		n[0] = byte(len(s))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	put(d.name)
	for _, f := range d.fields {
		put(f)
		if t := d.ftypes[f]; t != nil {
			put(t.Name())
		} else {
			put("")
		}
	}
	put("|pk")
	for _, f := range d.pkey {
		put(f)
	}
	put("|assoc")
	names := make([]string, 0, len(d.assocs))
	for name := range d.assocs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := d.assocs[name]
		put(name)
		put(a.Kind.String())
		put(a.OwnerKey)
		put(a.RelatedKey)
		for _, p := range a.Path {
			put(p)
		}
	}
	d.hash = h.Sum64()
	if d.hash == 0 {
		d.hash = 1
	}
	return d.hash
}

func hashkey() []byte {
	var k [16]byte
	for i := 0; i < 8; i++ {
		k[i] = byte(hashK0 >> (8 * i))
		k[8+i] = byte(hashK1 >> (8 * i))
	}
	return k[:]
}
