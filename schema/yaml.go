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

package schema

import (
	"fmt"

	"github.com/SnellerInc/relplan/types"

	"sigs.k8s.io/yaml"
)

// yamlDef is the YAML serialization of one schema
// definition. Types are referenced by registered
// name (see types.Register).
type yamlDef struct {
	Source     string      `json:"source"`
	PrimaryKey []string    `json:"primary_key"`
	Fields     []yamlField `json:"fields"`
	Assocs     []yamlAssoc `json:"associations"`
}

type yamlField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type yamlAssoc struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"` // belongs_to, has, through
	Schema     string   `json:"schema"`
	OwnerKey   string   `json:"owner_key"`
	RelatedKey string   `json:"related_key"`
	Path       []string `json:"path"`
}

// LoadDefs parses a YAML list of schema definitions
// and returns them keyed by source name. Associations
// may reference any definition in the same document,
// regardless of order.
func LoadDefs(buf []byte) (map[string]*Def, error) {
	var raw []yamlDef
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("schema: parsing definitions: %w", err)
	}
	defs := make(map[string]*Def, len(raw))
	for i := range raw {
		y := &raw[i]
		if y.Source == "" {
			return nil, fmt.Errorf("schema: definition %d is missing a source name", i)
		}
		if _, ok := defs[y.Source]; ok {
			return nil, fmt.Errorf("schema: duplicate definition for %q", y.Source)
		}
		d := NewDef(y.Source)
		for _, f := range y.Fields {
			t := types.Lookup(f.Type)
			if t == nil {
				return nil, fmt.Errorf("schema: %s.%s has unknown type %q", y.Source, f.Name, f.Type)
			}
			d.Field(f.Name, t)
		}
		d.Key(y.PrimaryKey...)
		defs[y.Source] = d
	}
	// second pass: associations can reference defs
	// declared later in the document
	for i := range raw {
		y := &raw[i]
		d := defs[y.Source]
		for _, a := range y.Assocs {
			if a.Kind == "through" {
				d.HasThrough(a.Name, a.Path...)
				continue
			}
			related, ok := defs[a.Schema]
			if !ok {
				return nil, fmt.Errorf("schema: association %s.%s references unknown schema %q",
					y.Source, a.Name, a.Schema)
			}
			switch a.Kind {
			case "belongs_to":
				d.BelongsTo(a.Name, related, a.OwnerKey, a.RelatedKey)
			case "has":
				d.Has(a.Name, related, a.OwnerKey, a.RelatedKey)
			default:
				return nil, fmt.Errorf("schema: association %s.%s has unknown kind %q",
					y.Source, a.Name, a.Kind)
			}
		}
	}
	return defs, nil
}
