// Package model builds the canonical in-memory representation of a
// hydraulic model from parsed text records and binary result datasets.
//
// The model is a flat set of typed entities keyed by (Type, ID). IDs are
// slash-joined identifier paths shared across file formats: a cross
// section is "river/reach/station", a plan is its file reference ("p01"),
// a profile is "flowref/index". Entities are immutable once Build returns.
package model

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Type classifies an entity.
type Type string

const (
	TypeProject      Type = "project"
	TypeGeometry     Type = "geometry"
	TypePlan         Type = "plan"
	TypeFlow         Type = "flow"
	TypeReach        Type = "reach"
	TypeCrossSection Type = "cross_section"
	TypeBridge       Type = "bridge"
	TypeProfile      Type = "profile"
	TypeFlowLocation Type = "flow_location"
	TypeBoundary     Type = "boundary"
)

// Key uniquely identifies an entity within a model.
type Key struct {
	Type Type
	ID   string
}

func (k Key) String() string {
	return string(k.Type) + " " + k.ID
}

// Entity is one named object of the hydraulic model.
type Entity struct {
	Type Type
	ID   string
	// Attrs holds the effective attribute values.
	Attrs map[string]cty.Value
	// Design holds attribute values displaced by the merge policy, kept
	// for rules that compare design input against as-run output.
	Design map[string]cty.Value
	// Warnings lists recoverable problems recorded while building this
	// entity (malformed source fields, displaced values).
	Warnings []string
	// Sources names the input files that contributed to this entity.
	Sources []string
}

// Key returns the entity's (Type, ID) key.
func (e *Entity) Key() Key {
	return Key{Type: e.Type, ID: e.ID}
}

// Attr returns the effective value for name; cty.NilVal and false when the
// attribute was never set.
func (e *Entity) Attr(name string) (cty.Value, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// Number returns the attribute as a float64; ok is false when the
// attribute is absent, null, or not a number.
func (e *Entity) Number(name string) (float64, bool) {
	v, ok := e.Attrs[name]
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return 0, false
	}
	f, _ := v.AsBigFloat().Float64()
	return f, true
}

// Text returns the attribute as a string.
func (e *Entity) Text(name string) (string, bool) {
	v, ok := e.Attrs[name]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return "", false
	}
	return v.AsString(), true
}

// Model is the complete entity set for one evaluation run. Read-only after
// Build.
type Model struct {
	entities map[Key]*Entity
	// Warnings aggregates source- and merge-level problems not tied to a
	// single entity.
	Warnings []string
}

// Get returns the entity with the given key, or nil.
func (m *Model) Get(t Type, id string) *Entity {
	return m.entities[Key{Type: t, ID: id}]
}

// ByType returns every entity of the given type in canonical (ID-sorted)
// order.
func (m *Model) ByType(t Type) []*Entity {
	var out []*Entity
	for k, e := range m.entities {
		if k.Type == t {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every entity in canonical key order.
func (m *Model) All() []*Entity {
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of entities.
func (m *Model) Len() int {
	return len(m.entities)
}

// Types returns the distinct entity types present, sorted.
func (m *Model) Types() []Type {
	seen := map[Type]bool{}
	for k := range m.entities {
		seen[k.Type] = true
	}
	out := make([]Type, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ConsistencyError reports two text sources asserting different values for
// the same authoritative design attribute with nothing to disambiguate
// them.
type ConsistencyError struct {
	Key       Key
	Attribute string
	Sources   [2]string
	Values    [2]cty.Value
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s and %s declare conflicting values for %q",
		e.Key, e.Sources[0], e.Sources[1], e.Attribute)
}
