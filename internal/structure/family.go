// Package structure defines the typed descriptions of the shapes Tiled can
// serve: arrays, tables, sparse arrays, awkward/ragged arrays, containers,
// and composites. Family is a closed tagged union; each family has exactly
// one corresponding Structure type instead of one record with nullable
// fields (see DESIGN.md, "tagged variants for structure").
package structure

import (
	"encoding/json"
	"fmt"
)

// Family identifies which concrete Structure a node carries.
type Family string

const (
	FamilyContainer Family = "container"
	FamilyArray     Family = "array"
	FamilyTable     Family = "table"
	FamilySparse    Family = "sparse"
	FamilyAwkward   Family = "awkward"
	FamilyComposite Family = "composite"
)

// Valid reports whether f is one of the known structure families.
func (f Family) Valid() bool {
	switch f {
	case FamilyContainer, FamilyArray, FamilyTable, FamilySparse, FamilyAwkward, FamilyComposite:
		return true
	default:
		return false
	}
}

// Structure is the sum type over the six concrete shape descriptions.
// Exactly one of the pointer fields is non-nil, selected by Family. The
// struct tags are "-" because the populated variant is flattened onto the
// wire by MarshalJSON/UnmarshalJSON rather than nested under its field name.
type Structure struct {
	Family    Family            `json:"family"`
	Array     *ArrayStructure   `json:"-"`
	Table     *TableStructure   `json:"-"`
	Sparse    *SparseStructure  `json:"-"`
	Awkward   *AwkwardStructure `json:"-"`
	Container *ContainerStruct  `json:"-"`
	Composite *CompositeStruct  `json:"-"`
}

// structureWire is the wire shape of Structure: "family" plus the single
// populated variant inlined under a "structure" key, keyed by family so a
// reader can pick the right Go type before decoding it.
type structureWire struct {
	Family    Family          `json:"family"`
	Structure json.RawMessage `json:"structure,omitempty"`
}

// MarshalJSON flattens the populated variant back onto the wire; without
// it every Structure would serialize to just {"family": "..."} since the
// variant fields are all tagged "-".
func (s Structure) MarshalJSON() ([]byte, error) {
	var variant any
	switch s.Family {
	case FamilyArray:
		variant = s.Array
	case FamilyTable:
		variant = s.Table
	case FamilySparse:
		variant = s.Sparse
	case FamilyAwkward:
		variant = s.Awkward
	case FamilyContainer:
		variant = s.Container
	case FamilyComposite:
		variant = s.Composite
	}
	body, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	return json.Marshal(structureWire{Family: s.Family, Structure: body})
}

// UnmarshalJSON decodes "structure" into the variant named by "family".
func (s *Structure) UnmarshalJSON(data []byte) error {
	var wire structureWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = Structure{Family: wire.Family}
	if len(wire.Structure) == 0 || string(wire.Structure) == "null" {
		return nil
	}
	switch wire.Family {
	case FamilyArray:
		s.Array = &ArrayStructure{}
		return json.Unmarshal(wire.Structure, s.Array)
	case FamilyTable:
		s.Table = &TableStructure{}
		return json.Unmarshal(wire.Structure, s.Table)
	case FamilySparse:
		s.Sparse = &SparseStructure{}
		return json.Unmarshal(wire.Structure, s.Sparse)
	case FamilyAwkward:
		s.Awkward = &AwkwardStructure{}
		return json.Unmarshal(wire.Structure, s.Awkward)
	case FamilyContainer:
		s.Container = &ContainerStruct{}
		return json.Unmarshal(wire.Structure, s.Container)
	case FamilyComposite:
		s.Composite = &CompositeStruct{}
		return json.Unmarshal(wire.Structure, s.Composite)
	default:
		return nil
	}
}

// Validate checks that exactly one variant matching Family is populated and
// that the variant's own invariants hold.
func (s Structure) Validate() error {
	if !s.Family.Valid() {
		return fmt.Errorf("structure: unknown family %q", s.Family)
	}
	count := 0
	for _, set := range []bool{s.Array != nil, s.Table != nil, s.Sparse != nil, s.Awkward != nil, s.Container != nil, s.Composite != nil} {
		if set {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("structure: exactly one variant must be set, got %d", count)
	}
	switch s.Family {
	case FamilyArray:
		if s.Array == nil {
			return fmt.Errorf("structure: family %q requires Array variant", s.Family)
		}
		return s.Array.Validate()
	case FamilyTable:
		if s.Table == nil {
			return fmt.Errorf("structure: family %q requires Table variant", s.Family)
		}
		return s.Table.Validate()
	case FamilySparse:
		if s.Sparse == nil {
			return fmt.Errorf("structure: family %q requires Sparse variant", s.Family)
		}
		return nil
	case FamilyAwkward:
		if s.Awkward == nil {
			return fmt.Errorf("structure: family %q requires Awkward variant", s.Family)
		}
		return nil
	case FamilyContainer:
		if s.Container == nil {
			return fmt.Errorf("structure: family %q requires Container variant", s.Family)
		}
		return nil
	case FamilyComposite:
		if s.Composite == nil {
			return fmt.Errorf("structure: family %q requires Composite variant", s.Family)
		}
		return s.Composite.Validate()
	}
	return nil
}
