package structure

import "fmt"

// CompositeStruct is a container with the extra invariant that no nested
// containers are allowed, and that every child node key plus every column
// name across member tables forms one unique flat namespace.
type CompositeStruct struct {
	Parts []CompositePart `json:"parts"`
}

// CompositePart is one member of a composite node: either a plain node
// (array/table/sparse/awkward, never a container) contributing its key, or
// a table contributing its column names to the flat namespace.
type CompositePart struct {
	Key     string   `json:"key"`
	Family  Family   `json:"structure_family"`
	Columns []string `json:"columns,omitempty"` // populated when Family == FamilyTable
}

// Validate enforces the composite invariant: no nested containers, and
// {child keys} ∪ {table column names} is a set (no name appears twice).
func (c *CompositeStruct) Validate() error {
	seen := make(map[string]string, len(c.Parts)) // name -> where it came from, for error messages
	for _, part := range c.Parts {
		if part.Family == FamilyContainer || part.Family == FamilyComposite {
			return fmt.Errorf("composite structure: member %q has disallowed nested family %q", part.Key, part.Family)
		}
		if _, dup := seen[part.Key]; dup {
			return fmt.Errorf("composite structure: key %q collides with an existing member or column", part.Key)
		}
		seen[part.Key] = "node:" + part.Key
		if part.Family != FamilyTable {
			continue
		}
		for _, col := range part.Columns {
			if prior, dup := seen[col]; dup {
				return fmt.Errorf("composite structure: column %q of %q collides with %q", col, part.Key, prior)
			}
			seen[col] = "column:" + part.Key + "." + col
		}
	}
	return nil
}
