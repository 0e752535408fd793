package validate

import (
	"encoding/json"

	"github.com/tiled-data/tiled/internal/structure"
)

// CompositeSibling describes one existing child of the container a
// "composite" spec is being assigned to or validated against.
type CompositeSibling struct {
	Key     string
	Family  structure.Family
	Columns []string // non-empty only when Family == FamilyTable
}

// RegisterComposite installs the "composite" spec validator, a direct
// translation of the original tiled project's validate_composite
// (validation_registration.py): the spec may only be assigned to
// containers, no nested containers are allowed among its children, and
// every child key plus every table column name across all children must
// be unique.
//
// siblings is supplied by the caller (internal/httpapi, which already
// has the container's child listing in hand) rather than recomputed
// here, since this package has no catalogstore dependency.
func RegisterComposite(r *Registry, siblings func() ([]CompositeSibling, error)) {
	r.Register("composite", func(metadata json.RawMessage, family structure.Family, st structure.Structure, spec string) (json.RawMessage, error) {
		if family != structure.FamilyContainer {
			return nil, Error{Spec: spec, Reason: "composite spec can be assigned only to containers, not to " + string(family)}
		}
		if siblings == nil {
			return nil, nil
		}
		children, err := siblings()
		if err != nil {
			return nil, err
		}

		seen := make(map[string]int)
		for _, c := range children {
			if c.Family == structure.FamilyContainer {
				return nil, Error{Spec: spec, Reason: "nested containers are not allowed in a composite container"}
			}
			seen[c.Key]++
			for _, col := range c.Columns {
				seen[col]++
			}
		}
		var repeats []string
		for name, count := range seen {
			if count > 1 {
				repeats = append(repeats, name)
			}
		}
		if len(repeats) > 0 {
			return nil, Error{Spec: spec, Reason: "conflicting names in composite container: " + joinStrings(repeats)}
		}
		return nil, nil
	})
}

func joinStrings(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
