package request

import (
	"encoding/json"
	"strings"
)

// Field is one of the selectable response fields
type Field string

const (
	FieldMetadata        Field = "metadata"
	FieldStructureFamily Field = "structure_family"
	FieldStructure       Field = "structure"
	FieldSpecs           Field = "specs"
	FieldSorting         Field = "sorting"
	FieldCount           Field = "count"
	FieldAccessBlob      Field = "access_blob"
	FieldNone            Field = "none"
)

// FieldSet is the parsed `fields=` query parameter.
type FieldSet map[Field]struct{}

// ParseFields parses a comma-separated fields list. An empty raw value
// yields the default set {metadata, structure_family, structure, specs}.
func ParseFields(raw string) FieldSet {
	if raw == "" {
		return NewFieldSet(FieldMetadata, FieldStructureFamily, FieldStructure, FieldSpecs)
	}
	out := make(FieldSet)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out[Field(part)] = struct{}{}
	}
	return out
}

func NewFieldSet(fields ...Field) FieldSet {
	out := make(FieldSet, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func (fs FieldSet) Has(f Field) bool {
	_, ok := fs[f]
	return ok
}

// SortKey is one (key, direction) pair of a container's sorting field:
// direction is 1 for ascending, -1 for descending, and key "_" denotes
// insertion order rather than a metadata field.
type SortKey struct {
	Key       string
	Direction int
}

func (sk SortKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{sk.Key, sk.Direction})
}

// DefaultSorting is every container's fixed child order: ascending by
// insertion (time_created, then id), the only order the catalog's listing
// queries produce.
var DefaultSorting = []SortKey{{Key: "_", Direction: 1}}

// NoneOnly reports whether the caller requested only keys (fields=none),
// permitting the server to skip child fetches entirely.
func (fs FieldSet) NoneOnly() bool {
	return fs.Has(FieldNone) && len(fs) == 1
}

// CountOnly reports whether only the count field was requested: count
// alone permits skipping child fetches entirely.
func (fs FieldSet) CountOnly() bool {
	return fs.Has(FieldCount) && len(fs) == 1
}
