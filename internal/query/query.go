// Package query implements the typed query algebra
// (Eq, In, Regex, FullText, Comparison, StructureFamilyQuery, KeysFilter,
// SpecsQuery, AccessBlobFilter) and a translation registry mapping each
// query type onto a backend: one typed variant per condition instead of
// an untyped filter map, the same tagged-union shape Structure uses.
package query

import "github.com/tiled-data/tiled/internal/structure"

// Query is the marker interface every query variant implements. Backends
// register a translation function per concrete type via a Registry.
type Query interface {
	queryMarker()
}

// Eq matches a metadata field against an exact value.
type Eq struct {
	Field string
	Value any
}

func (Eq) queryMarker() {}

// In matches a metadata field against any of a set of values.
type In struct {
	Field  string
	Values []any
}

func (In) queryMarker() {}

// Regex matches a metadata field against a regular expression. CaseSensitive
// defaults to false if unset, matching the common case-insensitive search UX.
type Regex struct {
	Field         string
	Pattern       string
	CaseSensitive bool
}

func (Regex) queryMarker() {}

// FullText performs a free-text search over metadata.
type FullText struct {
	Text string
}

func (FullText) queryMarker() {}

// Comparison operator for Comparison queries.
type ComparisonOperator string

const (
	OpLT ComparisonOperator = "lt"
	OpLE ComparisonOperator = "le"
	OpGT ComparisonOperator = "gt"
	OpGE ComparisonOperator = "ge"
)

// Comparison matches a metadata field against a relational operator.
type Comparison struct {
	Field    string
	Operator ComparisonOperator
	Value    any
}

func (Comparison) queryMarker() {}

// StructureFamilyQuery filters nodes by structure family.
type StructureFamilyQuery struct {
	Family structure.Family
}

func (StructureFamilyQuery) queryMarker() {}

// KeysFilter restricts the result set to an explicit list of keys.
type KeysFilter struct {
	Keys []string
}

func (KeysFilter) queryMarker() {}

// SpecsQuery filters nodes declaring all of the given specs.
type SpecsQuery struct {
	Specs []string
}

func (SpecsQuery) queryMarker() {}

// AccessBlobFilter is the query the authorization engine's filters()
// operation synthesizes: nodes visible to UserID directly,
// or governed by any tag in Tags.
type AccessBlobFilter struct {
	UserID string
	Tags   []string
}

func (AccessBlobFilter) queryMarker() {}

// NoAccess is the sentinel filters() returns when the requested scopes
// exceed what the policy's configured maximum scope set allows; callers
// substitute an empty-container view rather than running any query.
type NoAccess struct{}

func (NoAccess) queryMarker() {}
