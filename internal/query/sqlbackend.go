package query

import (
	"fmt"
	"strings"
)

// BackendSQL is the name Registry translations are registered under for
// internal/catalogstore's node table, parameterized with "?" placeholders
// (renumbered to "$N" by catalogstore's scopedWhere).
const BackendSQL = "sql"

// RegisterSQLTranslations installs node-table translations onto r for
// StructureFamilyQuery, KeysFilter, AccessBlobFilter and SpecsQuery, all
// over flattened node columns. No translation is registered for Eq, In,
// Regex, FullText or Comparison, so Translate returns an error for them.
func RegisterSQLTranslations(r *Registry) {
	r.Register(BackendSQL, StructureFamilyQuery{}, func(q Query) (Predicate, error) {
		sf := q.(StructureFamilyQuery)
		return Predicate{SQL: "structure_family = ?", Args: []any{string(sf.Family)}}, nil
	})
	r.Register(BackendSQL, KeysFilter{}, func(q Query) (Predicate, error) {
		kf := q.(KeysFilter)
		if len(kf.Keys) == 0 {
			return Predicate{SQL: "1 = 0"}, nil
		}
		placeholders := make([]string, len(kf.Keys))
		args := make([]any, len(kf.Keys))
		for i, k := range kf.Keys {
			placeholders[i] = "?"
			args[i] = k
		}
		return Predicate{SQL: fmt.Sprintf("key IN (%s)", strings.Join(placeholders, ", ")), Args: args}, nil
	})
	r.Register(BackendSQL, AccessBlobFilter{}, func(q Query) (Predicate, error) {
		abf := q.(AccessBlobFilter)
		clauses := make([]string, 0, 2)
		args := make([]any, 0, 1+len(abf.Tags))
		if abf.UserID != "" {
			clauses = append(clauses, "json_extract(access_blob, '$.user') = ?")
			args = append(args, abf.UserID)
		}
		if len(abf.Tags) > 0 {
			tagClauses := make([]string, len(abf.Tags))
			for i, t := range abf.Tags {
				tagClauses[i] = "json_extract(access_blob, '$.tags') LIKE '%' || ? || '%'"
				args = append(args, fmt.Sprintf("%q", t))
			}
			clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
		}
		if len(clauses) == 0 {
			return Predicate{SQL: "1 = 0"}, nil
		}
		return Predicate{SQL: "(" + strings.Join(clauses, " OR ") + ")", Args: args}, nil
	})
	r.Register(BackendSQL, SpecsQuery{}, func(q Query) (Predicate, error) {
		sq := q.(SpecsQuery)
		clauses := make([]string, len(sq.Specs))
		args := make([]any, len(sq.Specs))
		for i, s := range sq.Specs {
			clauses[i] = "specs LIKE '%' || ? || '%'"
			args[i] = fmt.Sprintf("%q", s)
		}
		if len(clauses) == 0 {
			return Predicate{SQL: "1 = 1"}, nil
		}
		return Predicate{SQL: "(" + strings.Join(clauses, " AND ") + ")", Args: args}, nil
	})
}
