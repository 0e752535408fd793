package catalogstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/query"
	"github.com/tiled-data/tiled/internal/structure"
)

// Node is one row of the catalog tree, addressed by its ancestor path plus
// key: no two nodes share the same (ancestors, key) pair.
type Node struct {
	ID              int64            `db:"id"`
	Parent          string           `db:"parent"`
	Key             string           `db:"key"`
	Ancestors       string           `db:"ancestors"` // "/"-joined ancestor keys
	TimeCreated     time.Time        `db:"-"`
	TimeUpdated     time.Time        `db:"-"`
	TimeCreatedRaw  string           `db:"time_created"`
	TimeUpdatedRaw  string           `db:"time_updated"`
	Metadata        json.RawMessage  `db:"metadata"`
	Specs           json.RawMessage  `db:"specs"` // []string, stored as JSON
	AccessBlob      json.RawMessage  `db:"access_blob"`
	StructureFamily structure.Family `db:"structure_family"`
	StructureHash   sql.NullString   `db:"structure_hash"`
}

// AncestorKeys splits the "/"-joined ancestors column back into segments.
func (n Node) AncestorKeys() []string {
	if n.Ancestors == "" {
		return nil
	}
	return strings.Split(n.Ancestors, "/")
}

// parseTimes fills TimeCreated/TimeUpdated from their raw RFC3339 text
// columns; sqlite stores timestamps as TEXT, so scanning goes through a
// string intermediary rather than relying on driver time.Time support.
func (n *Node) parseTimes() {
	n.TimeCreated, _ = time.Parse(time.RFC3339Nano, n.TimeCreatedRaw)
	n.TimeUpdated, _ = time.Parse(time.RFC3339Nano, n.TimeUpdatedRaw)
}

func joinAncestors(segments []string) string { return strings.Join(segments, "/") }

// CreateNode inserts node, validating the (ancestors, key) uniqueness
// invariant via the schema's UNIQUE constraint — a conflict is surfaced as
// apperr.Conflict rather than a raw driver error.
func (s *Store) CreateNode(ctx context.Context, n *Node) (int64, error) {
	now := time.Now().UTC()
	n.TimeCreated, n.TimeUpdated = now, now
	query := s.rebind(`INSERT INTO nodes (parent, key, ancestors, time_created, time_updated, metadata, specs, access_blob, structure_family, structure_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	res, err := s.db.ExecContext(ctx, query,
		n.Parent, n.Key, n.Ancestors, n.TimeCreated.Format(time.RFC3339Nano), n.TimeUpdated.Format(time.RFC3339Nano),
		string(n.Metadata), string(n.Specs), string(n.AccessBlob), string(n.StructureFamily), n.StructureHash)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.Conflict("a node with key %q already exists under this parent", n.Key)
		}
		return 0, apperr.Internal(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Internal(err)
	}
	n.ID = id
	return id, nil
}

// GetNode fetches one node by its full ancestor path plus key.
func (s *Store) GetNode(ctx context.Context, ancestors []string, key string) (*Node, error) {
	var n Node
	query := s.rebind(`SELECT id, parent, key, ancestors, time_created, time_updated, metadata, specs, access_blob, structure_family, structure_hash
		FROM nodes WHERE ancestors = $1 AND key = $2`)
	if err := s.db.GetContext(ctx, &n, query, joinAncestors(ancestors), key); err != nil {
		return nil, wrapNotFound(err, "no node at %s/%s", joinAncestors(ancestors), key)
	}
	n.parseTimes()
	return &n, nil
}

// UpdateNodeMetadata applies a new (metadata, specs, access_blob) tuple and
// bumps time_updated. Callers are responsible for recording a Revision of
// the prior state first (see PutRevision) — catalogstore does not hide
// that ordering, matching explicit lifecycle.
func (s *Store) UpdateNodeMetadata(ctx context.Context, id int64, metadata, specs, accessBlob json.RawMessage) error {
	query := s.rebind(`UPDATE nodes SET metadata = $1, specs = $2, access_blob = $3, time_updated = $4 WHERE id = $5`)
	res, err := s.db.ExecContext(ctx, query, string(metadata), string(specs), string(accessBlob), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return apperr.Internal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err)
	}
	if n == 0 {
		return apperr.NotFound("node %d not found", id)
	}
	return nil
}

// DeleteNode removes a node row, refusing if it has children.
func (s *Store) DeleteNode(ctx context.Context, id int64, ancestors []string, key string) error {
	childAncestors := joinAncestors(append(append([]string{}, ancestors...), key))
	var childCount int
	if err := s.db.GetContext(ctx, &childCount, s.rebind(`SELECT COUNT(*) FROM nodes WHERE ancestors = $1`), childAncestors); err != nil {
		return apperr.Internal(err)
	}
	if childCount > 0 {
		return apperr.Conflict("node has %d children; delete them first", childCount)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM nodes WHERE id = $1`), id)
	if err != nil {
		return apperr.Internal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err)
	}
	if n == 0 {
		return apperr.NotFound("node %d not found", id)
	}
	return nil
}

// KeysRange lists direct children's keys under the given ancestor path,
// ordered by (time_created, id), ascending unless descending is set.
func (s *Store) KeysRange(ctx context.Context, ancestors []string, offset, limit int, descending bool) ([]string, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := s.rebind(`SELECT key FROM nodes WHERE ancestors = $1 ORDER BY time_created ` + order + `, id ` + order + ` LIMIT $2 OFFSET $3`)
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, query, joinAncestors(ancestors), limit, offset); err != nil {
		return nil, apperr.Internal(err)
	}
	return keys, nil
}

// ItemsRange is KeysRange's sibling returning full Node rows, used when
// the caller needs more than the key (e.g. to construct adapters).
func (s *Store) ItemsRange(ctx context.Context, ancestors []string, offset, limit int, descending bool) ([]Node, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := s.rebind(`SELECT id, parent, key, ancestors, time_created, time_updated, metadata, specs, access_blob, structure_family, structure_hash
		FROM nodes WHERE ancestors = $1 ORDER BY time_created ` + order + `, id ` + order + ` LIMIT $2 OFFSET $3`)
	var nodes []Node
	if err := s.db.SelectContext(ctx, &nodes, query, joinAncestors(ancestors), limit, offset); err != nil {
		return nil, apperr.Internal(err)
	}
	for i := range nodes {
		nodes[i].parseTimes()
	}
	return nodes, nil
}

// CountChildren returns the exact number of direct children, used by the
// pagination layer below a cheapness threshold.
func (s *Store) CountChildren(ctx context.Context, ancestors []string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.rebind(`SELECT COUNT(*) FROM nodes WHERE ancestors = $1`), joinAncestors(ancestors)); err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// SearchChildren runs a parameterized predicate (SQL fragment plus bind
// args, produced by internal/query's translation registry) scoped to the
// direct children of ancestors "predicate tree over
// the underlying store's expression language." extra is AND-joined with
// the ancestors scope; pass an empty Predicate to list all children.
func (s *Store) SearchChildren(ctx context.Context, ancestors []string, extra query.Predicate, offset, limit int, descending bool) ([]Node, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	where, args := scopedWhere(ancestors, extra)
	limitIdx, offsetIdx := len(args)+1, len(args)+2
	args = append(args, limit, offset)
	stmt := `SELECT id, parent, key, ancestors, time_created, time_updated, metadata, specs, access_blob, structure_family, structure_hash
		FROM nodes WHERE ` + where + ` ORDER BY time_created ` + order + `, id ` + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, limitIdx, offsetIdx)
	var nodes []Node
	if err := s.db.SelectContext(ctx, &nodes, s.rebind(stmt), args...); err != nil {
		return nil, apperr.Internal(err)
	}
	for i := range nodes {
		nodes[i].parseTimes()
	}
	return nodes, nil
}

// CountSearchChildren is SearchChildren's sibling for the result-set
// count, used to build pagination links without re-running LIMIT/OFFSET.
func (s *Store) CountSearchChildren(ctx context.Context, ancestors []string, extra query.Predicate) (int64, error) {
	where, args := scopedWhere(ancestors, extra)
	stmt := `SELECT COUNT(*) FROM nodes WHERE ` + where
	var n int64
	if err := s.db.GetContext(ctx, &n, s.rebind(stmt), args...); err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// scopedWhere builds the "ancestors = $1 [AND (...)]" clause shared by
// SearchChildren/CountSearchChildren, renumbering extra's "?"
// placeholders (the convention internal/query's SQL translations emit)
// into the $N sequence this package's queries use.
func scopedWhere(ancestors []string, extra query.Predicate) (string, []any) {
	where := "ancestors = $1"
	args := []any{joinAncestors(ancestors)}
	if extra.SQL != "" {
		where += " AND (" + renumberPlaceholders(extra.SQL, len(args)+1) + ")"
		args = append(args, extra.Args...)
	}
	return where, args
}

// renumberPlaceholders rewrites each "?" in sql to "$N", "$N+1", ... in
// order of appearance, starting at start.
func renumberPlaceholders(sql string, start int) string {
	var b strings.Builder
	n := start
	for _, r := range sql {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LboundLen reports a cheap lower bound on the child count: it scans at
// most threshold+1 rows, so a result of threshold+1 means "more than
// threshold"
// "lbound_len(threshold)" for avoiding a full COUNT(*) on huge containers.
func (s *Store) LboundLen(ctx context.Context, ancestors []string, threshold int) (int64, error) {
	var n int64
	query := s.rebind(`SELECT COUNT(*) FROM (SELECT id FROM nodes WHERE ancestors = $1 LIMIT $2) t`)
	if err := s.db.GetContext(ctx, &n, query, joinAncestors(ancestors), threshold+1); err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key value")
}
