package catalogstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tiled-data/tiled/internal/apperr"
)

// Revision is an immutable snapshot of a node's (metadata, specs,
// access_blob) taken before a mutation
type Revision struct {
	ID             int64           `db:"id"`
	NodeID         int64           `db:"node_id"`
	RevisionNumber int             `db:"revision_number"`
	Metadata       json.RawMessage `db:"metadata"`
	Specs          json.RawMessage `db:"specs"`
	AccessBlob     json.RawMessage `db:"access_blob"`
	TimeCreatedRaw string          `db:"time_created"`
}

// PutRevision records the node's current state as the next revision
// number before the caller applies its patch, implementing:
// "first inserts a row capturing the prior (metadata, specs, access_blob)
// with the next revision number; then applies the update."
func (s *Store) PutRevision(ctx context.Context, nodeID int64, metadata, specs, accessBlob json.RawMessage) (int, error) {
	var maxRev int
	if err := s.db.GetContext(ctx, &maxRev, s.rebind(`SELECT COALESCE(MAX(revision_number), 0) FROM revisions WHERE node_id = $1`), nodeID); err != nil {
		return 0, apperr.Internal(err)
	}
	next := maxRev + 1
	query := s.rebind(`INSERT INTO revisions (node_id, revision_number, metadata, specs, access_blob, time_created) VALUES ($1, $2, $3, $4, $5, $6)`)
	if _, err := s.db.ExecContext(ctx, query, nodeID, next, string(metadata), string(specs), string(accessBlob), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return 0, apperr.Internal(err)
	}
	return next, nil
}

// ListRevisions returns every revision of nodeID, most recent first.
func (s *Store) ListRevisions(ctx context.Context, nodeID int64) ([]Revision, error) {
	var revs []Revision
	query := s.rebind(`SELECT id, node_id, revision_number, metadata, specs, access_blob, time_created FROM revisions WHERE node_id = $1 ORDER BY revision_number DESC`)
	if err := s.db.SelectContext(ctx, &revs, query, nodeID); err != nil {
		return nil, apperr.Internal(err)
	}
	return revs, nil
}

// DeleteRevision removes one historical revision row, implementing
// "DELETE /revisions/{n} removes one historical row."
func (s *Store) DeleteRevision(ctx context.Context, nodeID int64, revisionNumber int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM revisions WHERE node_id = $1 AND revision_number = $2`), nodeID, revisionNumber)
	if err != nil {
		return apperr.Internal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(err)
	}
	if n == 0 {
		return apperr.NotFound("revision %d of node %d not found", revisionNumber, nodeID)
	}
	return nil
}
