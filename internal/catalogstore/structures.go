package catalogstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/structure"
)

// HashStructure returns the content address of st: the hex SHA-256 of its
// canonical JSON encoding. Two nodes with byte-identical structures hash
// identically, letting PutStructure share one row between them when
// two different nodes describe the same shape.
func HashStructure(st structure.Structure) (string, []byte, error) {
	body, err := json.Marshal(st)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), body, nil
}

// PutStructure stores st under its content hash if not already present,
// returning the hash to reference from a node row.
func (s *Store) PutStructure(ctx context.Context, st structure.Structure) (string, error) {
	hash, body, err := HashStructure(st)
	if err != nil {
		return "", apperr.Internal(err)
	}
	query := s.rebind(`INSERT INTO structures (hash, family, body) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`)
	if s.dialect == dialectSQLite {
		query = `INSERT OR IGNORE INTO structures (hash, family, body) VALUES (?, ?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, query, hash, string(st.Family), string(body)); err != nil {
		return "", apperr.Internal(err)
	}
	return hash, nil
}

// GetStructure loads the structure stored under hash.
func (s *Store) GetStructure(ctx context.Context, hash string) (structure.Structure, error) {
	var body string
	if err := s.db.GetContext(ctx, &body, s.rebind(`SELECT body FROM structures WHERE hash = $1`), hash); err != nil {
		return structure.Structure{}, wrapNotFound(err, "no structure with hash %s", hash)
	}
	var st structure.Structure
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return structure.Structure{}, apperr.Internal(err)
	}
	return st, nil
}
