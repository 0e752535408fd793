package catalogstore

import (
	"context"
	"encoding/json"

	"github.com/tiled-data/tiled/internal/apperr"
)

// DataSource describes one way to materialize a node's data. Every
// DataSource belongs to exactly one node.
type DataSource struct {
	ID            int64           `db:"id"`
	NodeID        int64           `db:"node_id"`
	MimeType      string          `db:"mimetype"`
	StructureHash string          `db:"structure_hash"`
	Management    string          `db:"management"` // "external" | "writable"
	Parameters    json.RawMessage `db:"parameters"`
}

// Asset is one physical file/object backing a DataSource
// invariant: "every Asset belongs to exactly one DataSource."
type Asset struct {
	ID            int64  `db:"id"`
	DataSourceID  int64  `db:"data_source_id"`
	DataURI       string `db:"data_uri"`
	IsDirectory   bool   `db:"is_directory"`
	ParameterName string `db:"parameter_name"`
}

// CreateDataSource inserts a DataSource row and returns its id.
func (s *Store) CreateDataSource(ctx context.Context, ds *DataSource) (int64, error) {
	query := s.rebind(`INSERT INTO data_sources (node_id, mimetype, structure_hash, management, parameters) VALUES ($1, $2, $3, $4, $5)`)
	res, err := s.db.ExecContext(ctx, query, ds.NodeID, ds.MimeType, ds.StructureHash, ds.Management, string(ds.Parameters))
	if err != nil {
		return 0, apperr.Internal(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Internal(err)
	}
	ds.ID = id
	return id, nil
}

// CreateAsset inserts an Asset row under dataSourceID.
func (s *Store) CreateAsset(ctx context.Context, a *Asset) (int64, error) {
	query := s.rebind(`INSERT INTO assets (data_source_id, data_uri, is_directory, parameter_name) VALUES ($1, $2, $3, $4)`)
	res, err := s.db.ExecContext(ctx, query, a.DataSourceID, a.DataURI, a.IsDirectory, a.ParameterName)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Internal(err)
	}
	a.ID = id
	return id, nil
}

// DataSourcesForNode lists every DataSource belonging to nodeID.
func (s *Store) DataSourcesForNode(ctx context.Context, nodeID int64) ([]DataSource, error) {
	var out []DataSource
	query := s.rebind(`SELECT id, node_id, mimetype, structure_hash, management, parameters FROM data_sources WHERE node_id = $1`)
	if err := s.db.SelectContext(ctx, &out, query, nodeID); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// AssetsForDataSource lists every Asset belonging to dataSourceID.
func (s *Store) AssetsForDataSource(ctx context.Context, dataSourceID int64) ([]Asset, error) {
	var out []Asset
	query := s.rebind(`SELECT id, data_source_id, data_uri, is_directory, parameter_name FROM assets WHERE data_source_id = $1`)
	if err := s.db.SelectContext(ctx, &out, query, dataSourceID); err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// DeleteDataSourceAssets removes every asset row under dataSourceID, used
// when deleting a node whose data sources have non-external management:
// deleting the backing asset bytes is the caller's job, this only drops
// the catalog rows once the caller confirms the bytes are gone.
func (s *Store) DeleteDataSourceAssets(ctx context.Context, dataSourceID int64) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM assets WHERE data_source_id = $1`), dataSourceID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
