// Package adapterrouter implements httpapi.AdapterResolver, dispatching a
// resolved node's DataSource rows onto a concrete adapter.Adapter. A
// mutex-guarded map caches the in-memory backends across requests, and
// one shared RethinkDB session is handed to every table-backed node —
// a per-node, per-structure-family dispatch table.
package adapterrouter

import (
	"context"
	"encoding/json"
	"sync"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"github.com/tiled-data/tiled/internal/adapter"
	"github.com/tiled-data/tiled/internal/adapter/memadapter"
	"github.com/tiled-data/tiled/internal/adapter/rethinktable"
	"github.com/tiled-data/tiled/internal/adapter/sqladapter"
	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/catalogstore"
	"github.com/tiled-data/tiled/internal/structure"
)

// mimeRethinkTable is the DataSource.MimeType a writable table data source
// carries when its rows live in RethinkDB rather than the catalog's own
// SQL database. There's no dedicated "backend" column on DataSource, so
// MimeType doubles as the backend discriminator for writable sources, the
// same way Tiled's clients already use MimeType to distinguish external
// asset formats.
const mimeRethinkTable = "x-tiled-backend/rethinkdb"

// sqlParameters is the DataSource.Parameters shape a SQL-backed writable
// table data source carries: which table/column to query through the
// shared catalog database connection.
type sqlParameters struct {
	Table     string `json:"table"`
	SeqColumn string `json:"seq_column"`
}

// rethinkParameters is the DataSource.Parameters shape a RethinkDB-backed
// writable table data source carries.
type rethinkParameters struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

// Router is the concrete httpapi.AdapterResolver. "writable" array and
// awkward nodes are served from an in-process cache (their bytes live
// only in this router's memory, per memadapter's design); "writable"
// table nodes are served live from SQL or RethinkDB according to
// DataSource.MimeType/Parameters, needing no cache since those backends
// hold no per-request state of their own. "external" data sources (bytes
// living outside managed storage) are never served through this router —
// clients read them via /asset/bytes instead.
type Router struct {
	Catalog *catalogstore.Store

	// RethinkSession is nil when no RethinkDB table backend is
	// configured; resolving a rethinkdb-managed table then fails with a
	// clear error instead of a nil-pointer panic.
	RethinkSession *r.Session

	BlockSizeLimitBytes int64

	mu          sync.Mutex
	memArrays   map[int64]*memadapter.ArrayAdapter
	memAwkwards map[int64]*memadapter.AwkwardAdapter
}

func New(catalog *catalogstore.Store, rethinkSession *r.Session, blockSizeLimitBytes int64) *Router {
	return &Router{
		Catalog:             catalog,
		RethinkSession:      rethinkSession,
		BlockSizeLimitBytes: blockSizeLimitBytes,
		memArrays:           make(map[int64]*memadapter.ArrayAdapter),
		memAwkwards:         make(map[int64]*memadapter.AwkwardAdapter),
	}
}

// Resolve dispatches node to a concrete adapter.Adapter using its
// primary (first) DataSource single-structure-per-node
// model. Container/composite nodes have no DataSource-backed adapter in
// this router: their children are served directly off catalogstore by
// the search/container handlers instead of through adapter.ContainerLister.
func (rt *Router) Resolve(ctx context.Context, node catalogstore.Node, sources []catalogstore.DataSource) (adapter.Adapter, error) {
	if len(sources) == 0 {
		return nil, apperr.BadRequest("node has no registered data source")
	}
	ds := sources[0]

	st, err := rt.structureFor(ctx, node)
	if err != nil {
		return nil, err
	}

	switch node.StructureFamily {
	case structure.FamilyArray, structure.FamilySparse:
		if ds.Management != "writable" {
			return nil, apperr.BadRequest("array data sources backed by external assets are read via /asset/bytes, not the array/block API")
		}
		return rt.arrayAdapter(node.ID, st, node.Metadata, node.Specs), nil

	case structure.FamilyAwkward:
		if ds.Management != "writable" {
			return nil, apperr.BadRequest("awkward data sources backed by external assets are read via /asset/bytes, not the awkward API")
		}
		return rt.awkwardAdapter(node.ID, st, node.Metadata, node.Specs), nil

	case structure.FamilyTable:
		if ds.Management != "writable" {
			return nil, apperr.BadRequest("external table data sources are read via /asset/bytes, not the table API")
		}
		return rt.tableAdapter(ds, st, node.Metadata, node.Specs)

	default:
		return nil, apperr.BadRequest("structure family %q has no data-plane adapter", node.StructureFamily)
	}
}

func (rt *Router) structureFor(ctx context.Context, node catalogstore.Node) (structure.Structure, error) {
	if !node.StructureHash.Valid {
		return structure.Structure{Family: node.StructureFamily}, nil
	}
	return rt.Catalog.GetStructure(ctx, node.StructureHash.String)
}

func (rt *Router) arrayAdapter(nodeID int64, st structure.Structure, metadata json.RawMessage, specsJSON json.RawMessage) *memadapter.ArrayAdapter {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if a, ok := rt.memArrays[nodeID]; ok {
		return a
	}
	a := memadapter.NewArrayAdapter(st, metadata, decodeSpecs(specsJSON), rt.BlockSizeLimitBytes)
	rt.memArrays[nodeID] = a
	return a
}

func (rt *Router) awkwardAdapter(nodeID int64, st structure.Structure, metadata json.RawMessage, specsJSON json.RawMessage) *memadapter.AwkwardAdapter {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if a, ok := rt.memAwkwards[nodeID]; ok {
		return a
	}
	a := memadapter.NewAwkwardAdapter(st, metadata, decodeSpecs(specsJSON), rt.BlockSizeLimitBytes)
	rt.memAwkwards[nodeID] = a
	return a
}

func (rt *Router) tableAdapter(ds catalogstore.DataSource, st structure.Structure, metadata json.RawMessage, specsJSON json.RawMessage) (adapter.Adapter, error) {
	specs := decodeSpecs(specsJSON)
	switch ds.MimeType {
	case mimeRethinkTable:
		if rt.RethinkSession == nil {
			return nil, apperr.BadRequest("no rethinkdb session configured for this deployment")
		}
		var params rethinkParameters
		if err := json.Unmarshal(ds.Parameters, &params); err != nil {
			return nil, apperr.BadRequest("invalid rethinkdb data source parameters: %v", err)
		}
		return rethinktable.New(rt.RethinkSession, params.Database, params.Table, st, metadata, specs, rt.BlockSizeLimitBytes), nil
	default:
		var params sqlParameters
		if err := json.Unmarshal(ds.Parameters, &params); err != nil {
			return nil, apperr.BadRequest("invalid sql data source parameters: %v", err)
		}
		if params.Table == "" {
			return nil, apperr.BadRequest("sql data source parameters missing table name")
		}
		return sqladapter.New(rt.Catalog.DB(), params.Table, params.SeqColumn, st, metadata, specs, rt.BlockSizeLimitBytes), nil
	}
}

func decodeSpecs(raw json.RawMessage) []string {
	var specs []string
	_ = json.Unmarshal(raw, &specs)
	return specs
}
