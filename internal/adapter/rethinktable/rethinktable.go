// Package rethinktable fronts a table node backed by a RethinkDB table,
// one row per table record, using r.DB(...).Table(...) query shapes
// (OrderBy/Skip/Limit pagination, bulk Insert) to implement
// TablePartitionReader/Writer. One RethinkDB table backs the whole node;
// "partitions" are contiguous row ranges defined by the structure's
// PartitionRow map, fetched in document-insertion order.
package rethinktable

import (
	"context"
	"encoding/json"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"github.com/tiled-data/tiled/internal/adapter"
	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/structure"
)

// Adapter is a TablePartitionReader/Writer over one RethinkDB table.
type Adapter struct {
	sess      *r.Session
	database  string
	table     string
	structure structure.Structure
	metadata  json.RawMessage
	specs     []string
	guard     adapter.SizeGuard
}

// New constructs a rethinktable Adapter. sess is an already-connected
// RethinkDB session (see cmd/tiled-server for how the process-wide
// session is opened); database/table name the backing RethinkDB table.
func New(sess *r.Session, database, table string, st structure.Structure, metadata json.RawMessage, specs []string, bytesizeLimit int64) *Adapter {
	return &Adapter{
		sess: sess, database: database, table: table,
		structure: st, metadata: metadata, specs: specs,
		guard: adapter.SizeGuard{LimitBytes: bytesizeLimit},
	}
}

func (a *Adapter) Structure() structure.Structure { return a.structure }
func (a *Adapter) Metadata() json.RawMessage      { return a.metadata }
func (a *Adapter) Specs() []string                { return a.specs }

// ReadPartition fetches the row range for the given partition index from
// the structure's PartitionRow map, projecting only the requested columns
// the way QueryRows builds its term incrementally before Run.
func (a *Adapter) ReadPartition(ctx context.Context, partition int, columns []string) (adapter.Payload, error) {
	tbl := a.structure.Table
	if tbl == nil {
		return adapter.Payload{}, apperr.BadRequest("node is not a table structure")
	}
	offset, rowCount, err := partitionBounds(tbl, partition)
	if err != nil {
		return adapter.Payload{}, err
	}

	term := r.DB(a.database).Table(a.table).OrderBy(r.OrderByOpts{Index: "rowOrder"}).
		Skip(offset).Limit(rowCount)
	if len(columns) > 0 {
		pluck := make([]interface{}, len(columns))
		for i, c := range columns {
			pluck[i] = c
		}
		term = term.Pluck(pluck...)
	}
	cur, err := term.Run(a.sess, r.RunOpts{Context: ctx})
	if err != nil {
		return adapter.Payload{}, apperr.Internal(err)
	}
	defer cur.Close()

	var rows []map[string]any
	if err := cur.All(&rows); err != nil {
		return adapter.Payload{}, apperr.Internal(err)
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return adapter.Payload{}, apperr.Internal(err)
	}
	if err := a.guard.Check(int64(len(b))); err != nil {
		return adapter.Payload{}, err
	}
	return adapter.Payload{Structure: a.structure, Bytes: b}, nil
}

// WritePartition replaces the rows belonging to partition wholesale.
func (a *Adapter) WritePartition(ctx context.Context, partition int, payload []byte) error {
	rows, err := decodeRows(payload)
	if err != nil {
		return err
	}
	if err := a.deletePartitionRows(ctx, partition); err != nil {
		return err
	}
	return a.insertRows(ctx, rows)
}

// AppendPartition inserts additional rows into partition, used by the
// append-only streaming table use case.
func (a *Adapter) AppendPartition(ctx context.Context, partition int, payload []byte) error {
	rows, err := decodeRows(payload)
	if err != nil {
		return err
	}
	return a.insertRows(ctx, rows)
}

func decodeRows(payload []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, apperr.BadRequest("invalid partition payload: %v", err)
	}
	return rows, nil
}

func (a *Adapter) insertRows(ctx context.Context, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rows))
	for i, r2 := range rows {
		docs[i] = r2
	}
	if _, err := r.DB(a.database).Table(a.table).Insert(docs).RunWrite(a.sess, r.RunOpts{Context: ctx}); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (a *Adapter) deletePartitionRows(ctx context.Context, partition int) error {
	tbl := a.structure.Table
	offset, rowCount, err := partitionBounds(tbl, partition)
	if err != nil {
		return err
	}
	term := r.DB(a.database).Table(a.table).OrderBy(r.OrderByOpts{Index: "rowOrder"}).Skip(offset).Limit(rowCount)
	if _, err := term.Delete().RunWrite(a.sess, r.RunOpts{Context: ctx}); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func partitionBounds(tbl *structure.TableStructure, partition int) (offset, rowCount int, err error) {
	if partition < 0 || partition >= tbl.NPartitions {
		return 0, 0, apperr.BadRequest("partition %d out of range [0,%d)", partition, tbl.NPartitions)
	}
	for p := 0; p < partition; p++ {
		offset += tbl.PartitionRow[p]
	}
	rowCount = tbl.PartitionRow[partition]
	return offset, rowCount, nil
}

var (
	_ adapter.Adapter              = (*Adapter)(nil)
	_ adapter.TablePartitionReader = (*Adapter)(nil)
	_ adapter.TablePartitionWriter = (*Adapter)(nil)
)
