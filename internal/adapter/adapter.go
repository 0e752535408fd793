// Package adapter defines the polymorphic handle over a catalog node's
// data: a capability-dispatched interface where a backend implements only
// the sub-interfaces its structure family supports, instead of one fat
// class with methods that panic or no-op when unsupported.
package adapter

import (
	"context"
	"encoding/json"

	"github.com/tiled-data/tiled/internal/structure"
)

// Payload is the bytes-oriented result of a read, read_block, or
// read_partition call, paired with the structure describing its shape so
// callers can pick a serializer without a second round trip.
type Payload struct {
	Structure structure.Structure
	Bytes     []byte
}

// Adapter is the handle every backend returns from a node lookup. Only
// Structure(), Metadata(), and Specs() are universally required; everything
// else (including container listing via ContainerLister) is reached via a
// capability type assertion against the concrete value returned here.
type Adapter interface {
	Structure() structure.Structure
	Metadata() json.RawMessage
	Specs() []string
}

// ArrayReader is implemented by adapters fronting an array or sparse
// structure that can return one chunk at a time.
type ArrayReader interface {
	ReadBlock(ctx context.Context, block []int, slice *Slice) (Payload, error)
}

// ArrayWriter is the optional write half of ArrayReader.
type ArrayWriter interface {
	WriteBlock(ctx context.Context, block []int, payload []byte) error
}

// TablePartitionReader is implemented by table-backed adapters.
type TablePartitionReader interface {
	ReadPartition(ctx context.Context, partition int, columns []string) (Payload, error)
}

// TablePartitionWriter is the optional write half of TablePartitionReader.
// AppendPartition supports the streaming append-only table use case
// (§8 DataFrame streaming example).
type TablePartitionWriter interface {
	WritePartition(ctx context.Context, partition int, payload []byte) error
	AppendPartition(ctx context.Context, partition int, payload []byte) error
}

// AwkwardBufferReader is implemented by awkward-array adapters.
type AwkwardBufferReader interface {
	ReadBuffers(ctx context.Context, formKeys []string) (map[string][]byte, error)
}

// ContainerLister is implemented by any adapter over a Container or
// Composite node.
type ContainerLister interface {
	LookupAdapter(ctx context.Context, pathSegments []string) (Adapter, error)
	KeysRange(ctx context.Context, offset, limit int) ([]string, error)
	ItemsRange(ctx context.Context, offset, limit int) ([]KeyedAdapter, error)
}

// KeyedAdapter pairs a child's key with its adapter, the result element of
// ItemsRange.
type KeyedAdapter struct {
	Key     string
	Adapter Adapter
}

// Searchable is implemented by adapters that can return a filtered view of
// themselves without materializing the unfiltered set first.
type Searchable interface {
	Search(ctx context.Context, q any) (Adapter, error)
}

// SortKey names a field and a direction; -1 is descending.
type SortKey struct {
	Field     string
	Direction int
}

// Sortable is implemented by adapters that can return themselves reordered.
type Sortable interface {
	Sort(ctx context.Context, keys []SortKey) (Adapter, error)
}

// FullReader is implemented by any adapter whose read() is cheap enough to
// not need partition/block-level access — containers (recursive, field
// selection) and whole tables/arrays read without slicing.
type FullReader interface {
	Read(ctx context.Context, fields []string) (Payload, error)
}

// DataSourceGenerator is implemented by adapters used during asset
// registration walks: given a newly discovered file or
// directory, propose the DataSource rows it would become.
type DataSourceGenerator interface {
	GenerateDataSources(ctx context.Context, mimetype, hint, itemPath string, isDir bool) ([]GeneratedDataSource, error)
}

// GeneratedDataSource is the adapter-proposed shape of a DataSource before
// it is persisted by the catalog store.
type GeneratedDataSource struct {
	Structure structure.Structure
	MimeType  string
	Assets    []GeneratedAsset
}

// GeneratedAsset is one asset proposed alongside a GeneratedDataSource.
type GeneratedAsset struct {
	DataURI       string
	IsDirectory   bool
	ParameterName string
}
