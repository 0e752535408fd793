// Package memadapter is an in-memory Adapter backend: a map guarded by
// one RWMutex, no external I/O. It is the adapter used for
// array/sparse/awkward nodes whose chunks are held directly as Go byte
// slices, and for ad hoc container trees built in tests.
package memadapter

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/tiled-data/tiled/internal/adapter"
	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/structure"
)

// ArrayAdapter holds one array or sparse node's chunks entirely in memory,
// keyed by the JSON encoding of the block index (e.g. "[2,1]"), so distinct
// indices never collide.
type ArrayAdapter struct {
	mu        sync.RWMutex
	structure structure.Structure
	metadata  json.RawMessage
	specs     []string
	blocks    map[string][]byte
	guard     adapter.SizeGuard
}

// NewArrayAdapter constructs an ArrayAdapter over an already-validated
// array structure. blockSizeLimit of 0 disables the response size guard.
func NewArrayAdapter(st structure.Structure, metadata json.RawMessage, specs []string, blockSizeLimit int64) *ArrayAdapter {
	return &ArrayAdapter{
		structure: st,
		metadata:  metadata,
		specs:     specs,
		blocks:    make(map[string][]byte),
		guard:     adapter.SizeGuard{LimitBytes: blockSizeLimit},
	}
}

func blockKey(block []int) string {
	b, _ := json.Marshal(block)
	return string(b)
}

func (a *ArrayAdapter) Structure() structure.Structure { return a.structure }
func (a *ArrayAdapter) Metadata() json.RawMessage      { return a.metadata }
func (a *ArrayAdapter) Specs() []string                { return a.specs }

// ReadBlock implements adapter.ArrayReader. Sub-slicing within a block is
// the caller's (httpapi) responsibility once bytes and structure are
// returned; memadapter only stores whole chunks.
func (a *ArrayAdapter) ReadBlock(ctx context.Context, block []int, slice *adapter.Slice) (adapter.Payload, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.blocks[blockKey(block)]
	if !ok {
		return adapter.Payload{}, apperr.NotFound("block %v not found", block)
	}
	if err := a.guard.Check(int64(len(b))); err != nil {
		return adapter.Payload{}, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return adapter.Payload{Structure: a.structure, Bytes: out}, nil
}

// WriteBlock implements adapter.ArrayWriter.
func (a *ArrayAdapter) WriteBlock(ctx context.Context, block []int, payload []byte) error {
	arr := a.structure.Array
	if arr == nil {
		return apperr.BadRequest("node is not an array structure")
	}
	shape, err := arr.BlockShape(block)
	if err != nil {
		return err
	}
	want := adapter.EstimateArrayBytes(shape, arr.DType.ItemSize)
	if int64(len(payload)) != want {
		return apperr.BadRequest("block %v expects %d bytes, got %d", block, want, len(payload))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	a.blocks[blockKey(block)] = cp
	return nil
}

var (
	_ adapter.Adapter     = (*ArrayAdapter)(nil)
	_ adapter.ArrayReader = (*ArrayAdapter)(nil)
	_ adapter.ArrayWriter = (*ArrayAdapter)(nil)
)

// AwkwardAdapter holds one awkward-array node's named form buffers
// entirely in memory, the same storage shape as ArrayAdapter's block map
// but keyed by buffer name instead of block index.
type AwkwardAdapter struct {
	mu        sync.RWMutex
	structure structure.Structure
	metadata  json.RawMessage
	specs     []string
	buffers   map[string][]byte
	guard     adapter.SizeGuard
}

// NewAwkwardAdapter constructs an AwkwardAdapter over an already-validated
// awkward structure. bufferSizeLimit of 0 disables the response size guard.
func NewAwkwardAdapter(st structure.Structure, metadata json.RawMessage, specs []string, bufferSizeLimit int64) *AwkwardAdapter {
	return &AwkwardAdapter{
		structure: st,
		metadata:  metadata,
		specs:     specs,
		buffers:   make(map[string][]byte),
		guard:     adapter.SizeGuard{LimitBytes: bufferSizeLimit},
	}
}

func (a *AwkwardAdapter) Structure() structure.Structure { return a.structure }
func (a *AwkwardAdapter) Metadata() json.RawMessage      { return a.metadata }
func (a *AwkwardAdapter) Specs() []string                { return a.specs }

// PutBuffer registers or replaces one named form buffer.
func (a *AwkwardAdapter) PutBuffer(name string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	a.buffers[name] = cp
}

// ReadBuffers implements adapter.AwkwardBufferReader.
func (a *AwkwardAdapter) ReadBuffers(ctx context.Context, formKeys []string) (map[string][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string][]byte, len(formKeys))
	var total int64
	for _, k := range formKeys {
		b, ok := a.buffers[k]
		if !ok {
			return nil, apperr.NotFound("buffer %q not found", k)
		}
		total += int64(len(b))
		out[k] = b
	}
	if err := a.guard.Check(total); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ adapter.Adapter             = (*AwkwardAdapter)(nil)
	_ adapter.AwkwardBufferReader = (*AwkwardAdapter)(nil)
)

// ContainerAdapter is an in-memory container node: a key-ordered map of
// children, keeping them in a map internally but exposing them through a
// stable, sorted listing for pagination.
type ContainerAdapter struct {
	mu        sync.RWMutex
	structure structure.Structure
	metadata  json.RawMessage
	specs     []string
	children  map[string]adapter.Adapter
}

func NewContainerAdapter(metadata json.RawMessage, specs []string) *ContainerAdapter {
	return &ContainerAdapter{
		structure: structure.Structure{Family: structure.FamilyContainer},
		metadata:  metadata,
		specs:     specs,
		children:  make(map[string]adapter.Adapter),
	}
}

func (c *ContainerAdapter) Structure() structure.Structure { return c.structure }
func (c *ContainerAdapter) Metadata() json.RawMessage      { return c.metadata }
func (c *ContainerAdapter) Specs() []string                { return c.specs }

// Put registers a child adapter under key, replacing any existing entry.
func (c *ContainerAdapter) Put(key string, child adapter.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children[key] = child
}

func (c *ContainerAdapter) sortedKeys() []string {
	keys := make([]string, 0, len(c.children))
	for k := range c.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *ContainerAdapter) LookupAdapter(ctx context.Context, pathSegments []string) (adapter.Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(pathSegments) == 0 {
		return c, nil
	}
	child, ok := c.children[pathSegments[0]]
	if !ok {
		return nil, apperr.NotFound("no child named %q", pathSegments[0])
	}
	if len(pathSegments) == 1 {
		return child, nil
	}
	lister, ok := child.(adapter.ContainerLister)
	if !ok {
		return nil, apperr.NotFound("%q is not a container", pathSegments[0])
	}
	return lister.LookupAdapter(ctx, pathSegments[1:])
}

func (c *ContainerAdapter) KeysRange(ctx context.Context, offset, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.sortedKeys()
	return paginate(keys, offset, limit), nil
}

func (c *ContainerAdapter) ItemsRange(ctx context.Context, offset, limit int) ([]adapter.KeyedAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := paginate(c.sortedKeys(), offset, limit)
	out := make([]adapter.KeyedAdapter, 0, len(keys))
	for _, k := range keys {
		out = append(out, adapter.KeyedAdapter{Key: k, Adapter: c.children[k]})
	}
	return out, nil
}

func paginate(keys []string, offset, limit int) []string {
	if offset >= len(keys) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(keys) {
		end = len(keys)
	}
	return keys[offset:end]
}

var _ adapter.Adapter = (*ContainerAdapter)(nil)
var _ adapter.ContainerLister = (*ContainerAdapter)(nil)
