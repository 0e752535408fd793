package serialize

import (
	"bytes"
	"encoding/json"

	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/tiled-data/tiled/internal/structure"
)

// envelope is the common wire shape for a full-node read: structure
// metadata alongside the raw payload bytes, mirroring
// GET /metadata / GET /array/full response pairing of structure and data.
type envelope struct {
	Structure structure.Structure `json:"structure" msgpack:"structure"`
	Metadata  json.RawMessage     `json:"metadata" msgpack:"metadata"`
	Data      []byte              `json:"data" msgpack:"data"`
}

// JSONEncoder is the default, always-registered encoder for every spec
// and every structure family ("JSON... is always
// available regardless of spec").
type JSONEncoder struct{}

func (JSONEncoder) MediaType() string { return "application/json" }

func (JSONEncoder) Encode(st structure.Structure, metadata []byte, data []byte) ([]byte, error) {
	out, err := json.Marshal(envelope{Structure: st, Metadata: metadata, Data: data})
	if err != nil {
		return nil, ErrSerialization{Reason: err.Error()}
	}
	return out, nil
}

// MsgpackEncoder packs the same envelope as MessagePack, grounded in the
// vmihailenco/msgpack dependency carried indirectly by storj-storj's
// go.mod and wired here to give it a concrete home.
type MsgpackEncoder struct{}

func (MsgpackEncoder) MediaType() string { return "application/x-msgpack" }

func (MsgpackEncoder) Encode(st structure.Structure, metadata []byte, data []byte) ([]byte, error) {
	var meta any
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return nil, ErrSerialization{Reason: err.Error()}
		}
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(map[string]any{
		"structure": st,
		"metadata":  meta,
		"data":      data,
	}); err != nil {
		return nil, ErrSerialization{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}

// RawBytesEncoder emits the adapter payload's bytes unmodified, used for
// media types where the structure/metadata envelope does not apply (e.g.
// a table partition already encoded by the adapter as Arrow IPC, or an
// array block already encoded as raw native bytes for the array/block
// endpoint's application/octet-stream response).
type RawBytesEncoder struct{ MT string }

func (r RawBytesEncoder) MediaType() string { return r.MT }

func (r RawBytesEncoder) Encode(_ structure.Structure, _ []byte, data []byte) ([]byte, error) {
	return data, nil
}

// RegisterDefaults installs the always-available encoders for every
// structure family "JSON is always available
// regardless of spec" guarantee, plus the raw octet-stream encoder used
// by binary block/partition endpoints.
func RegisterDefaults(r *Registry) {
	for _, fam := range []structure.Family{structure.FamilyContainer, structure.FamilyArray, structure.FamilyTable, structure.FamilyAwkward, structure.FamilySparse, structure.FamilyComposite} {
		r.Register(string(fam), JSONEncoder{})
		r.Register(string(fam), MsgpackEncoder{})
		r.Register(string(fam), RawBytesEncoder{MT: "application/octet-stream"})
	}
	r.Register(string(structure.FamilyArray), Blosc2Encoder{})
}
