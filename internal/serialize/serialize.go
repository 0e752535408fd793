// Package serialize implements the two-level serialization registry:
// (spec-or-structure-family) → media_type → encoder, with content
// negotiation over format=/Accept: and the media-type aliases (csv →
// text/csv, etc). RegisterDefaults populates it with JSON, msgpack and raw
// octet-stream encoders for every structure family, plus a Blosc2
// placeholder for arrays that always fails; there is no built-in CSV
// encoder.
package serialize

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/structure"
)

// Encoder turns one adapter Payload's bytes into the wire representation
// for one media type. Concrete encoders (CSV, Arrow, HDF5, PNG) are
// plugin code Non-goals; this registry only enforces
// lookup and error shape.
type Encoder interface {
	Encode(structure structure.Structure, metadata []byte, data []byte) ([]byte, error)
	MediaType() string
}

// ErrUnsupportedShape is returned by an Encoder when a structure's shape
// cannot be represented in its media type, mapping to 406
type ErrUnsupportedShape struct{ Reason string }

func (e ErrUnsupportedShape) Error() string { return "unsupported shape: " + e.Reason }

// ErrSerialization is a generic encoder failure, mapping to 406 with the
// serializer's own message.
type ErrSerialization struct{ Reason string }

func (e ErrSerialization) Error() string { return e.Reason }

// dispatchKey is either a spec name or a structure family string; both
// share one namespace the way this describes ("spec_or_structure_family").
type dispatchKey string

// Registry is the two-level dispatch table. Constructed at startup and
// read-only thereafter — dispatch is pure and safe for concurrent callers,
// and §6 ("Global state... populated at startup and
// read-only afterward").
type Registry struct {
	mu    sync.RWMutex
	table map[dispatchKey]map[string]Encoder
}

func NewRegistry() *Registry {
	return &Registry{table: make(map[dispatchKey]map[string]Encoder)}
}

// Register installs enc for key (a spec name or structure.Family string)
// and its own media type.
func (r *Registry) Register(key string, enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := dispatchKey(key)
	if r.table[k] == nil {
		r.table[k] = make(map[string]Encoder)
	}
	r.table[k][enc.MediaType()] = enc
}

// mediaTypeAliases resolves shorthand format= values to full media types,
// ("aliases like csv resolved to text/csv").
var mediaTypeAliases = map[string]string{
	"csv":     "text/csv",
	"json":    "application/json",
	"msgpack": "application/x-msgpack",
	"arrow":   "application/vnd.apache.arrow.stream",
	"hdf5":    "application/x-hdf5",
	"png":     "image/png",
}

func resolveMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if full, ok := mediaTypeAliases[raw]; ok {
		return full
	}
	return raw
}

// NegotiatedMediaTypes parses either the format= query parameter (if
// present) or the Accept header, in the precedence order
func NegotiatedMediaTypes(formatParam, acceptHeader string) []string {
	if formatParam != "" {
		var out []string
		for _, part := range strings.Split(formatParam, ",") {
			out = append(out, resolveMediaType(part))
		}
		return out
	}
	if acceptHeader == "" {
		return []string{"*/*"}
	}
	var out []string
	for _, part := range strings.Split(acceptHeader, ",") {
		part = strings.SplitN(strings.TrimSpace(part), ";", 2)[0]
		out = append(out, resolveMediaType(part))
	}
	return out
}

// Dispatch resolves an encoder for the node given its specs, structure
// family, and the client's negotiated media types steps
// 3-4: "For each requested media type, try every spec attached to the
// node in order, then the structure family, using the first match ...
// If no match, return 406 with the list of supported media types."
func (r *Registry) Dispatch(specs []string, family structure.Family, mediaTypes []string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]dispatchKey, 0, len(specs)+1)
	for _, s := range specs {
		keys = append(keys, dispatchKey(s))
	}
	keys = append(keys, dispatchKey(family))

	for _, mt := range mediaTypes {
		if mt == "*/*" {
			// */* resolves to JSON, the default encoder, when any key has it.
			for _, k := range keys {
				if enc, ok := r.table[k]["application/json"]; ok {
					return enc, nil
				}
			}
			for _, k := range keys {
				for _, enc := range r.table[k] {
					return enc, nil
				}
			}
			continue
		}
		for _, k := range keys {
			if enc, ok := r.table[k][mt]; ok {
				return enc, nil
			}
		}
	}
	return nil, apperr.NotAcceptable("no serializer available for %v; supported media types: %v", mediaTypes, r.supportedMediaTypesLocked(keys))
}

func (r *Registry) supportedMediaTypesLocked(keys []dispatchKey) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		for mt := range r.table[k] {
			if _, ok := seen[mt]; !ok {
				seen[mt] = struct{}{}
				out = append(out, mt)
			}
		}
	}
	return out
}

// WrapEncodeError maps an encoder's returned error onto the two 406
// categories
func WrapEncodeError(err error) error {
	switch e := err.(type) {
	case ErrUnsupportedShape:
		return apperr.NotAcceptable("unsupported shape for this media type: %s; try a narrower slice", e.Reason)
	case ErrSerialization:
		return apperr.NotAcceptable("serialization failed: %s", e.Reason)
	default:
		return apperr.Internal(fmt.Errorf("serialize: %w", err))
	}
}
