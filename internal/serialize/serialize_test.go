package serialize

import (
	"strings"
	"testing"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/structure"
)

func arrayStructure() structure.Structure {
	return structure.Structure{
		Family: structure.FamilyArray,
		Array: &structure.ArrayStructure{
			Shape:  []int{2, 2},
			Chunks: [][]int{{2}, {2}},
			DType:  structure.DType{Kind: "f", ItemSize: 8, Endian: "little"},
		},
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}

func TestNegotiatedMediaTypesPrefersFormatParam(t *testing.T) {
	got := NegotiatedMediaTypes("csv", "application/json")
	if len(got) != 1 || got[0] != "text/csv" {
		t.Fatalf("expected csv alias resolved to text/csv, got %v", got)
	}
}

func TestNegotiatedMediaTypesFallsBackToAccept(t *testing.T) {
	got := NegotiatedMediaTypes("", "application/x-msgpack;q=0.9, application/json")
	if len(got) != 2 || got[0] != "application/x-msgpack" || got[1] != "application/json" {
		t.Fatalf("unexpected negotiated types: %v", got)
	}
}

func TestDispatchJSONDefault(t *testing.T) {
	r := newTestRegistry()
	enc, err := r.Dispatch(nil, structure.FamilyArray, []string{"application/json"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	out, err := enc.Encode(arrayStructure(), []byte(`{}`), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(out), `"family":"array"`) {
		t.Fatalf("expected JSON envelope to include structure family, got %s", out)
	}
}

func TestDispatchSpecTakesPrecedenceOverFamily(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)
	r.Register("my_custom_spec", RawBytesEncoder{MT: "application/json"})
	enc, err := r.Dispatch([]string{"my_custom_spec"}, structure.FamilyArray, []string{"application/json"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if enc.MediaType() != "application/json" {
		t.Fatalf("unexpected encoder media type: %s", enc.MediaType())
	}
	if _, ok := enc.(RawBytesEncoder); !ok {
		t.Fatalf("expected the spec's RawBytesEncoder, got %T", enc)
	}
}

func TestDispatchUnknownMediaTypeReturnsNotAcceptable(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Dispatch(nil, structure.FamilyArray, []string{"application/vnd.unknown"})
	if err == nil {
		t.Fatalf("expected error for unknown media type")
	}
}

func TestMsgpackEncoderRoundtripsBytes(t *testing.T) {
	r := newTestRegistry()
	enc, err := r.Dispatch(nil, structure.FamilyTable, []string{"application/x-msgpack"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	out, err := enc.Encode(structure.Structure{Family: structure.FamilyTable}, []byte(`{"a":1}`), []byte("payload"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty msgpack output")
	}
}

func TestBlosc2EncoderReturnsUnimplementedError(t *testing.T) {
	_, err := Blosc2Encoder{}.Encode(arrayStructure(), nil, nil)
	if err == nil {
		t.Fatalf("expected blosc2 encode to fail")
	}
	if _, ok := err.(ErrSerialization); !ok {
		t.Fatalf("expected ErrSerialization, got %T", err)
	}
}

func TestWrapEncodeErrorMapsToNotAcceptable(t *testing.T) {
	err := WrapEncodeError(ErrUnsupportedShape{Reason: "ragged dims"})
	if err == nil {
		t.Fatalf("expected wrapped error")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindNotAcceptable {
		t.Fatalf("expected a not_acceptable apperr.Error, got %v", err)
	}
}
