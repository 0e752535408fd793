package adapter

import (
	"testing"

	"github.com/tiled-data/tiled/internal/structure"
)

func int32Bytes(values ...int32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		u := uint32(v)
		out = append(out, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
	}
	return out
}

func TestApplySliceRangeMatchesDocumentedExample(t *testing.T) {
	// A (3, 5) block of int32s, row-major: row 2 is [20, 21, 22, 23, 24].
	data := int32Bytes(0, 1, 2, 3, 4, 10, 11, 12, 13, 14, 20, 21, 22, 23, 24)
	payload := Payload{
		Structure: structure.Structure{
			Family: structure.FamilyArray,
			Array: &structure.ArrayStructure{
				Shape:  []int{3, 5},
				Chunks: [][]int{{3}, {5}},
				DType:  structure.DType{Kind: "i", ItemSize: 4},
			},
		},
		Bytes: data,
	}
	slice, err := ParseSlice("2:3,0:5")
	if err != nil {
		t.Fatalf("parse slice: %v", err)
	}
	got, err := ApplySlice(payload, []int{3, 5}, slice)
	if err != nil {
		t.Fatalf("apply slice: %v", err)
	}
	if got.Structure.Array.Shape[0] != 1 || got.Structure.Array.Shape[1] != 5 {
		t.Fatalf("expected sliced shape [1 5], got %v", got.Structure.Array.Shape)
	}
	want := int32Bytes(20, 21, 22, 23, 24)
	if string(got.Bytes) != string(want) {
		t.Fatalf("unexpected sliced bytes: %v, want %v", got.Bytes, want)
	}
}

func TestApplySliceNilIsNoOp(t *testing.T) {
	payload := Payload{Bytes: []byte{1, 2, 3}}
	got, err := ApplySlice(payload, []int{3}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Bytes) != string(payload.Bytes) {
		t.Fatalf("expected bytes unchanged")
	}
}

func TestApplySliceRejectsMeanDownsampling(t *testing.T) {
	payload := Payload{
		Structure: structure.Structure{
			Family: structure.FamilyArray,
			Array: &structure.ArrayStructure{
				Shape:  []int{10},
				Chunks: [][]int{{10}},
				DType:  structure.DType{Kind: "f", ItemSize: 8},
			},
		},
		Bytes: make([]byte, 80),
	}
	slice, err := ParseSlice("::mean(5)")
	if err != nil {
		t.Fatalf("parse slice: %v", err)
	}
	if _, err := ApplySlice(payload, []int{10}, slice); err == nil {
		t.Fatalf("expected mean downsampling to be rejected")
	}
}

func TestApplySliceRejectsNonArrayStructure(t *testing.T) {
	payload := Payload{
		Structure: structure.Structure{
			Family: structure.FamilySparse,
			Sparse: &structure.SparseStructure{Shape: []int{10}, Chunks: [][]int{{10}}},
		},
		Bytes: make([]byte, 80),
	}
	slice, err := ParseSlice("0:5")
	if err != nil {
		t.Fatalf("parse slice: %v", err)
	}
	if _, err := ApplySlice(payload, []int{10}, slice); err == nil {
		t.Fatalf("expected non-array structure to be rejected")
	}
}

func TestApplySliceNegativeIndexSelectsLastElement(t *testing.T) {
	data := int32Bytes(10, 11, 12, 13, 14)
	payload := Payload{
		Structure: structure.Structure{
			Family: structure.FamilyArray,
			Array: &structure.ArrayStructure{
				Shape:  []int{5},
				Chunks: [][]int{{5}},
				DType:  structure.DType{Kind: "i", ItemSize: 4},
			},
		},
		Bytes: data,
	}
	slice, err := ParseSlice("-1")
	if err != nil {
		t.Fatalf("parse slice: %v", err)
	}
	got, err := ApplySlice(payload, []int{5}, slice)
	if err != nil {
		t.Fatalf("apply slice: %v", err)
	}
	if len(got.Structure.Array.Shape) != 1 || got.Structure.Array.Shape[0] != 1 {
		t.Fatalf("expected sliced shape [1], got %v", got.Structure.Array.Shape)
	}
	want := int32Bytes(14)
	if string(got.Bytes) != string(want) {
		t.Fatalf("unexpected sliced bytes: %v, want %v", got.Bytes, want)
	}
}

func TestExpandDimsPadsTrailingFullRange(t *testing.T) {
	dims, err := expandDims([]Dim{{IsIndex: true, Index: 1}}, 3)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(dims) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(dims))
	}
	if !dims[0].IsIndex || dims[0].Index != 1 {
		t.Fatalf("expected first dim preserved, got %+v", dims[0])
	}
}

func TestExpandDimsEllipsis(t *testing.T) {
	dims, err := expandDims([]Dim{{IsEllipsis: true}, {IsIndex: true, Index: 0}}, 3)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(dims) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(dims))
	}
	if !dims[2].IsIndex || dims[2].Index != 0 {
		t.Fatalf("expected trailing index dim preserved, got %+v", dims[2])
	}
}
