package structure

// SparseStructure describes a chunked COO (coordinate-list) sparse array.
type SparseStructure struct {
	Shape      []int   `json:"shape"`
	Chunks     [][]int `json:"chunks"`
	DataDType  DType   `json:"data_type"`
	CoordDType DType   `json:"coord_dtype"`
}

// AwkwardStructure describes a ragged/jagged array via its Awkward Form IR
// plus the named buffers that back it. The form itself is treated as an
// opaque, serializer-owned JSON document — Tiled's core only needs the
// length and the buffer size map to plan reads and enforce the response
// size guard.
type AwkwardStructure struct {
	Form        map[string]any `json:"form"`
	Length      int            `json:"length"`
	BufferSizes map[string]int `json:"buffer_sizes"` // buffer name -> byte size
}

// ContainerStruct enumerates (or inlines) a container's children.
type ContainerStruct struct {
	Count   int             `json:"count"`
	Inlined map[string]Node `json:"contents,omitempty"` // non-nil only when inlining was requested and within caps
}

// Node is the minimal structural view of a child embedded in an inlined
// container response: just enough to render one row of a listing without a
// further round trip.
type Node struct {
	Key             string `json:"key"`
	StructureFamily Family `json:"structure_family"`
}
