package structure

import "fmt"

// DType describes a scalar or structured NumPy-style dtype. Only the
// fields relevant to wire encoding are modeled: kind, item size, byte
// order, and the member fields of a structured dtype.
type DType struct {
	Kind     string  `json:"kind"`             // "i", "u", "f", "c", "b", "U", "V" (structured)
	ItemSize int     `json:"itemsize"`         // bytes
	Endian   string  `json:"endianness"`       // "little", "big", "not_applicable"
	Fields   []Field `json:"fields,omitempty"` // non-empty only for structured ("V") dtype
}

// Field is one member of a structured dtype.
type Field struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
}

// Dims names the axes of an array (optional; len(Dims) must equal len(Shape) when present).
type Dims []string

// ArrayStructure describes an N-dimensional chunked array.
type ArrayStructure struct {
	Shape  []int   `json:"shape"`
	Chunks [][]int `json:"chunks"` // one inner slice per axis, enumerating chunk extents along that axis
	DType  DType   `json:"data_type"`
	Dims   Dims    `json:"dims,omitempty"`
}

// Validate enforces the chunk-consistency invariant: shape[i] == sum(chunks[i]).
func (a *ArrayStructure) Validate() error {
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("array structure: chunks has %d axes, shape has %d", len(a.Chunks), len(a.Shape))
	}
	for axis, extents := range a.Chunks {
		sum := 0
		for _, e := range extents {
			if e <= 0 {
				return fmt.Errorf("array structure: axis %d has non-positive chunk extent %d", axis, e)
			}
			sum += e
		}
		if sum != a.Shape[axis] {
			return fmt.Errorf("array structure: axis %d chunk extents sum to %d, shape says %d", axis, sum, a.Shape[axis])
		}
	}
	if a.Dims != nil && len(a.Dims) != len(a.Shape) {
		return fmt.Errorf("array structure: dims has %d entries, shape has %d", len(a.Dims), len(a.Shape))
	}
	return nil
}

// NumBlocks returns the size of the chunk grid along each axis.
func (a *ArrayStructure) NumBlocks() []int {
	out := make([]int, len(a.Chunks))
	for i, extents := range a.Chunks {
		out[i] = len(extents)
	}
	return out
}

// BlockShape returns the shape of the chunk at the given block index, or an
// error if the index falls outside the chunk grid.
func (a *ArrayStructure) BlockShape(block []int) ([]int, error) {
	if len(block) != len(a.Chunks) {
		return nil, fmt.Errorf("array structure: block index has %d dims, array has %d", len(block), len(a.Chunks))
	}
	shape := make([]int, len(block))
	for axis, idx := range block {
		extents := a.Chunks[axis]
		if idx < 0 || idx >= len(extents) {
			return nil, fmt.Errorf("array structure: block index %d out of range on axis %d (grid size %d)", idx, axis, len(extents))
		}
		shape[axis] = extents[idx]
	}
	return shape, nil
}
