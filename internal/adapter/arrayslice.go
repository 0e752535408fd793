package adapter

import "github.com/tiled-data/tiled/internal/apperr"

// ApplySlice sub-slices payload (one already-fetched block of blockShape)
// per slice, rewriting both the bytes and the returned Structure's shape
// so a serializer downstream sees the sliced extent rather than the whole
// block. A nil or empty slice is a no-op.
func ApplySlice(payload Payload, blockShape []int, slice *Slice) (Payload, error) {
	if slice == nil || len(slice.Dims) == 0 {
		return payload, nil
	}
	arr := payload.Structure.Array
	if arr == nil {
		return Payload{}, apperr.BadRequest("slicing is only supported for array structures")
	}
	dims, err := expandDims(slice.Dims, len(blockShape))
	if err != nil {
		return Payload{}, err
	}

	itemSize := arr.DType.ItemSize
	starts := make([]int, len(blockShape))
	stops := make([]int, len(blockShape))
	steps := make([]int, len(blockShape))
	for axis, d := range dims {
		if d.IsMean {
			return Payload{}, apperr.BadRequest("mean downsampling is not supported on this endpoint")
		}
		if d.IsIndex {
			n := blockShape[axis]
			idx := normalizeIndex(d.Index, n)
			stop := idx + 1
			if stop > n {
				stop = n
			}
			starts[axis], stops[axis], steps[axis] = idx, stop, 1
			continue
		}
		start, stop, step := d.Apply(blockShape[axis])
		if step <= 0 {
			return Payload{}, apperr.BadRequest("slice step must be positive on axis %d", axis)
		}
		starts[axis], stops[axis], steps[axis] = start, stop, step
	}

	data, outShape := sliceBytes(payload.Bytes, blockShape, itemSize, starts, stops, steps)

	newArr := *arr
	newArr.Shape = outShape
	newArr.Chunks = make([][]int, len(outShape))
	for axis, n := range outShape {
		newArr.Chunks[axis] = []int{n}
	}
	newStructure := payload.Structure
	newStructure.Array = &newArr
	return Payload{Structure: newStructure, Bytes: data}, nil
}

// expandDims fills in a lone "..." entry (or pads missing trailing
// dimensions when none is present) so the dimension count matches rank.
func expandDims(dims []Dim, rank int) ([]Dim, error) {
	ellipsisAt := -1
	for i, d := range dims {
		if d.IsEllipsis {
			if ellipsisAt != -1 {
				return nil, apperr.BadRequest("slice expression may contain at most one ellipsis")
			}
			ellipsisAt = i
		}
	}
	if ellipsisAt == -1 {
		if len(dims) > rank {
			return nil, apperr.BadRequest("slice dimension count %d exceeds array rank %d", len(dims), rank)
		}
		out := append([]Dim{}, dims...)
		for len(out) < rank {
			out = append(out, Dim{})
		}
		return out, nil
	}
	missing := rank - (len(dims) - 1)
	if missing < 0 {
		return nil, apperr.BadRequest("slice dimension count exceeds array rank %d", rank)
	}
	out := make([]Dim, 0, rank)
	out = append(out, dims[:ellipsisAt]...)
	for i := 0; i < missing; i++ {
		out = append(out, Dim{})
	}
	out = append(out, dims[ellipsisAt+1:]...)
	return out, nil
}

// sliceBytes copies the elements selected by [starts,stops) step out of
// data (row-major, shape-dimensioned, itemSize bytes per element) into a
// freshly allocated contiguous buffer, returning the resulting shape.
func sliceBytes(data []byte, shape []int, itemSize int, starts, stops, steps []int) ([]byte, []int) {
	strides := make([]int, len(shape))
	acc := itemSize
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}

	outShape := make([]int, len(shape))
	total := itemSize
	for axis := range shape {
		n := 0
		for v := starts[axis]; v < stops[axis]; v += steps[axis] {
			n++
		}
		outShape[axis] = n
		total *= n
	}

	out := make([]byte, 0, total)
	idx := make([]int, len(shape))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			offset := 0
			for i, v := range idx {
				offset += v * strides[i]
			}
			out = append(out, data[offset:offset+itemSize]...)
			return
		}
		for v := starts[axis]; v < stops[axis]; v += steps[axis] {
			idx[axis] = v
			walk(axis + 1)
		}
	}
	walk(0)
	return out, outShape
}
