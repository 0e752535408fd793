package adapter

import (
	"github.com/tiled-data/tiled/internal/apperr"
)

// SizeGuard rejects any response whose projected byte size exceeds a
// configured limit "Response size guard": "return 400
// with a message suggesting slicing."
type SizeGuard struct {
	LimitBytes int64
}

// Check compares projectedBytes (the adapter's own estimate — exact for
// array/sparse blocks, a column/partition footprint estimate for tables)
// against the guard's limit.
func (g SizeGuard) Check(projectedBytes int64) error {
	if g.LimitBytes <= 0 || projectedBytes <= g.LimitBytes {
		return nil
	}
	return apperr.BadRequest(
		"response of %d bytes exceeds the configured limit of %d bytes; narrow the request with a slice or partition/block selection",
		projectedBytes, g.LimitBytes,
	)
}

// EstimateArrayBytes computes the exact byte size of a block with the
// given shape and per-item size.
func EstimateArrayBytes(shape []int, itemSize int) int64 {
	total := int64(itemSize)
	for _, s := range shape {
		total *= int64(s)
	}
	return total
}
