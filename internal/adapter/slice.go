package adapter

import (
	"strconv"
	"strings"

	"github.com/tiled-data/tiled/internal/apperr"
)

// allowedSliceChars is the complete character set the slice grammar may
// contain. Anything outside it is rejected before any parsing is
// attempted: "reject any input containing characters
// outside [-0-9,:.mean()] ... without attempting to evaluate."
const allowedSliceChars = "-0123456789,:.mean()"

// Dim is one parsed dimension of a slice expression: either a single
// index, a start:stop:step range, or a mean-downsampling request.
type Dim struct {
	IsIndex bool
	Index   int

	Start, Stop, Step *int // nil means omitted

	IsMean   bool
	MeanSize int // 0 means bare "mean" (full-axis reduction)

	IsEllipsis bool
}

// Slice is a parsed multi-dimensional slice expression.
type Slice struct {
	Dims []Dim
}

// ParseSlice parses a compact textual slicing grammar: comma
// separated dimensions, each an integer index, a start:stop:step range
// with any part omitted, "..." for ellipsis expansion, or "mean"/"mean(N)"
// in the step position for server-side downsampling.
func ParseSlice(raw string) (*Slice, error) {
	if raw == "" {
		return &Slice{}, nil
	}
	for _, r := range raw {
		if !strings.ContainsRune(allowedSliceChars, r) {
			return nil, apperr.BadRequest("slice expression contains disallowed character %q", r)
		}
	}
	parts := strings.Split(raw, ",")
	dims := make([]Dim, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "..." {
			dims = append(dims, Dim{IsEllipsis: true})
			continue
		}
		if !strings.Contains(p, ":") {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, apperr.BadRequest("invalid slice index %q", p)
			}
			dims = append(dims, Dim{IsIndex: true, Index: n})
			continue
		}
		dim, err := parseRange(p)
		if err != nil {
			return nil, err
		}
		dims = append(dims, dim)
	}
	return &Slice{Dims: dims}, nil
}

func parseRange(p string) (Dim, error) {
	fields := strings.Split(p, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return Dim{}, apperr.BadRequest("invalid slice range %q", p)
	}
	var d Dim
	var err error
	if d.Start, err = parseOptionalInt(fields[0]); err != nil {
		return Dim{}, apperr.BadRequest("invalid slice start in %q", p)
	}
	if d.Stop, err = parseOptionalInt(fields[1]); err != nil {
		return Dim{}, apperr.BadRequest("invalid slice stop in %q", p)
	}
	if len(fields) == 3 && fields[2] != "" {
		step := fields[2]
		if step == "mean" {
			d.IsMean = true
			return d, nil
		}
		if strings.HasPrefix(step, "mean(") && strings.HasSuffix(step, ")") {
			n, err := strconv.Atoi(step[len("mean(") : len(step)-1])
			if err != nil || n <= 0 {
				return Dim{}, apperr.BadRequest("invalid mean window in %q", p)
			}
			d.IsMean = true
			d.MeanSize = n
			return d, nil
		}
		n, err := strconv.Atoi(step)
		if err != nil {
			return Dim{}, apperr.BadRequest("invalid slice step in %q", p)
		}
		d.Step = &n
	}
	return d, nil
}

func parseOptionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Apply resolves d against an axis of length n, returning the concrete
// [start, stop) half-open range and step (1 if unset). Negative start/stop
// follow Python slicing convention (offset from the end).
func (d Dim) Apply(n int) (start, stop, step int) {
	step = 1
	if d.Step != nil {
		step = *d.Step
	}
	start, stop = 0, n
	if d.Start != nil {
		start = normalizeIndex(*d.Start, n)
	}
	if d.Stop != nil {
		stop = normalizeIndex(*d.Stop, n)
	}
	if stop > n {
		stop = n
	}
	if start > stop {
		start = stop
	}
	return start, stop, step
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		i = 0
	}
	if i > n {
		i = n
	}
	return i
}
