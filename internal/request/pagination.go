// Package request implements the request-core concerns:
// pagination, field selection, select_metadata (JMESPath), inline-children
// caps, and conditional-request ETag handling. Pagination is offset/limit
// based, surfaced as JSON-API-style page[offset]/page[limit] links.
package request

import (
	"fmt"
	"net/url"
	"strconv"
)

// Page bounds a listing request: limit is clamped to [0, maxPageSize]
// with defaultLimit substituted when unset
type Page struct {
	Offset int
	Limit  int
}

// ParsePage reads page[offset]/page[limit] from query values, clamping
// limit to [0, maxPageSize].
func ParsePage(q url.Values, defaultLimit, maxPageSize int) (Page, error) {
	offset := 0
	if v := q.Get("page[offset]"); v != "" {
		n, err := parseNonNegativeInt(v)
		if err != nil {
			return Page{}, fmt.Errorf("invalid page[offset]: %w", err)
		}
		offset = n
	}
	limit := defaultLimit
	if v := q.Get("page[limit]"); v != "" {
		n, err := parseNonNegativeInt(v)
		if err != nil {
			return Page{}, fmt.Errorf("invalid page[limit]: %w", err)
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if limit < 0 {
		limit = 0
	}
	return Page{Offset: offset, Limit: limit}, nil
}

func parseNonNegativeInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("must be an integer: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("must be non-negative, got %d", n)
	}
	return n, nil
}

// Links is the JSON-API-style links object attached to every paginated
// response
type Links struct {
	Self  string `json:"self"`
	First string `json:"first"`
	Last  string `json:"last,omitempty"`
	Next  string `json:"next,omitempty"`
	Prev  string `json:"prev,omitempty"`
}

// CountKind distinguishes an exact child count from an approximate lower
// bound lbound_len fallback.
type CountKind int

const (
	CountExact CountKind = iota
	CountLowerBound
)

// Count pairs a count value with whether it is exact or a lower bound.
type Count struct {
	Value int64
	Kind  CountKind
}

// BuildLinks computes self/first/last/next/prev from a base URL, the
// current page, and a count (possibly approximate — Last is omitted when
// Kind is CountLowerBound, since the true last page is unknown).
func BuildLinks(baseURL string, p Page, count Count) Links {
	withPage := func(offset int) string {
		u, err := url.Parse(baseURL)
		if err != nil {
			return baseURL
		}
		q := u.Query()
		q.Set("page[offset]", fmt.Sprintf("%d", offset))
		q.Set("page[limit]", fmt.Sprintf("%d", p.Limit))
		u.RawQuery = q.Encode()
		return u.String()
	}
	links := Links{
		Self:  withPage(p.Offset),
		First: withPage(0),
	}
	if p.Limit > 0 && int64(p.Offset+p.Limit) < count.Value {
		links.Next = withPage(p.Offset + p.Limit)
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		links.Prev = withPage(prev)
	}
	if count.Kind == CountExact && p.Limit > 0 {
		lastOffset := (int(count.Value) / p.Limit) * p.Limit
		if lastOffset == int(count.Value) && lastOffset > 0 {
			lastOffset -= p.Limit
		}
		links.Last = withPage(lastOffset)
	}
	return links
}
