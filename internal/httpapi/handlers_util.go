package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tiled-data/tiled/internal/apperr"
)

// mustAdapterAs resolves node's adapter and type-asserts it to T, writing
// a 400 response (this node's backend does not support the requested
// capability) and returning ok=false if the assertion fails.
func mustAdapterAs[T any](s *Server, w http.ResponseWriter, ctx context.Context, node *resolvedNode) (T, bool) {
	var zero T
	a, err := s.resolveAdapter(ctx, node)
	if err != nil {
		WriteError(w, err)
		return zero, false
	}
	capable, ok := a.(T)
	if !ok {
		WriteError(w, apperr.BadRequest("this node's backend does not support the requested operation"))
		return zero, false
	}
	return capable, true
}

// parseBlockParam parses a comma-separated block coordinate list like
// "0,2,1" into []int{0,2,1}.
func parseBlockParam(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
