package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/request"
)

// childSummary is one inlined or linked child in a container listing.
type childSummary struct {
	ID       string          `json:"id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Family   string          `json:"structure_family,omitempty"`
	Specs    []string        `json:"specs,omitempty"`
}

// containerResponse is the GET /container/full envelope: the node's own
// fields plus its children, paginated or inlined
type containerResponse struct {
	ID       string          `json:"id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Family   string          `json:"structure_family,omitempty"`
	Count    int64           `json:"count"`
	Inlined  bool            `json:"inlined"`
	Children []childSummary  `json:"children,omitempty"`
	Links    request.Links   `json:"links"`
}

// handleContainerFull serves GET /container/full/{path} (and its
// deprecated /node/full alias): a container's own metadata plus its
// children, inlined under request.InlineLimits or else a paginated page.
func (s *Server) handleContainerFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadMetadata)); err != nil {
		WriteError(w, err)
		return
	}

	ancestors := append(append([]string{}, path...))
	authPred, err := s.authorizationPredicate(ctx, authn, node, auth.NewScopeSet(auth.ScopeReadMetadata))
	if err != nil {
		WriteError(w, err)
		return
	}

	count, err := s.Catalog.CountSearchChildren(ctx, ancestors, authPred)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}

	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		if d, perr := parseIntParam(v); perr == nil {
			depth = d
		}
	}
	inline := s.Pagination.InlineLimits.ShouldInline(int(count), depth)

	page, err := request.ParsePage(r.URL.Query(), s.Pagination.DefaultPageSize, s.Pagination.MaxPageSize)
	if err != nil {
		WriteError(w, apperr.BadRequest("%v", err))
		return
	}
	limit := page.Limit
	if inline {
		limit = s.Pagination.InlineLimits.ContentsLimit
	}

	children, err := s.Catalog.SearchChildren(ctx, ancestors, authPred, page.Offset, limit, false)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}

	summaries := make([]childSummary, 0, len(children))
	for _, c := range children {
		var specs []string
		_ = json.Unmarshal(c.Specs, &specs)
		summaries = append(summaries, childSummary{
			ID:       joinPath(append(ancestors, c.Key)),
			Metadata: c.Metadata,
			Family:   string(c.StructureFamily),
			Specs:    specs,
		})
	}

	links := request.BuildLinks(r.URL.String(), page, request.Count{Value: count, Kind: request.CountExact})
	resp := containerResponse{
		ID:       joinPath(path),
		Metadata: node.Node.Metadata,
		Family:   string(node.Node.StructureFamily),
		Count:    count,
		Inlined:  inline,
		Children: summaries,
		Links:    links,
	}
	WriteJSON(w, http.StatusOK, resp)
}
