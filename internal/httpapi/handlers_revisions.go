package httpapi

import (
	"net/http"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
)

// handleListRevisions serves GET /revisions/{path}: every historical
// (metadata, specs, access_blob) snapshot recorded before a mutation,
// Revision lifecycle.
func (s *Server) handleListRevisions(w http.ResponseWriter, r *http.Request) {
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
	revs, err := s.Catalog.ListRevisions(ctx, node.Node.ID)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": revs})
}

// handleDeleteRevision serves DELETE /revisions/{path}?number=N, removing
// one historical row.
func (s *Server) handleDeleteRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeDeleteRevision)); err != nil {
		WriteError(w, err)
		return
	}
	number, err := parseIntParam(r.URL.Query().Get("number"))
	if err != nil {
		WriteError(w, apperr.BadRequest("invalid revision number: %v", err))
		return
	}
	if err := s.Catalog.DeleteRevision(ctx, node.Node.ID, number); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
