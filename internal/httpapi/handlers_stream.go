package httpapi

import (
	"net/http"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/stream"
)

// handleStreamSingle serves GET /stream/single/{path}: upgrades to a
// WebSocket and streams the node's sequence-numbered updates from
// ?start= onward
func (s *Server) handleStreamSingle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	start, err := stream.ParseStart(r.URL.Query().Get("start"))
	if err != nil {
		WriteError(w, apperr.BadRequest("invalid start: %v", err))
		return
	}
	handler := stream.NewHandler(s.StreamStore)
	handler.Serve(w, r, joinPath(path), start, node.Structure)
}

// handleStreamClose serves DELETE /stream/close/{path}: publishes the
// end-of-stream record for the node writer-facing
// close operation.
func (s *Server) handleStreamClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeWriteData)); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.StreamWriter.CloseStream(ctx, joinPath(path)); err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
