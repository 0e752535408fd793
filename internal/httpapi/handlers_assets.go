package httpapi

import (
	"net/http"
	"strconv"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/assetproxy"
	"github.com/tiled-data/tiled/internal/auth"
)

// handleAssetBytes serves GET /asset/bytes/{path}: the raw bytes of one
// of the node's backing assets, honoring Range requests.
func (s *Server) handleAssetBytes(w http.ResponseWriter, r *http.Request) {
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
	dsIndex, _ := parseIntParam(r.URL.Query().Get("data_source"))
	assetIndex, _ := parseIntParam(r.URL.Query().Get("asset"))
	sources, err := s.Catalog.DataSourcesForNode(ctx, node.Node.ID)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	if dsIndex < 0 || dsIndex >= len(sources) {
		WriteError(w, apperr.NotFound("no data source at index %d", dsIndex))
		return
	}
	assets, err := s.Catalog.AssetsForDataSource(ctx, sources[dsIndex].ID)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	if assetIndex < 0 || assetIndex >= len(assets) {
		WriteError(w, apperr.NotFound("no asset at index %d", assetIndex))
		return
	}
	if err := s.Assets.ServeBytes(w, r, assets[assetIndex]); err != nil {
		WriteError(w, err)
	}
}

// handleAssetManifest serves GET /asset/manifest/{path}: a size-annotated
// listing of every asset backing the node's data sources.
func (s *Server) handleAssetManifest(w http.ResponseWriter, r *http.Request) {
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
	sources, err := s.Catalog.DataSourcesForNode(ctx, node.Node.ID)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	manifest := make(map[string][]assetproxy.ManifestEntry, len(sources))
	for i, ds := range sources {
		assets, err := s.Catalog.AssetsForDataSource(ctx, ds.ID)
		if err != nil {
			WriteError(w, apperr.Internal(err))
			return
		}
		manifest[ds.MimeType+"#"+strconv.Itoa(i)] = assetproxy.Manifest(assets)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data_sources": manifest})
}
