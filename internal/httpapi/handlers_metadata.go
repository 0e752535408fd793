package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/request"
	"github.com/tiled-data/tiled/internal/structure"
)

// nodeResponse is the JSON-API-style envelope this describes:
// a resource's id, the requested fields, and (for containers) pagination
// links/meta around its children.
type nodeResponse struct {
	ID         string               `json:"id"`
	Metadata   json.RawMessage      `json:"metadata,omitempty"`
	Family     string               `json:"structure_family,omitempty"`
	Structure  *structure.Structure `json:"structure,omitempty"`
	Specs      []string             `json:"specs,omitempty"`
	Sorting    []request.SortKey    `json:"sorting,omitempty"`
	AccessBlob *auth.AccessBlob     `json:"access_blob,omitempty"`
	Links      *request.Links       `json:"links,omitempty"`
	Meta       map[string]any       `json:"meta,omitempty"`
}

func pathParam(r *http.Request) []string {
	return splitPath(mux.Vars(r)["path"])
}

// handleGetMetadata serves GET /metadata/{path}-4.4:
// resolve the node, authorize read:metadata, and apply field selection
// and select_metadata. The response describes the node itself only; it
// does not list, paginate or inline a container's children.
func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
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

	fields := request.ParseFields(r.URL.Query().Get("fields"))
	metadata := node.Node.Metadata
	if expr := r.URL.Query().Get("select_metadata"); expr != "" {
		metadata, err = request.SelectMetadata(metadata, expr)
		if err != nil {
			WriteError(w, err)
			return
		}
	}

	resp := nodeResponse{ID: joinPath(path)}
	if fields.Has(request.FieldMetadata) {
		resp.Metadata = metadata
	}
	if fields.Has(request.FieldStructureFamily) {
		resp.Family = string(node.Node.StructureFamily)
	}
	if fields.Has(request.FieldSpecs) {
		var specs []string
		_ = json.Unmarshal(node.Node.Specs, &specs)
		resp.Specs = specs
	}
	if fields.Has(request.FieldStructure) {
		st := node.Structure
		resp.Structure = &st
	}
	if fields.Has(request.FieldSorting) && node.Node.StructureFamily == structure.FamilyContainer {
		resp.Sorting = request.DefaultSorting
	}
	if fields.Has(request.FieldAccessBlob) {
		var accessBlob auth.AccessBlob
		if len(node.Node.AccessBlob) > 0 {
			_ = json.Unmarshal(node.Node.AccessBlob, &accessBlob)
		}
		resp.AccessBlob = &accessBlob
	}

	body, err := json.Marshal(resp)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	etag := request.ComputeETag("application/json", body)
	if request.CheckConditional(w, r, etag, metadataExpiry) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	out := path[0]
	for _, p := range path[1:] {
		out += "/" + p
	}
	return out
}

// handlePatchMetadata serves PATCH /metadata/{path}: records a Revision,
// applies the patch and re-runs validators. The node's access blob is
// carried over unchanged and Policy.ModifyNode is not called.
func (s *Server) handlePatchMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeWriteMetadata)); err != nil {
		WriteError(w, err)
		return
	}

	var patch json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}

	merged, err := applyMetadataPatch(node.Node.Metadata, patch, r.URL.Query().Get("patch_format"))
	if err != nil {
		WriteError(w, apperr.BadRequest("patch failed: %v", err))
		return
	}

	var specs []string
	_ = json.Unmarshal(node.Node.Specs, &specs)
	result, err := s.Validators.RunAll(merged, node.Node.StructureFamily, node.Structure, specs)
	if err != nil {
		WriteError(w, err)
		return
	}

	if _, err := s.Catalog.PutRevision(ctx, node.Node.ID, node.Node.Metadata, node.Node.Specs, node.Node.AccessBlob); err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	if err := s.Catalog.UpdateNodeMetadata(ctx, node.Node.ID, result.Metadata, node.Node.Specs, node.Node.AccessBlob); err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}

	if s.Events != nil && len(node.Node.AncestorKeys()) > 0 {
		parent := node.Node.Ancestors
		_ = s.Events.ChildMetadataUpdated(ctx, parent, node.Node.Key, result.Metadata)
	}

	WriteJSON(w, http.StatusOK, map[string]any{"modified": result.Modified})
}

// handleRegister serves POST /register/{path}: validate specs, evaluate
// init_node (which may normalize the access blob), persist node plus
// data sources/assets atomically "Create node"
// operation.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	var reqBody registerRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		WriteError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	if err := reqBody.Structure.Validate(); err != nil {
		WriteError(w, apperr.BadRequest("invalid structure: %v", err))
		return
	}

	parent, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, parent, authn, auth.NewScopeSet(auth.ScopeCreateNode)); err != nil {
		WriteError(w, err)
		return
	}

	result, err := s.Validators.RunAll(reqBody.Metadata, reqBody.Structure.Family, reqBody.Structure, reqBody.Specs)
	if err != nil {
		WriteError(w, err)
		return
	}

	var proposed *auth.AccessBlob
	if reqBody.AccessBlob != nil {
		proposed = reqBody.AccessBlob
	}
	// InitNode's bool return reports whether it normalized/replaced the
	// proposed blob, not whether the caller is authorized: rejection
	// always comes back as a non-nil error (e.g. an empty access blob
	// from a non-admin, or a malformed blob), which is the only signal
	// checked here.
	_, finalBlob, err := s.Policy.InitNode(ctx, authn.Principal, authn.AuthnTags, authn.AuthnScopes, proposed)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	var accessBlobJSON json.RawMessage
	if finalBlob != nil {
		accessBlobJSON, _ = json.Marshal(finalBlob)
	}

	structureHash, err := s.Catalog.PutStructure(ctx, reqBody.Structure)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}

	specsJSON, _ := json.Marshal(reqBody.Specs)
	node := nodeFromRegister(path, reqBody, result.Metadata, specsJSON, accessBlobJSON, structureHash)
	id, err := s.Catalog.CreateNode(ctx, &node)
	if err != nil {
		WriteError(w, err)
		return
	}

	for _, ds := range reqBody.DataSources {
		dsRow := ds.toCatalogDataSource(id, structureHash)
		dsID, err := s.Catalog.CreateDataSource(ctx, &dsRow)
		if err != nil {
			WriteError(w, apperr.Internal(err))
			return
		}
		for _, a := range ds.Assets {
			assetRow := a.toCatalogAsset(dsID)
			if _, err := s.Catalog.CreateAsset(ctx, &assetRow); err != nil {
				WriteError(w, apperr.Internal(err))
				return
			}
		}
	}

	if s.Events != nil {
		_ = s.Events.ChildCreated(ctx, joinPath(path), node.Key)
	}

	WriteJSON(w, http.StatusCreated, map[string]any{"id": id, "modified": result.Modified})
}
