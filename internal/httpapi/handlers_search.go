package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/catalogstore"
	"github.com/tiled-data/tiled/internal/query"
	"github.com/tiled-data/tiled/internal/request"
	"github.com/tiled-data/tiled/internal/structure"
)

// conditionsFromQuery maps the request's query-string filters onto
// internal/query's typed Query variants: "structure_family=", "keys=",
// "specs=" filter parameters. Unrecognized params are silently ignored,
// keeping the query string forward-compatible.
func conditionsFromQuery(values map[string][]string) []query.Query {
	var conds []query.Query
	if v, ok := values["structure_family"]; ok && len(v) > 0 && v[0] != "" {
		conds = append(conds, query.StructureFamilyQuery{Family: structure.Family(v[0])})
	}
	if v, ok := values["keys"]; ok && len(v) > 0 {
		conds = append(conds, query.KeysFilter{Keys: v})
	}
	if v, ok := values["specs"]; ok && len(v) > 0 {
		conds = append(conds, query.SpecsQuery{Specs: v})
	}
	return conds
}

// translateAll resolves each condition to a Predicate via the server's
// registry and AND-joins them into a single Predicate
func (s *Server) translateAll(conds []query.Query) (query.Predicate, error) {
	joined := query.Predicate{SQL: "1 = 1"}
	for _, c := range conds {
		p, err := s.QueryRegistry.Translate(query.BackendSQL, c)
		if err != nil {
			return query.Predicate{}, apperr.BadRequest("unsupported search condition: %v", err)
		}
		joined.SQL += " AND (" + p.SQL + ")"
		joined.Args = append(joined.Args, p.Args...)
	}
	return joined, nil
}

// authorizationPredicate folds the Policy's Filters() result (an
// AccessBlobFilter or NoAccess sentinel) into the
// search predicate, so an unauthorized listing returns an empty page
// rather than leaking rows through pagination.
func (s *Server) authorizationPredicate(ctx context.Context, authn AuthnResult, parent *resolvedNode, required auth.ScopeSet) (query.Predicate, error) {
	var accessBlob auth.AccessBlob
	if len(parent.Node.AccessBlob) > 0 {
		_ = json.Unmarshal(parent.Node.AccessBlob, &accessBlob)
	}
	nodeRef := auth.NodeRef{ID: parent.Node.ID, AccessBlob: accessBlob}
	qs, err := s.Policy.Filters(ctx, nodeRef, authn.Principal, authn.AuthnTags, authn.AuthnScopes, required)
	if err != nil {
		return query.Predicate{}, apperr.Internal(err)
	}
	joined := query.Predicate{SQL: "1 = 1"}
	for _, q := range qs {
		if _, isNoAccess := q.(query.NoAccess); isNoAccess {
			return query.Predicate{SQL: "1 = 0"}, nil
		}
		p, err := s.QueryRegistry.Translate(query.BackendSQL, q)
		if err != nil {
			return query.Predicate{}, apperr.Internal(err)
		}
		joined.SQL += " AND (" + p.SQL + ")"
		joined.Args = append(joined.Args, p.Args...)
	}
	return joined, nil
}

// handleSearch serves GET /search/{path}: list direct children matching
// the request's filter conditions and the authenticated principal's
// visibility, paginated
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	parent, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, parent, authn, auth.NewScopeSet(auth.ScopeReadMetadata)); err != nil {
		WriteError(w, err)
		return
	}

	page, err := request.ParsePage(r.URL.Query(), s.Pagination.DefaultPageSize, s.Pagination.MaxPageSize)
	if err != nil {
		WriteError(w, apperr.BadRequest("%v", err))
		return
	}

	cond, err := s.translateAll(conditionsFromQuery(r.URL.Query()))
	if err != nil {
		WriteError(w, err)
		return
	}
	authPred, err := s.authorizationPredicate(ctx, authn, parent, auth.NewScopeSet(auth.ScopeReadMetadata))
	if err != nil {
		WriteError(w, err)
		return
	}
	cond.SQL += " AND (" + authPred.SQL + ")"
	cond.Args = append(cond.Args, authPred.Args...)

	ancestors := append(append([]string{}, path...))
	nodes, err := s.Catalog.SearchChildren(ctx, ancestors, cond, page.Offset, page.Limit, false)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	total, err := s.Catalog.CountSearchChildren(ctx, ancestors, cond)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}

	fields := request.ParseFields(r.URL.Query().Get("fields"))
	items := make([]nodeResponse, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, s.childNodeResponse(ctx, ancestors, n, fields))
	}

	links := request.BuildLinks(r.URL.String(), page, request.Count{Value: total, Kind: request.CountExact})
	WriteJSON(w, http.StatusOK, map[string]any{"data": items, "links": links, "meta": map[string]any{"count": total}})
}

// childNodeResponse builds one listing row for n, honoring the same field
// selection as handleGetMetadata so /search responses don't silently
// return a different shape than /metadata does for the same node.
func (s *Server) childNodeResponse(ctx context.Context, ancestors []string, n catalogstore.Node, fields request.FieldSet) nodeResponse {
	resp := nodeResponse{ID: joinPath(append(append([]string{}, ancestors...), n.Key))}
	if fields.Has(request.FieldMetadata) {
		resp.Metadata = n.Metadata
	}
	if fields.Has(request.FieldStructureFamily) {
		resp.Family = string(n.StructureFamily)
	}
	if fields.Has(request.FieldSpecs) {
		var specs []string
		_ = json.Unmarshal(n.Specs, &specs)
		resp.Specs = specs
	}
	if fields.Has(request.FieldStructure) {
		var st structure.Structure
		if n.StructureHash.Valid {
			if loaded, err := s.Catalog.GetStructure(ctx, n.StructureHash.String); err == nil {
				st = loaded
			}
		} else {
			st = structure.Structure{Family: n.StructureFamily, Container: &structure.ContainerStruct{}}
		}
		resp.Structure = &st
	}
	if fields.Has(request.FieldSorting) && n.StructureFamily == structure.FamilyContainer {
		resp.Sorting = request.DefaultSorting
	}
	if fields.Has(request.FieldAccessBlob) {
		var accessBlob auth.AccessBlob
		if len(n.AccessBlob) > 0 {
			_ = json.Unmarshal(n.AccessBlob, &accessBlob)
		}
		resp.AccessBlob = &accessBlob
	}
	return resp
}

// handleDistinct serves GET /distinct/{path}: the distinct values taken
// by a set of metadata/structure_family/specs fields across the node's
// matching children "distinct" operation. Every field is computed in Go
// over the children returned by one SearchChildren call capped at
// scanLimit (10000) rows; children beyond that cap are not counted.
func (s *Server) handleDistinct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	parent, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, parent, authn, auth.NewScopeSet(auth.ScopeReadMetadata)); err != nil {
		WriteError(w, err)
		return
	}

	authPred, err := s.authorizationPredicate(ctx, authn, parent, auth.NewScopeSet(auth.ScopeReadMetadata))
	if err != nil {
		WriteError(w, err)
		return
	}

	ancestors := append(append([]string{}, path...))
	const scanLimit = 10000
	nodes, err := s.Catalog.SearchChildren(ctx, ancestors, authPred, 0, scanLimit, false)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}

	fields := r.URL.Query()["field"]
	out := make(map[string][]any, len(fields))
	for _, f := range fields {
		out[f] = distinctFieldValues(nodes, f)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"metadata": out})
}

// distinctFieldValues collects the distinct values of the named field
// (one of "structure_family", "specs", or a top-level metadata key)
// across nodes, preserving first-seen order.
func distinctFieldValues(nodes []catalogstore.Node, field string) []any {
	seen := make(map[string]struct{})
	var out []any
	add := func(v any) {
		key, _ := json.Marshal(v)
		if _, ok := seen[string(key)]; ok {
			return
		}
		seen[string(key)] = struct{}{}
		out = append(out, v)
	}
	for _, n := range nodes {
		switch field {
		case "structure_family":
			add(string(n.StructureFamily))
		case "specs":
			var specs []string
			_ = json.Unmarshal(n.Specs, &specs)
			for _, sp := range specs {
				add(sp)
			}
		default:
			var m map[string]any
			if err := json.Unmarshal(n.Metadata, &m); err != nil {
				continue
			}
			if v, ok := m[field]; ok {
				add(v)
			}
		}
	}
	return out
}
