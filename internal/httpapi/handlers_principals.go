package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
)

// createPrincipalRequest is the POST /auth/principal body: a set of
// identities (e.g. an OIDC subject, a service account name) plus the named
// roles to grant. The UUID is always server-generated; a caller cannot
// pick its own principal identifier.
type createPrincipalRequest struct {
	Type       string          `json:"type"`
	Identities []auth.Identity `json:"identities"`
	Roles      []string        `json:"roles"`
}

type principalResponse struct {
	UUID       string          `json:"uuid"`
	Type       string          `json:"type"`
	Identities []auth.Identity `json:"identities,omitempty"`
	Roles      []string        `json:"roles"`
}

func toPrincipalResponse(p auth.Principal) principalResponse {
	roles := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roles[i] = r.Name
	}
	return principalResponse{
		UUID:       p.UUID,
		Type:       string(p.Type),
		Identities: p.Identities,
		Roles:      roles,
	}
}

// handleCreatePrincipal serves POST /auth/principal: provisions a new
// Principal row, the resource the auth route table reserves for
// "principals" alongside sessions/refresh/API keys. There is no concrete
// OIDC login flow in this service, so this is the only way a new identity
// ever enters the catalog; an operator or admin service calls it out of
// band, then the returned uuid is handed to whatever identity provider
// issues that principal's bearer tokens.
func (s *Server) handleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, ok := FromContext(ctx)
	if !ok || authn.IsAnonymous {
		WriteError(w, apperr.Unauthorized("authentication required"))
		return
	}
	if !authn.AuthnScopes.Has(auth.ScopeWritePrincipals) && !authn.AuthnScopes.Has(auth.ScopeAdminAPIKeys) {
		WriteError(w, apperr.Forbidden("missing scope %s", auth.ScopeWritePrincipals))
		return
	}

	var req createPrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	if !authn.AuthnScopes.Has(auth.ScopeAdminAPIKeys) {
		for _, name := range req.Roles {
			if roleScopes := s.Catalog.RoleScopes(name); !authn.AuthnScopes.HasAll(roleScopes) {
				WriteError(w, apperr.Forbidden("cannot grant role %q: it carries scopes the presented credential does not hold", name))
				return
			}
		}
	}
	principalType := auth.PrincipalUser
	if req.Type == string(auth.PrincipalService) {
		principalType = auth.PrincipalService
	}
	roles := make([]auth.Role, len(req.Roles))
	for i, name := range req.Roles {
		roles[i] = auth.Role{Name: name}
	}

	p := auth.Principal{
		UUID:       uuid.NewString(),
		Type:       principalType,
		Identities: req.Identities,
		Roles:      roles,
	}
	if err := s.Catalog.CreatePrincipal(ctx, p); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toPrincipalResponse(p))
}

// handleGetPrincipal serves GET /auth/principal/{uuid}: looks up a
// principal's identities and role names; the response lists role names
// only, not the scopes those roles grant. A caller may always read its own record; reading
// another principal's requires read:principals.
func (s *Server) handleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, ok := FromContext(ctx)
	if !ok || authn.IsAnonymous {
		WriteError(w, apperr.Unauthorized("authentication required"))
		return
	}
	target := mux.Vars(r)["uuid"]
	if target != authn.Principal.UUID && !authn.AuthnScopes.Has(auth.ScopeReadPrincipals) && !authn.AuthnScopes.Has(auth.ScopeAdminAPIKeys) {
		WriteError(w, apperr.Forbidden("missing scope %s", auth.ScopeReadPrincipals))
		return
	}

	p, err := s.Catalog.GetPrincipal(ctx, target)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toPrincipalResponse(p))
}

// handleCreateSession serves POST /auth/session: mints a fresh session for
// the caller's own principal and returns its first access/refresh token
// pair, the bootstrap step a bearer-token-only client needs before it has
// anything to refresh via /auth/session/refresh.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, ok := FromContext(ctx)
	if !ok || authn.IsAnonymous {
		WriteError(w, apperr.Unauthorized("authentication required"))
		return
	}

	sess := auth.Session{
		UUID:          uuid.NewString(),
		PrincipalUUID: authn.Principal.UUID,
		ExpiresAt:     time.Now().Add(s.Issuer.RefreshTTL),
	}
	if err := s.Catalog.CreateSession(ctx, sess); err != nil {
		WriteError(w, err)
		return
	}

	// A session bootstrapped from a scope-restricted credential (e.g.
	// an API key minted with fewer scopes than its owner's roles) must
	// never resolve to more than that credential held: cap the
	// session's scopes to the intersection with authn.AuthnScopes
	// rather than always handing out the principal's full role scopes.
	roleScopes := authn.Principal.RoleScopes()
	effective := roleScopes
	if authn.AuthnScopes != nil {
		effective = roleScopes.Intersect(authn.AuthnScopes)
	}
	scopes := effective.Slice()
	scopeStrings := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrings[i] = string(sc)
	}
	access, _, err := s.Issuer.IssueAccessToken(authn.Principal.UUID, scopeStrings)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	refresh, _, err := s.Issuer.IssueRefreshToken(authn.Principal.UUID, sess.UUID)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	WriteJSON(w, http.StatusCreated, refreshSessionResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    sess.ExpiresAt,
	})
}
