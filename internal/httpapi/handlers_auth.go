package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
)

// createAPIKeyRequest is the POST /auth/apikey body
// APIKey model: an "inherit" scopes list means "whatever the caller holds
// at time of use."
type createAPIKeyRequest struct {
	Scopes           []string `json:"scopes"`
	TagRestriction   []string `json:"tag_restriction,omitempty"`
	ExpiresInSeconds int64    `json:"expires_in_seconds,omitempty"`
	Note             string   `json:"note,omitempty"`
}

type createAPIKeyResponse struct {
	Prefix    string     `json:"prefix"`
	Secret    string     `json:"secret"` // only ever shown in this response
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleCreateAPIKey serves POST /auth/apikey: mints a new key bound to
// the caller's own principal Minting a key for another
// principal is an admin operation this endpoint does not expose.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, ok := FromContext(ctx)
	if !ok || authn.IsAnonymous {
		WriteError(w, apperr.Unauthorized("authentication required"))
		return
	}
	if !authn.AuthnScopes.Has(auth.ScopeCreateAPIKeys) && !authn.AuthnScopes.Has(auth.ScopeAdminAPIKeys) {
		WriteError(w, apperr.Forbidden("missing scope %s", auth.ScopeCreateAPIKeys))
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{"inherit"}
	}
	if len(req.Scopes) == 1 && req.Scopes[0] == "inherit" {
		// "inherit" resolves dynamically to the principal's full role
		// scopes at every future use, so minting one is only as safe as
		// the presented credential already being unrestricted: a
		// credential whose own AuthnScopes fall short of the
		// principal's RoleScopes must not be allowed to hand itself a
		// key that will later resolve to more than it currently holds.
		if !authn.AuthnScopes.HasAll(authn.Principal.RoleScopes()) {
			WriteError(w, apperr.Forbidden("cannot mint an \"inherit\" key from a scope-restricted credential: list explicit scopes instead"))
			return
		}
	} else {
		for _, s := range req.Scopes {
			if !authn.AuthnScopes.Has(auth.Scope(s)) {
				WriteError(w, apperr.Forbidden("cannot mint a key with scope %s: not held by the presented credential", s))
				return
			}
		}
	}
	if len(authn.AuthnTags) > 0 {
		// A tag-restricted credential must not mint a successor key
		// with a broader (or absent) restriction than its own.
		if len(req.TagRestriction) == 0 {
			req.TagRestriction = authn.AuthnTags
		}
		for _, tag := range req.TagRestriction {
			if !containsString(authn.AuthnTags, tag) {
				WriteError(w, apperr.Forbidden("cannot mint a key tag-restricted to %q: not held by the presented credential", tag))
				return
			}
		}
	}

	generated, err := auth.NewAPIKeySecret()
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	key := auth.APIKey{
		Prefix:         generated.Prefix,
		PrincipalUUID:  authn.Principal.UUID,
		SecretHash:     auth.HashSecret(generated.Secret),
		Scopes:         req.Scopes,
		TagRestriction: req.TagRestriction,
		CreatedAt:      time.Now().UTC(),
		Note:           req.Note,
	}
	if req.ExpiresInSeconds > 0 {
		exp := key.CreatedAt.Add(time.Duration(req.ExpiresInSeconds) * time.Second)
		key.ExpiresAt = &exp
	}
	if err := s.Catalog.CreateAPIKey(ctx, key); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, createAPIKeyResponse{
		Prefix:    key.Prefix,
		Secret:    generated.Secret,
		Scopes:    key.Scopes,
		ExpiresAt: key.ExpiresAt,
	})
}

func containsString(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

type refreshSessionRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshSessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// handleRefreshSession serves POST /auth/session/refresh: rotates a
// session's refresh token for a new access/refresh pair. A revoked or
// expired session, or a token that isn't of type refresh, is rejected.
func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req refreshSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return
	}
	verified, err := s.Issuer.Verify(req.RefreshToken)
	if err != nil {
		WriteError(w, err)
		return
	}
	if verified.TokenType != "refresh" {
		WriteError(w, apperr.Unauthorized("token is not a refresh token"))
		return
	}
	sess, found, err := s.Catalog.GetSession(ctx, verified.SessionUUID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !found || sess.Revoked || time.Now().After(sess.ExpiresAt) {
		WriteError(w, apperr.Unauthorized("session is revoked or expired"))
		return
	}

	principal, err := s.Catalog.GetPrincipal(ctx, sess.PrincipalUUID)
	if err != nil {
		WriteError(w, err)
		return
	}
	scopes := principal.RoleScopes().Slice()
	scopeStrings := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrings[i] = string(sc)
	}

	access, _, err := s.Issuer.IssueAccessToken(principal.UUID, scopeStrings)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	refreshed, err := s.Catalog.RefreshSession(ctx, sess.UUID, time.Now().Add(s.Issuer.RefreshTTL))
	if err != nil {
		WriteError(w, err)
		return
	}
	refresh, _, err := s.Issuer.IssueRefreshToken(principal.UUID, refreshed.UUID)
	if err != nil {
		WriteError(w, apperr.Internal(err))
		return
	}
	WriteJSON(w, http.StatusOK, refreshSessionResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    refreshed.ExpiresAt,
	})
}

type whoAmIResponse struct {
	PrincipalUUID string   `json:"principal_uuid,omitempty"`
	Type          string   `json:"type,omitempty"`
	Scopes        []string `json:"scopes"`
	Tags          []string `json:"tags,omitempty"`
	Anonymous     bool     `json:"anonymous"`
}

// handleWhoAmI serves GET /auth/whoami: the identity and effective
// scopes the current credential resolved to
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	authn, ok := FromContext(r.Context())
	if !ok {
		WriteError(w, apperr.Internal(errors.New("no authentication result in request context")))
		return
	}
	scopes := make([]string, 0, len(authn.AuthnScopes))
	for sc := range authn.AuthnScopes {
		scopes = append(scopes, string(sc))
	}
	WriteJSON(w, http.StatusOK, whoAmIResponse{
		PrincipalUUID: authn.Principal.UUID,
		Type:          string(authn.Principal.Type),
		Scopes:        scopes,
		Tags:          authn.AuthnTags,
		Anonymous:     authn.IsAnonymous,
	})
}
