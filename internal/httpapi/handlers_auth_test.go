package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/catalogstore"
)

func newTestAuthServer(t *testing.T) (*Server, *catalogstore.Store) {
	t.Helper()
	dir := t.TempDir()
	catalog, err := catalogstore.Open(context.Background(), "sqlite:"+filepath.Join(dir, "catalog.sqlite"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	catalog.SetRoleRegistry(auth.DefaultRoleRegistry())

	issuer := &auth.TokenIssuer{Secrets: []string{"test-secret"}, AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour, Issuer: "tiled-test"}
	return &Server{Catalog: catalog, Principals: catalog, Issuer: issuer}, catalog
}

func withAuthn(r *http.Request, authn AuthnResult) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalCtxKey{}, authn))
}

func TestHandleCreateAPIKeyRequiresAuthentication(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/apikey", bytes.NewReader([]byte(`{}`)))
	req = withAuthn(req, AuthnResult{IsAnonymous: true})
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCreateAPIKeyRequiresScope(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/apikey", bytes.NewReader([]byte(`{}`)))
	req = withAuthn(req, AuthnResult{Principal: auth.Principal{UUID: "u-1"}, AuthnScopes: auth.NewScopeSet()})
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateAPIKeySucceedsForAdmin(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	principal := auth.Principal{UUID: "u-admin", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "admin"}}}
	if err := catalog.CreatePrincipal(ctx, principal); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	hydrated, err := catalog.GetPrincipal(ctx, "u-admin")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/apikey", bytes.NewReader([]byte(`{"note":"ci"}`)))
	req = withAuthn(req, AuthnResult{Principal: hydrated, AuthnScopes: hydrated.RoleScopes()})
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Prefix == "" || resp.Secret == "" {
		t.Fatalf("expected prefix and secret to be populated, got %+v", resp)
	}

	_, _, found, err := catalog.LookupByAPIKeyPrefix(ctx, resp.Prefix)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found {
		t.Fatalf("expected created key to be persisted")
	}
}

func TestHandleCreateAPIKeyRejectsScopeBeyondCredential(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	principal := auth.Principal{UUID: "u-restricted", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "admin"}}}
	if err := catalog.CreatePrincipal(ctx, principal); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	hydrated, err := catalog.GetPrincipal(ctx, "u-restricted")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}

	body, _ := json.Marshal(createAPIKeyRequest{Scopes: []string{string(auth.ScopeAdminAPIKeys)}})
	req := httptest.NewRequest(http.MethodPost, "/auth/apikey", bytes.NewReader(body))
	req = withAuthn(req, AuthnResult{Principal: hydrated, AuthnScopes: auth.NewScopeSet(auth.ScopeCreateAPIKeys)})
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected minting a key with a scope beyond the presented credential to be rejected, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateAPIKeyRejectsInheritFromRestrictedCredential(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	principal := auth.Principal{UUID: "u-restricted-2", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "admin"}}}
	if err := catalog.CreatePrincipal(ctx, principal); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	hydrated, err := catalog.GetPrincipal(ctx, "u-restricted-2")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}

	// No scopes field at all defaults to "inherit".
	req := httptest.NewRequest(http.MethodPost, "/auth/apikey", bytes.NewReader([]byte(`{}`)))
	req = withAuthn(req, AuthnResult{Principal: hydrated, AuthnScopes: auth.NewScopeSet(auth.ScopeCreateAPIKeys)})
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected minting an \"inherit\" key from a scope-restricted credential to be rejected, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateAPIKeyRejectsTagRestrictionBeyondCredential(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	principal := auth.Principal{UUID: "u-tagrestricted", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "reader"}}}
	if err := catalog.CreatePrincipal(ctx, principal); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	hydrated, err := catalog.GetPrincipal(ctx, "u-tagrestricted")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}

	body, _ := json.Marshal(createAPIKeyRequest{
		Scopes:         []string{string(auth.ScopeReadMetadata)},
		TagRestriction: []string{"teamB"},
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/apikey", bytes.NewReader(body))
	req = withAuthn(req, AuthnResult{
		Principal:   hydrated,
		AuthnScopes: auth.NewScopeSet(auth.ScopeReadMetadata, auth.ScopeCreateAPIKeys),
		AuthnTags:   []string{"teamA"},
	})
	rec := httptest.NewRecorder()

	srv.handleCreateAPIKey(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected minting a key tag-restricted beyond the credential's own tags to be rejected, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRefreshSessionRejectsAccessToken(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	if err := catalog.CreatePrincipal(ctx, auth.Principal{UUID: "u-2", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "reader"}}}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	access, _, err := srv.Issuer.IssueAccessToken("u-2", []string{"read:metadata"})
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	body, _ := json.Marshal(refreshSessionRequest{RefreshToken: access})
	req := httptest.NewRequest(http.MethodPost, "/auth/session/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRefreshSession(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token used as refresh token, got %d", rec.Code)
	}
}

func TestHandleRefreshSessionRotatesTokens(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	if err := catalog.CreatePrincipal(ctx, auth.Principal{UUID: "u-3", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "reader"}}}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	sess := auth.Session{UUID: "sess-1", PrincipalUUID: "u-3", ExpiresAt: time.Now().Add(time.Hour)}
	if err := catalog.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	refresh, _, err := srv.Issuer.IssueRefreshToken("u-3", "sess-1")
	if err != nil {
		t.Fatalf("issue refresh token: %v", err)
	}
	body, _ := json.Marshal(refreshSessionRequest{RefreshToken: refresh})
	req := httptest.NewRequest(http.MethodPost, "/auth/session/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRefreshSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp refreshSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected both tokens populated, got %+v", resp)
	}

	updated, found, err := catalog.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !found || updated.RefreshCount != 1 {
		t.Fatalf("expected refresh count bumped to 1, got %+v", updated)
	}
}

func TestHandleRefreshSessionRejectsRevokedSession(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	if err := catalog.CreatePrincipal(ctx, auth.Principal{UUID: "u-4", Type: auth.PrincipalUser}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	if err := catalog.CreateSession(ctx, auth.Session{UUID: "sess-2", PrincipalUUID: "u-4", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := catalog.RevokeSession(ctx, "sess-2"); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	refresh, _, err := srv.Issuer.IssueRefreshToken("u-4", "sess-2")
	if err != nil {
		t.Fatalf("issue refresh token: %v", err)
	}
	body, _ := json.Marshal(refreshSessionRequest{RefreshToken: refresh})
	req := httptest.NewRequest(http.MethodPost, "/auth/session/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRefreshSession(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked session, got %d", rec.Code)
	}
}

func TestHandleWhoAmIReportsAnonymous(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req = withAuthn(req, AuthnResult{IsAnonymous: true, AuthnTags: []string{"public"}})
	rec := httptest.NewRecorder()

	srv.handleWhoAmI(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp whoAmIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Anonymous {
		t.Fatalf("expected anonymous=true, got %+v", resp)
	}
}

func TestHandleWhoAmIReportsAuthenticatedPrincipal(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	scopes := auth.NewScopeSet(auth.ScopeReadMetadata)
	req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req = withAuthn(req, AuthnResult{Principal: auth.Principal{UUID: "u-5", Type: auth.PrincipalUser}, AuthnScopes: scopes})
	rec := httptest.NewRecorder()

	srv.handleWhoAmI(rec, req)

	var resp whoAmIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Anonymous || resp.PrincipalUUID != "u-5" || len(resp.Scopes) != 1 {
		t.Fatalf("unexpected whoami response: %+v", resp)
	}
}
