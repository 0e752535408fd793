package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/tiled-data/tiled/internal/auth"
)

func TestHandleCreatePrincipalRequiresScope(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/principal", bytes.NewReader([]byte(`{}`)))
	req = withAuthn(req, AuthnResult{Principal: auth.Principal{UUID: "u-1"}, AuthnScopes: auth.NewScopeSet()})
	rec := httptest.NewRecorder()

	srv.handleCreatePrincipal(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreatePrincipalSucceedsForAdmin(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	body, _ := json.Marshal(createPrincipalRequest{
		Type:       "service",
		Identities: []auth.Identity{{Provider: "internal", ID: "ingest-worker"}},
		Roles:      []string{"reader"},
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/principal", bytes.NewReader(body))
	req = withAuthn(req, AuthnResult{
		Principal:   auth.Principal{UUID: "u-admin", Roles: []auth.Role{{Name: "admin"}}},
		AuthnScopes: auth.NewScopeSet(auth.ScopeWritePrincipals, auth.ScopeAdminAPIKeys),
	})
	rec := httptest.NewRecorder()

	srv.handleCreatePrincipal(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp principalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UUID == "" || resp.Type != "service" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	stored, err := catalog.GetPrincipal(context.Background(), resp.UUID)
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if len(stored.Identities) != 1 || stored.Identities[0].ID != "ingest-worker" {
		t.Fatalf("unexpected stored identities: %+v", stored.Identities)
	}
}

func TestHandleCreatePrincipalRejectsRoleEscalationBeyondCredentialScopes(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	body, _ := json.Marshal(createPrincipalRequest{
		Type:  "service",
		Roles: []string{"admin"},
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/principal", bytes.NewReader(body))
	req = withAuthn(req, AuthnResult{
		Principal:   auth.Principal{UUID: "u-provisioner"},
		AuthnScopes: auth.NewScopeSet(auth.ScopeWritePrincipals),
	})
	rec := httptest.NewRecorder()

	srv.handleCreatePrincipal(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected a write:principals-only credential minting an admin principal to be rejected, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreatePrincipalAllowsRoleWithinCredentialScopes(t *testing.T) {
	srv, _ := newTestAuthServer(t)
	body, _ := json.Marshal(createPrincipalRequest{
		Type:  "service",
		Roles: []string{"reader"},
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/principal", bytes.NewReader(body))
	req = withAuthn(req, AuthnResult{
		Principal:   auth.Principal{UUID: "u-provisioner"},
		AuthnScopes: auth.NewScopeSet(auth.ScopeWritePrincipals, auth.ScopeReadMetadata, auth.ScopeReadData),
	})
	rec := httptest.NewRecorder()

	srv.handleCreatePrincipal(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected a credential holding the reader role's own scopes to provision a reader principal, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetPrincipalAllowsSelf(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	if err := catalog.CreatePrincipal(ctx, auth.Principal{UUID: "u-self", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "reader"}}}); err != nil {
		t.Fatalf("create principal: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/principal/u-self", nil)
	req = mux.SetURLVars(req, map[string]string{"uuid": "u-self"})
	req = withAuthn(req, AuthnResult{Principal: auth.Principal{UUID: "u-self"}, AuthnScopes: auth.NewScopeSet()})
	rec := httptest.NewRecorder()

	srv.handleGetPrincipal(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetPrincipalRejectsOtherWithoutScope(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	if err := catalog.CreatePrincipal(ctx, auth.Principal{UUID: "u-other", Type: auth.PrincipalUser}); err != nil {
		t.Fatalf("create principal: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/principal/u-other", nil)
	req = mux.SetURLVars(req, map[string]string{"uuid": "u-other"})
	req = withAuthn(req, AuthnResult{Principal: auth.Principal{UUID: "u-self"}, AuthnScopes: auth.NewScopeSet()})
	rec := httptest.NewRecorder()

	srv.handleGetPrincipal(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateSessionIssuesTokenPair(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	if err := catalog.CreatePrincipal(ctx, auth.Principal{UUID: "u-sess", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "reader"}}}); err != nil {
		t.Fatalf("create principal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/session", nil)
	req = withAuthn(req, AuthnResult{Principal: auth.Principal{UUID: "u-sess", Roles: []auth.Role{{Name: "reader"}}}})
	rec := httptest.NewRecorder()

	srv.handleCreateSession(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp refreshSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected both tokens populated, got %+v", resp)
	}
}

func TestHandleCreateSessionCapsScopesToRestrictedCredential(t *testing.T) {
	srv, catalog := newTestAuthServer(t)
	ctx := context.Background()
	principal := auth.Principal{UUID: "u-sess-restricted", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "admin"}}}
	if err := catalog.CreatePrincipal(ctx, principal); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	hydrated, err := catalog.GetPrincipal(ctx, "u-sess-restricted")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/session", nil)
	req = withAuthn(req, AuthnResult{Principal: hydrated, AuthnScopes: auth.NewScopeSet(auth.ScopeReadMetadata)})
	rec := httptest.NewRecorder()

	srv.handleCreateSession(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp refreshSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	verified, err := srv.Issuer.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if len(verified.Scopes) != 1 || verified.Scopes[0] != string(auth.ScopeReadMetadata) {
		t.Fatalf("expected the session to carry only the restricted credential's scopes, got %v", verified.Scopes)
	}
}
