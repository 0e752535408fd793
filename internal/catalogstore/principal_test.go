package catalogstore

import (
	"context"
	"testing"
	"time"

	"github.com/tiled-data/tiled/internal/auth"
)

func TestCreateAndGetPrincipal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := auth.Principal{
		UUID:       "u-1",
		Type:       auth.PrincipalUser,
		Identities: []auth.Identity{{Provider: "test", ID: "alice"}},
		Roles:      []auth.Role{{Name: "reader"}},
	}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	got, err := s.GetPrincipal(ctx, "u-1")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if got.UUID != "u-1" || len(got.Roles) != 1 || got.Roles[0].Name != "reader" {
		t.Fatalf("unexpected principal: %+v", got)
	}
	if !got.Roles[0].Scopes.Has(auth.ScopeReadMetadata) {
		t.Fatalf("expected reader role to hydrate read:metadata scope, got %v", got.Roles[0].Scopes)
	}
	if got.Roles[0].Scopes.Has(auth.ScopeDeleteNode) {
		t.Fatalf("reader role should not grant delete:node")
	}
}

func TestGetPrincipalHydratesUnknownRoleToEmptyScopes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := auth.Principal{UUID: "u-2", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "retired-role"}}}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	got, err := s.GetPrincipal(ctx, "u-2")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if len(got.Roles) != 1 || got.Roles[0].Name != "retired-role" {
		t.Fatalf("expected role name preserved, got %+v", got.Roles)
	}
	if len(got.Roles[0].Scopes) != 0 {
		t.Fatalf("unknown role should hydrate to empty scopes, got %v", got.Roles[0].Scopes)
	}
}

func TestCreateAPIKeyAndLookupByPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreatePrincipal(ctx, auth.Principal{UUID: "u-3", Type: auth.PrincipalUser, Roles: []auth.Role{{Name: "admin"}}}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	key := auth.APIKey{
		Prefix:        "abcd1234",
		PrincipalUUID: "u-3",
		SecretHash:    "deadbeef",
		Scopes:        []string{"inherit"},
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("create api key: %v", err)
	}
	gotKey, principal, found, err := s.LookupByAPIKeyPrefix(ctx, "abcd1234")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found {
		t.Fatalf("expected key to be found")
	}
	if gotKey.SecretHash != "deadbeef" || principal.UUID != "u-3" {
		t.Fatalf("unexpected lookup result: key=%+v principal=%+v", gotKey, principal)
	}
}

func TestLookupByAPIKeyPrefixNotFound(t *testing.T) {
	s := openTestStore(t)
	_, _, found, err := s.LookupByAPIKeyPrefix(context.Background(), "missing")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatalf("expected not found for unknown prefix")
	}
}

func TestRefreshSessionBumpsCountAndExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreatePrincipal(ctx, auth.Principal{UUID: "u-4", Type: auth.PrincipalUser}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	sess := auth.Session{UUID: "s-1", PrincipalUUID: "u-4", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	newExpiry := time.Now().Add(2 * time.Hour)
	refreshed, err := s.RefreshSession(ctx, "s-1", newExpiry)
	if err != nil {
		t.Fatalf("refresh session: %v", err)
	}
	if refreshed.RefreshCount != 1 {
		t.Fatalf("expected refresh count 1, got %d", refreshed.RefreshCount)
	}
	if !refreshed.ExpiresAt.Equal(newExpiry) {
		t.Fatalf("expected expiry updated to %v, got %v", newExpiry, refreshed.ExpiresAt)
	}
}

func TestRevokeSessionSetsRevokedFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreatePrincipal(ctx, auth.Principal{UUID: "u-5", Type: auth.PrincipalUser}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	sess := auth.Session{UUID: "s-2", PrincipalUUID: "u-5", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.RevokeSession(ctx, "s-2"); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	got, found, err := s.GetSession(ctx, "s-2")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !found || !got.Revoked {
		t.Fatalf("expected session to be revoked, got found=%v revoked=%v", found, got.Revoked)
	}
}

func TestPruneExpiredCredentialsRemovesPastExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreatePrincipal(ctx, auth.Principal{UUID: "u-6", Type: auth.PrincipalUser}); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expiredKey := auth.APIKey{Prefix: "exp00001", PrincipalUUID: "u-6", SecretHash: "h1", ExpiresAt: &past, CreatedAt: time.Now()}
	liveKey := auth.APIKey{Prefix: "live0001", PrincipalUUID: "u-6", SecretHash: "h2", ExpiresAt: &future, CreatedAt: time.Now()}
	if err := s.CreateAPIKey(ctx, expiredKey); err != nil {
		t.Fatalf("create expired key: %v", err)
	}
	if err := s.CreateAPIKey(ctx, liveKey); err != nil {
		t.Fatalf("create live key: %v", err)
	}
	expiredSession := auth.Session{UUID: "s-expired", PrincipalUUID: "u-6", ExpiresAt: past}
	liveSession := auth.Session{UUID: "s-live", PrincipalUUID: "u-6", ExpiresAt: future}
	if err := s.CreateSession(ctx, expiredSession); err != nil {
		t.Fatalf("create expired session: %v", err)
	}
	if err := s.CreateSession(ctx, liveSession); err != nil {
		t.Fatalf("create live session: %v", err)
	}

	n, err := s.PruneExpiredCredentials(ctx, time.Now())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows pruned, got %d", n)
	}
	if _, _, found, _ := s.LookupByAPIKeyPrefix(ctx, "exp00001"); found {
		t.Fatalf("expired key should have been pruned")
	}
	if _, _, found, _ := s.LookupByAPIKeyPrefix(ctx, "live0001"); !found {
		t.Fatalf("live key should survive pruning")
	}
	if _, found, _ := s.GetSession(ctx, "s-expired"); found {
		t.Fatalf("expired session should have been pruned")
	}
	if _, found, _ := s.GetSession(ctx, "s-live"); !found {
		t.Fatalf("live session should survive pruning")
	}
}
