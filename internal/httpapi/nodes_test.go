package httpapi

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/catalogstore"
	"github.com/tiled-data/tiled/internal/structure"
)

func newTestNodeServer(t *testing.T) (*Server, *catalogstore.Store) {
	t.Helper()
	dir := t.TempDir()
	catalog, err := catalogstore.Open(context.Background(), "sqlite:"+filepath.Join(dir, "catalog.sqlite"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	policy := auth.NewTagPolicy(auth.NewScopeSet(auth.AllScopes...))
	return &Server{Catalog: catalog, Policy: policy}, catalog
}

func createTestNode(t *testing.T, catalog *catalogstore.Store, ancestors []string, key string, accessBlob auth.AccessBlob) {
	t.Helper()
	blobJSON, err := json.Marshal(accessBlob)
	if err != nil {
		t.Fatalf("marshal access blob: %v", err)
	}
	n := catalogstore.Node{
		Parent:          "",
		Key:             key,
		Ancestors:       joinPath(ancestors),
		Metadata:        json.RawMessage(`{}`),
		Specs:           json.RawMessage(`[]`),
		AccessBlob:      blobJSON,
		StructureFamily: structure.FamilyContainer,
	}
	if _, err := catalog.CreateNode(context.Background(), &n); err != nil {
		t.Fatalf("create node %s/%s: %v", joinPath(ancestors), key, err)
	}
}

func TestResolveNodeHidesNodeBehindInaccessibleAncestor(t *testing.T) {
	srv, catalog := newTestNodeServer(t)
	ctx := context.Background()

	// "secret" is owned by someone else and carries no tags: the caller
	// below holds no scopes on it.
	createTestNode(t, catalog, nil, "secret", auth.AccessBlob{User: "someone-else"})
	// "secret/child" is itself publicly readable, but nested under a
	// container the caller can't see.
	createTestNode(t, catalog, []string{"secret"}, "child", auth.AccessBlob{Tags: []string{"public"}})

	caller := AuthnResult{Principal: auth.Principal{UUID: "caller"}, AuthnTags: []string{"public"}}

	_, err := srv.resolveNode(ctx, []string{"secret", "child"}, caller)
	if err == nil {
		t.Fatalf("expected resolving a node behind an inaccessible ancestor to fail")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindNotFound {
		t.Fatalf("expected a not_found error, got %v", err)
	}
}

func TestResolveNodeAllowsNodeWithAccessibleAncestors(t *testing.T) {
	srv, catalog := newTestNodeServer(t)
	ctx := context.Background()

	createTestNode(t, catalog, nil, "open", auth.AccessBlob{Tags: []string{"public"}})
	createTestNode(t, catalog, []string{"open"}, "child", auth.AccessBlob{Tags: []string{"public"}})

	caller := AuthnResult{Principal: auth.Principal{UUID: "caller"}, AuthnTags: []string{"public"}}

	resolved, err := srv.resolveNode(ctx, []string{"open", "child"}, caller)
	if err != nil {
		t.Fatalf("expected accessible ancestors to resolve, got %v", err)
	}
	if resolved.Node.Key != "child" {
		t.Fatalf("expected to resolve the child node, got %+v", resolved.Node)
	}
}

func TestResolveNodeReturnsNotFoundForMissingTerminalNode(t *testing.T) {
	srv, catalog := newTestNodeServer(t)
	createTestNode(t, catalog, nil, "open", auth.AccessBlob{Tags: []string{"public"}})

	caller := AuthnResult{Principal: auth.Principal{UUID: "caller"}, AuthnTags: []string{"public"}}
	if _, err := srv.resolveNode(context.Background(), []string{"open", "missing"}, caller); err == nil {
		t.Fatalf("expected missing terminal node to fail")
	}
}
