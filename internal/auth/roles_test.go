package auth

import "testing"

func TestDefaultRoleRegistryHydratesKnownRoles(t *testing.T) {
	reg := DefaultRoleRegistry()
	hydrated := reg.Hydrate([]Role{{Name: "admin"}, {Name: "reader"}})
	if !hydrated[0].Scopes.Has(ScopeAdminAPIKeys) {
		t.Fatalf("expected admin role to carry admin:apikeys, got %v", hydrated[0].Scopes)
	}
	if !hydrated[1].Scopes.Has(ScopeReadData) {
		t.Fatalf("expected reader role to carry read:data, got %v", hydrated[1].Scopes)
	}
	if hydrated[1].Scopes.Has(ScopeWriteData) {
		t.Fatalf("reader role should not carry write:data")
	}
}

func TestRoleRegistryHydrateUnknownRoleIsEmptyNotError(t *testing.T) {
	reg := DefaultRoleRegistry()
	hydrated := reg.Hydrate([]Role{{Name: "does-not-exist"}})
	if len(hydrated) != 1 || hydrated[0].Name != "does-not-exist" {
		t.Fatalf("expected name preserved, got %+v", hydrated)
	}
	if len(hydrated[0].Scopes) != 0 {
		t.Fatalf("expected empty scope set for unknown role, got %v", hydrated[0].Scopes)
	}
}

func TestPrincipalIsAdminAfterHydration(t *testing.T) {
	reg := DefaultRoleRegistry()
	p := Principal{UUID: "p1", Roles: reg.Hydrate([]Role{{Name: "admin"}})}
	if !p.IsAdmin() {
		t.Fatalf("expected principal with hydrated admin role to be admin")
	}
	reader := Principal{UUID: "p2", Roles: reg.Hydrate([]Role{{Name: "reader"}})}
	if reader.IsAdmin() {
		t.Fatalf("reader principal should not be admin")
	}
}
