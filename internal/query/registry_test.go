package query

import (
	"testing"

	"github.com/tiled-data/tiled/internal/structure"
)

func TestRegistryTranslatesRegisteredQuery(t *testing.T) {
	r := NewRegistry()
	RegisterSQLTranslations(r)
	pred, err := r.Translate(BackendSQL, StructureFamilyQuery{Family: structure.FamilyArray})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(pred.Args) != 1 || pred.Args[0] != "array" {
		t.Fatalf("unexpected predicate args: %+v", pred.Args)
	}
}

func TestRegistryUnknownQueryErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Translate(BackendSQL, Eq{Field: "x", Value: 1}); err == nil {
		t.Fatalf("expected unregistered query to error")
	}
}

func TestKeysFilterParameterizes(t *testing.T) {
	r := NewRegistry()
	RegisterSQLTranslations(r)
	pred, err := r.Translate(BackendSQL, KeysFilter{Keys: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if len(pred.Args) != 2 {
		t.Fatalf("expected 2 bind args, got %d", len(pred.Args))
	}
}
