package validate

import (
	"encoding/json"
	"testing"

	"github.com/tiled-data/tiled/internal/structure"
)

func TestRunAllPassesThroughWithNoValidators(t *testing.T) {
	r := NewRegistry(false)
	res, err := r.RunAll(json.RawMessage(`{"a":1}`), structure.FamilyArray, structure.Structure{}, nil)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if res.Modified {
		t.Fatalf("expected unmodified result")
	}
}

func TestRunAllRejectsUndeclaredSpec(t *testing.T) {
	r := NewRegistry(true)
	_, err := r.RunAll(json.RawMessage(`{}`), structure.FamilyArray, structure.Structure{}, []string{"unknown_spec"})
	if err == nil {
		t.Fatalf("expected error for undeclared spec")
	}
}

func TestRunAllAllowsUndeclaredSpecWhenNotRejecting(t *testing.T) {
	r := NewRegistry(false)
	res, err := r.RunAll(json.RawMessage(`{"a":1}`), structure.FamilyArray, structure.Structure{}, []string{"unknown_spec"})
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if string(res.Metadata) != `{"a":1}` {
		t.Fatalf("expected metadata unchanged, got %s", res.Metadata)
	}
}

func TestRunAllRunsInReverseOrderAndReportsNormalization(t *testing.T) {
	r := NewRegistry(false)
	var order []string
	r.Register("first", func(m json.RawMessage, _ structure.Family, _ structure.Structure, spec string) (json.RawMessage, error) {
		order = append(order, spec)
		return json.RawMessage(`{"seen_first":true}`), nil
	})
	r.Register("second", func(m json.RawMessage, _ structure.Family, _ structure.Structure, spec string) (json.RawMessage, error) {
		order = append(order, spec)
		return nil, nil
	})
	res, err := r.RunAll(json.RawMessage(`{}`), structure.FamilyArray, structure.Structure{}, []string{"first", "second"})
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse-order execution (second, first), got %v", order)
	}
	if !res.Modified {
		t.Fatalf("expected modified=true since 'first' normalized")
	}
	if string(res.Metadata) != `{"seen_first":true}` {
		t.Fatalf("expected final metadata from last-run validator, got %s", res.Metadata)
	}
}

func TestCompositeValidatorRejectsNonContainer(t *testing.T) {
	r := NewRegistry(false)
	RegisterComposite(r, nil)
	_, err := r.RunAll(json.RawMessage(`{}`), structure.FamilyArray, structure.Structure{}, []string{"composite"})
	if err == nil {
		t.Fatalf("expected error assigning composite to a non-container")
	}
}

func TestCompositeValidatorRejectsNestedContainers(t *testing.T) {
	r := NewRegistry(false)
	RegisterComposite(r, func() ([]CompositeSibling, error) {
		return []CompositeSibling{{Key: "nested", Family: structure.FamilyContainer}}, nil
	})
	_, err := r.RunAll(json.RawMessage(`{}`), structure.FamilyContainer, structure.Structure{}, []string{"composite"})
	if err == nil {
		t.Fatalf("expected error for nested container")
	}
}

func TestCompositeValidatorRejectsConflictingNames(t *testing.T) {
	r := NewRegistry(false)
	RegisterComposite(r, func() ([]CompositeSibling, error) {
		return []CompositeSibling{
			{Key: "temperature", Family: structure.FamilyArray},
			{Key: "readings", Family: structure.FamilyTable, Columns: []string{"temperature"}},
		}, nil
	})
	_, err := r.RunAll(json.RawMessage(`{}`), structure.FamilyContainer, structure.Structure{}, []string{"composite"})
	if err == nil {
		t.Fatalf("expected conflicting-name error")
	}
}

func TestCompositeValidatorAllowsDisjointNames(t *testing.T) {
	r := NewRegistry(false)
	RegisterComposite(r, func() ([]CompositeSibling, error) {
		return []CompositeSibling{
			{Key: "temperature", Family: structure.FamilyArray},
			{Key: "readings", Family: structure.FamilyTable, Columns: []string{"pressure"}},
		}, nil
	})
	_, err := r.RunAll(json.RawMessage(`{}`), structure.FamilyContainer, structure.Structure{}, []string{"composite"})
	if err != nil {
		t.Fatalf("expected no error for disjoint names: %v", err)
	}
}
