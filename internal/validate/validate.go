// Package validate implements the per-spec validation registry: a spec
// name maps to a validator function that inspects (and may normalize) a
// node's metadata before it is persisted, a named, registry-dispatched
// transform applied before the row reaches the catalog store.
package validate

import (
	"encoding/json"
	"sync"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/structure"
)

// Error signals that metadata failed validation for a spec; it maps to
// 400 ("Raising ValidationError produces a 400").
type Error struct {
	Spec   string
	Reason string
}

func (e Error) Error() string { return "validate: spec " + e.Spec + ": " + e.Reason }

// Func is a validator signature: "(metadata,
// structure_family, structure, spec) → metadata | None". A nil return
// with a nil error means "no normalization"; a non-nil return replaces
// the input metadata and the caller must report modified: true.
type Func func(metadata json.RawMessage, family structure.Family, st structure.Structure, spec string) (normalized json.RawMessage, err error)

// Registry maps a spec name to its validator, populated at startup and
// read-only afterward global-state rule.
type Registry struct {
	mu                    sync.RWMutex
	funcs                 map[string]Func
	rejectUndeclaredSpecs bool
}

func NewRegistry(rejectUndeclaredSpecs bool) *Registry {
	return &Registry{funcs: make(map[string]Func), rejectUndeclaredSpecs: rejectUndeclaredSpecs}
}

func (r *Registry) Register(spec string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[spec] = fn
}

// Result reports, for one validator invocation, whether it normalized
// the metadata.
type Result struct {
	Metadata json.RawMessage
	Modified bool
}

// RunAll runs every validator for specs against metadata, in reverse
// order — "least-specific first", so later (more
// constrained) specs see the output already normalized by earlier ones —
// and returns the final metadata plus whether any validator modified it.
// If rejectUndeclaredSpecs is set, any spec absent from the registry is
// a 400; otherwise it passes through unvalidated.
func (r *Registry) RunAll(metadata json.RawMessage, family structure.Family, st structure.Structure, specs []string) (Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current := metadata
	modified := false
	for i := len(specs) - 1; i >= 0; i-- {
		spec := specs[i]
		fn, ok := r.funcs[spec]
		if !ok {
			if r.rejectUndeclaredSpecs {
				return Result{}, apperr.BadRequest("spec %q is not registered and reject_undeclared_specs is enabled", spec)
			}
			continue
		}
		out, err := fn(current, family, st, spec)
		if err != nil {
			if ve, ok := err.(Error); ok {
				return Result{}, apperr.BadRequest("%s", ve.Error())
			}
			return Result{}, apperr.BadRequest("spec %q validation failed: %v", spec, err)
		}
		if out != nil {
			current = out
			modified = true
		}
	}
	return Result{Metadata: current, Modified: modified}, nil
}
