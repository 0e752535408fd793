package query

import (
	"fmt"
	"reflect"
	"sync"
)

// Predicate is one parameterized SQL fragment plus its bind arguments,
// the "predicate tree over the underlying store's expression language"
// calls for: "parameterized — never string interpolation."
type Predicate struct {
	SQL  string
	Args []any
}

// TranslateFunc maps one concrete Query value to a Predicate for a given
// backend. Registered per (backend name, concrete Query type).
type TranslateFunc func(q Query) (Predicate, error)

// Registry is a query-translation registry: one TranslateFunc per
// (backend, query type) pair, each mapping a Query value to a Predicate
// for that backend. Adapter-level dispatch lives in the adapter packages;
// Registry covers the SQL-backend case used by internal/catalogstore.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]map[reflect.Type]TranslateFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]map[reflect.Type]TranslateFunc)}
}

// Register installs fn as the translator for queries of q's concrete type
// on the named backend.
func (r *Registry) Register(backend string, q Query, fn TranslateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[backend] == nil {
		r.funcs[backend] = make(map[reflect.Type]TranslateFunc)
	}
	r.funcs[backend][reflect.TypeOf(q)] = fn
}

// Translate dispatches q to the registered function for backend, purely
// (no I/O): concurrent calls are safe
func (r *Registry) Translate(backend string, q Query) (Predicate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byType, ok := r.funcs[backend]
	if !ok {
		return Predicate{}, fmt.Errorf("query: no translations registered for backend %q", backend)
	}
	fn, ok := byType[reflect.TypeOf(q)]
	if !ok {
		return Predicate{}, fmt.Errorf("query: backend %q has no translation for %T", backend, q)
	}
	return fn(q)
}
