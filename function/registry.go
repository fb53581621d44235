package function

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrFunctionNotFound  = errors.New("function not found")
	ErrInvalidDefinition = errors.New("invalid function definition")
)

// Registry holds the immutable set of discovered definitions and their
// engine bindings.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Definition
	engines map[string]EngineID
}

// NewRegistry validates defs and builds a registry from them. Each
// definition must have a name, a handler and an engine.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		funcs:   make(map[string]Definition, len(defs)),
		engines: make(map[string]EngineID, len(defs)),
	}
	for _, def := range defs {
		if err := validate(def); err != nil {
			return nil, err
		}
		if _, dup := r.funcs[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate function %q", ErrInvalidDefinition, def.Name)
		}
		r.funcs[def.Name] = def.clone()
		r.engines[def.Name] = def.Settings.Engine
	}
	return r, nil
}

func validate(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidDefinition)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %s: handler required", ErrInvalidDefinition, def.Name)
	}
	if def.Settings.Engine == "" {
		return fmt.Errorf("%w: %s: settings.engine required", ErrInvalidDefinition, def.Name)
	}
	seen := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		if p.Name == "" {
			return fmt.Errorf("%w: %s: unnamed param", ErrInvalidDefinition, def.Name)
		}
		if p.Name == ScaleToFitKey || p.Name == RandomSeedKey || p.Name == PresetKey {
			return fmt.Errorf("%w: %s: param %q is reserved", ErrInvalidDefinition, def.Name, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s: duplicate param %q", ErrInvalidDefinition, def.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	return def.clone(), nil
}

// EngineOf returns the engine bound to name.
func (r *Registry) EngineOf(name string) (EngineID, bool) {
	r.mu.RLock()
	id, ok := r.engines[name]
	r.mu.RUnlock()
	return id, ok
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}
