// Package actions holds the action registry and the executor that runs an
// action's preconditions and effects against a live entity.
package actions

import (
	"fmt"
	"sync"

	"rulegraph/ast"
	"rulegraph/parser"
	"rulegraph/rgerrors"
)

type actionKey struct {
	entityType string
	name       string
}

// Registry stores ActionDefs keyed by (entity_type, name). Reads take a
// shared read lock (they are not lock-free), so concurrent reads do not
// block one another; registration takes an exclusive lock.
type Registry struct {
	mu      sync.RWMutex
	actions map[actionKey]*ast.ActionDef
	byType  map[string][]*ast.ActionDef
}

// NewRegistry returns an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[actionKey]*ast.ActionDef),
		byType:  make(map[string][]*ast.ActionDef),
	}
}

// Register adds def, rejecting a duplicate (entity_type, name) pair.
func (r *Registry) Register(def *ast.ActionDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := actionKey{entityType: def.EntityType, name: def.Name}
	if _, exists := r.actions[key]; exists {
		return rgerrors.Semantic(def.Position(), "duplicate action %s.%s", def.EntityType, def.Name)
	}
	r.actions[key] = def
	r.byType[def.EntityType] = append(r.byType[def.EntityType], def)
	return nil
}

// Lookup returns the action registered for entityType/name, if any.
func (r *Registry) Lookup(entityType, name string) (*ast.ActionDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[actionKey{entityType: entityType, name: name}]
	return def, ok
}

// ListByEntity returns every action declared on entityType, in
// registration order.
func (r *Registry) ListByEntity(entityType string) []*ast.ActionDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ast.ActionDef, len(r.byType[entityType]))
	copy(out, r.byType[entityType])
	return out
}

// LoadFromText parses dsl and registers every ActionDef it contains,
// ignoring RuleDefs (the rule registry loads those separately from the
// same text).
func (r *Registry) LoadFromText(dsl string) error {
	decls, err := parser.Parse(dsl)
	if err != nil {
		return err
	}
	for _, decl := range decls {
		def, ok := decl.(*ast.ActionDef)
		if !ok {
			continue
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromFile parses the file at path and registers its ActionDefs.
func (r *Registry) LoadFromFile(path string) error {
	decls, err := parser.ParseFile(path)
	if err != nil {
		return err
	}
	for _, decl := range decls {
		def, ok := decl.(*ast.ActionDef)
		if !ok {
			continue
		}
		if err := r.Register(def); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
