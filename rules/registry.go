// Package rules holds the rule registry and the event-driven engine that
// matches change events against registered rules and drives cascades.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"rulegraph/ast"
	"rulegraph/parser"
	"rulegraph/rgerrors"
)

// Registry stores RuleDefs indexed by their trigger key, ordered within
// each bucket by descending priority with stable insertion-order ties.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*ast.RuleDef
	byTrigger map[string][]*ast.RuleDef
}

// NewRegistry returns an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*ast.RuleDef),
		byTrigger: make(map[string][]*ast.RuleDef),
	}
}

// Register adds def, rejecting a duplicate rule name.
func (r *Registry) Register(def *ast.RuleDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return rgerrors.Semantic(def.Position(), "duplicate rule name %q", def.Name)
	}
	r.byName[def.Name] = def

	key := def.Trigger.Key()
	bucket := append(r.byTrigger[key], def)
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].Priority > bucket[j].Priority
	})
	r.byTrigger[key] = bucket
	return nil
}

// Lookup returns the rule registered under name, if any.
func (r *Registry) Lookup(name string) (*ast.RuleDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// GetByTrigger returns every rule registered for t, highest priority
// first; ties preserve registration order (invariant d).
func (r *Registry) GetByTrigger(t ast.Trigger) []*ast.RuleDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.byTrigger[t.Key()]
	out := make([]*ast.RuleDef, len(bucket))
	copy(out, bucket)
	return out
}

// LoadFromText parses dsl and registers every RuleDef it contains,
// ignoring ActionDefs (the action registry loads those separately).
func (r *Registry) LoadFromText(dsl string) error {
	decls, err := parser.Parse(dsl)
	if err != nil {
		return err
	}
	for _, decl := range decls {
		def, ok := decl.(*ast.RuleDef)
		if !ok {
			continue
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromFile parses the file at path and registers its RuleDefs.
func (r *Registry) LoadFromFile(path string) error {
	decls, err := parser.ParseFile(path)
	if err != nil {
		return err
	}
	for _, decl := range decls {
		def, ok := decl.(*ast.RuleDef)
		if !ok {
			continue
		}
		if err := r.Register(def); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
