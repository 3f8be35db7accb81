// Package memory is an in-process graphdb.Driver that interprets the small,
// fixed subset of query text package query and package eval emit: single-
// or multi-pattern MATCH, WHERE over ==, !=, <, >, <=, >=, IN, IS [NOT]
// NULL, =~, AND/OR/NOT, EXISTS pattern clauses, and single-property SET. It
// exists for tests and for the example wiring in cmd/ruleengine, so the
// engine can be exercised with no real database.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"rulegraph/graphdb"
)

type node struct {
	ID    string
	Type  string
	Props map[string]any
}

type edge struct {
	From string
	To   string
	Rel  string
}

// Store is an in-memory labeled property graph.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*node
	edges []edge
}

// NewStore returns an empty graph.
func NewStore() *Store {
	return &Store{nodes: map[string]*node{}}
}

// CreateNode adds or replaces a node. props is copied shallowly; Store
// always keeps "id" in sync with id.
func (s *Store) CreateNode(id, typ string, props map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := make(map[string]any, len(props)+1)
	for k, v := range props {
		p[k] = v
	}
	p["id"] = id
	s.nodes[id] = &node{ID: id, Type: typ, Props: p}
}

// CreateEntity adds a node with a freshly generated id, for callers (CREATE-
// triggered actions, seed data for a running example) that don't already
// have a stable external id to assign. Returns the generated id.
func (s *Store) CreateEntity(typ string, props map[string]any) string {
	id := uuid.NewString()
	s.CreateNode(id, typ, props)
	return id
}

// CreateEdge adds a directed, typed relationship.
func (s *Store) CreateEdge(from, to, rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edge{From: from, To: to, Rel: rel})
}

// Node returns a snapshot of one node's properties.
func (s *Store) Node(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return cloneProps(n.Props), true
}

func cloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// Run implements graphdb.Driver by parsing the generated query text against
// the current graph state.
func (s *Store) Run(ctx context.Context, query string, params map[string]any) ([]graphdb.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := parseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("memory driver: %w", err)
	}
	if q.isWrite {
		return nil, s.runWrite(q, params)
	}
	return s.runRead(q, params)
}

func (s *Store) runWrite(q *parsedQuery, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := params[q.setIDParam].(string)
	if !ok {
		return fmt.Errorf("missing id parameter %q", q.setIDParam)
	}
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("no node with id %q", id)
	}
	val := params[q.setValParam]
	n.Props[q.setProperty] = val
	return nil
}

func (s *Store) runRead(q *parsedQuery, params map[string]any) ([]graphdb.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := []map[string]map[string]any{{}}
	for _, pat := range q.patterns {
		rows = s.expand(rows, pat)
	}

	var out []graphdb.Row
	for _, row := range rows {
		if q.where != nil {
			ok, err := evalCond(q.where, evalCtx{rows: row, params: params, store: s})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		entity, ok := row[q.returnVar]
		if !ok {
			continue
		}
		out = append(out, graphdb.Row{q.returnVar: cloneProps(entity)})
	}
	return out, nil
}

// expand grows the candidate row set by one MATCH pattern.
func (s *Store) expand(rows []map[string]map[string]any, pat pattern) []map[string]map[string]any {
	var out []map[string]map[string]any

	if !pat.isRelationship {
		for _, row := range rows {
			if _, bound := row[pat.varName]; bound {
				out = append(out, row)
				continue
			}
			for _, n := range s.nodes {
				if pat.typeLabel != "" && n.Type != pat.typeLabel {
					continue
				}
				nr := cloneRow(row)
				nr[pat.varName] = n.Props
				out = append(out, nr)
			}
		}
		return out
	}

	for _, row := range rows {
		fromCandidates := s.candidatesFor(row, pat.fromVar)
		for _, fromNode := range fromCandidates {
			for _, e := range s.edges {
				if e.From != fromNode.ID || e.Rel != pat.relLabel {
					continue
				}
				toNode, ok := s.nodes[e.To]
				if !ok {
					continue
				}
				nr := cloneRow(row)
				nr[pat.fromVar] = fromNode.Props
				nr[pat.toVar] = toNode.Props
				out = append(out, nr)
			}
		}
	}
	return out
}

func (s *Store) candidatesFor(row map[string]map[string]any, varName string) []*node {
	if bound, ok := row[varName]; ok {
		id, _ := bound["id"].(string)
		if n, ok := s.nodes[id]; ok {
			return []*node{n}
		}
		return nil
	}
	all := make([]*node, 0, len(s.nodes))
	for _, n := range s.nodes {
		all = append(all, n)
	}
	return all
}

func cloneRow(row map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	return out
}
