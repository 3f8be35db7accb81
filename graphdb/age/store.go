// Package age implements graphdb.Driver against Apache AGE running inside
// PostgreSQL, via pgx/v5. Every property value the translator parameterizes
// travels as a single bound agtype argument — never interpolated into the
// Cypher text.
package age

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"rulegraph/ast"
	"rulegraph/graphdb"
)

// Store is a graphdb.Driver backed by one Apache AGE graph.
type Store struct {
	pool      *pgxpool.Pool
	graphName string
}

// NewStore wraps an existing pool; it does not own the pool's lifecycle.
func NewStore(pool *pgxpool.Pool, graphName string) *Store {
	return &Store{pool: pool, graphName: graphName}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnsureGraph creates the AGE graph catalog entry if it does not already
// exist.
func (s *Store) EnsureGraph(ctx context.Context) error {
	if !identPattern.MatchString(s.graphName) {
		return fmt.Errorf("invalid graph name %q", s.graphName)
	}
	const q = `SELECT * FROM ag_catalog.create_graph($1) WHERE NOT EXISTS (
		SELECT 1 FROM ag_catalog.ag_graph WHERE name = $1
	)`
	if _, err := s.pool.Exec(ctx, q, s.graphName); err != nil {
		return errors.Wrapf(err, "ensuring graph %s", s.graphName)
	}
	return nil
}

// EnsureLabel creates a vertex or edge label in this graph if absent.
func (s *Store) EnsureLabel(ctx context.Context, label string, isEdge bool) error {
	if !identPattern.MatchString(label) {
		return fmt.Errorf("invalid label %q", label)
	}
	fn := "create_vlabel"
	if isEdge {
		fn = "create_elabel"
	}
	q := fmt.Sprintf(`SELECT * FROM ag_catalog.%s($1, $2) WHERE NOT EXISTS (
		SELECT 1 FROM ag_catalog.ag_label WHERE graph = (SELECT graphid FROM ag_catalog.ag_graph WHERE name = $1) AND name = $2
	)`, fn)
	if _, err := s.pool.Exec(ctx, q, s.graphName, label); err != nil {
		return errors.Wrapf(err, "ensuring label %s", label)
	}
	return nil
}

// Sync mirrors one ChangeEvent's owning entity into AGE as a vertex
// property SET, for hosts that keep the graph as a materialized cache of a
// relational system of record rather than the source of truth.
func (s *Store) Sync(ctx context.Context, change ast.ChangeEvent) error {
	if !identPattern.MatchString(change.EntityType) || !identPattern.MatchString(change.Property) {
		return fmt.Errorf("unsafe entity type or property in change event")
	}
	cypher := fmt.Sprintf("MERGE (n:%s {id: $entity_id}) SET n.%s = $value RETURN n",
		change.EntityType, change.Property)
	_, err := s.Run(ctx, rewriteForAge(cypher), map[string]any{
		"entity_id": change.EntityID,
		"value":     change.NewValue,
	})
	return err
}

// operatorRewrite maps the DSL's comparison spellings (kept verbatim by
// package query, since the in-memory test driver interprets them directly)
// onto openCypher's native spellings for AGE.
var operatorRewrite = strings.NewReplacer("==", "=", "!=", "<>")

func rewriteForAge(queryText string) string {
	return operatorRewrite.Replace(queryText)
}

// Run executes queryText (as package query emits it) against this AGE
// graph. Every value in params is marshaled once into a single bound
// agtype map argument; queryText itself never contains a literal.
func (s *Store) Run(ctx context.Context, queryText string, params map[string]any) ([]graphdb.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cypher := rewriteForAge(queryText)
	returnVar, isWrite := extractReturnVar(cypher)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling query parameters")
	}

	sql := fmt.Sprintf(`SELECT * FROM cypher('%s', $$ %s $$, $1::agtype) as (result agtype)`,
		escapeSingleQuotes(s.graphName), cypher)

	rows, err := s.pool.Query(ctx, sql, string(paramsJSON))
	if err != nil {
		return nil, errors.Wrap(err, "executing AGE cypher query")
	}
	defer rows.Close()

	var out []graphdb.Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scanning AGE result row")
		}
		if isWrite {
			continue
		}
		entity, err := decodeAgtype(raw)
		if err != nil {
			return nil, errors.Wrap(err, "decoding AGE agtype result")
		}
		out = append(out, graphdb.Row{returnVar: entity})
	}
	return out, rows.Err()
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

var returnPattern = regexp.MustCompile(`(?i)RETURN\s+(\w+)\s*$`)

// extractReturnVar reports the alias a read query's RETURN names, or
// reports isWrite=true for a query ending in a SET clause with no RETURN.
func extractReturnVar(cypher string) (varName string, isWrite bool) {
	if m := returnPattern.FindStringSubmatch(strings.TrimSpace(cypher)); m != nil {
		return m[1], false
	}
	return "", true
}

// decodeAgtype parses one agtype text value returned by AGE. Vertex/edge
// results carry a "::vertex" / "::edge" type suffix wrapping a JSON object
// with a "properties" field; anything else decodes as plain JSON.
func decodeAgtype(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "::vertex")
	raw = strings.TrimSuffix(raw, "::edge")

	var parsed struct {
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}
	if parsed.Properties == nil {
		return map[string]any{}, nil
	}
	return parsed.Properties, nil
}
