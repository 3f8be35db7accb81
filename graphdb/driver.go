// Package graphdb defines the single collaborator contract the rule engine
// core depends on: a graph driver capable of running parameterized queries.
package graphdb

import "context"

// Row is one result row: alias (as bound in the query's RETURN clause) to
// the entity snapshot it resolved to.
type Row map[string]any

// Driver is the capability the engine requires of the underlying graph
// store. Implementations must never interpolate parameter values into the
// query text themselves; query and params travel separately all the way
// down to the wire.
type Driver interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Row, error)
}
