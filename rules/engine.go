package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"rulegraph/actions"
	"rulegraph/ast"
	"rulegraph/eval"
	"rulegraph/graphdb"
	"rulegraph/query"
	"rulegraph/rgerrors"
)

const defaultMaxDepth = 10

// Engine consumes change events, matches them against the rule registry,
// and drives the resulting cascade under a bounded depth.
type Engine struct {
	Rules      *Registry
	Actions    *actions.Executor
	Graph      graphdb.Driver
	Translator *query.Translator

	// MaxDepth bounds cascade depth; the zero value from a struct literal
	// is replaced with defaultMaxDepth by NewEngine.
	MaxDepth int
	// MaxQueueSize, if positive, bounds the per-firing cascade queue;
	// further enqueues are dropped with CascadeOverflow logged.
	MaxQueueSize int

	// Now freezes NOW() for the duration of one rule firing.
	Now func() time.Time
}

// NewEngine wires an engine against its collaborators, with the default
// cascade depth bound of 10 (spec §5).
func NewEngine(rules *Registry, exec *actions.Executor, graph graphdb.Driver, translator *query.Translator) *Engine {
	e := &Engine{
		Rules:      rules,
		Actions:    exec,
		Graph:      graph,
		Translator: translator,
		MaxDepth:   defaultMaxDepth,
		Now:        time.Now,
	}
	return e
}

// LoadRulesFromFile parses path and registers its rules.
func (e *Engine) LoadRulesFromFile(path string) error {
	return e.Rules.LoadFromFile(path)
}

// Deliver adapts Engine to events.Subscriber so a host can wire
// emitter.Subscribe(engine) directly.
func (e *Engine) Deliver(ctx context.Context, change ast.ChangeEvent) {
	if err := e.OnEvent(ctx, change); err != nil {
		log.Error().Err(err).Str("entity_type", change.EntityType).Str("property", change.Property).Msg("rule engine: event processing failed")
	}
}

type queuedEvent struct {
	change ast.ChangeEvent
	depth  int
}

// OnEvent processes one top-level change event to completion, including
// every cascade it produces, breadth-first and depth-bounded. A rule
// firing's own internal failure is logged and does not abort sibling
// rules or the cascade as a whole (§7 propagation policy); OnEvent itself
// only returns an error for something outside that policy (e.g. a
// cancelled context).
func (e *Engine) OnEvent(ctx context.Context, change ast.ChangeEvent) error {
	st := &firingState{visited: map[string]bool{}}
	queue := []queuedEvent{{change: change, depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		qe := queue[0]
		queue = queue[1:]

		if qe.depth >= e.MaxDepth {
			log.Warn().Str("entity_type", qe.change.EntityType).Str("property", qe.change.Property).Int("depth", qe.depth).Msg("rule engine: cascade depth exceeded, firing dropped")
			continue
		}

		produced := e.processEvent(ctx, qe.change, qe.depth, st)
		for _, p := range produced {
			if e.MaxQueueSize > 0 && len(queue) >= e.MaxQueueSize {
				log.Warn().Err(rgerrors.CascadeOverflow("", qe.change.EntityID, qe.depth+1)).Msg("rule engine: cascade queue full, event dropped")
				continue
			}
			queue = append(queue, queuedEvent{change: p, depth: qe.depth + 1})
		}
	}
	return nil
}

// firingState is scoped to one OnEvent call (one top-level event plus its
// whole cascade); it is never shared across goroutines.
type firingState struct {
	visited map[string]bool // "rule_name|entity_id"
}

// processEvent runs every rule bound to change's trigger key, in priority
// order, and returns the change events their effects produced (for the
// caller to enqueue as the next cascade level).
func (e *Engine) processEvent(ctx context.Context, change ast.ChangeEvent, depth int, st *firingState) []ast.ChangeEvent {
	trigger := ast.Trigger{Kind: ast.TriggerUpdate, EntityType: change.EntityType, Property: change.Property}
	bucket := e.Rules.GetByTrigger(trigger)

	var produced []ast.ChangeEvent
	for _, rule := range bucket {
		visitKey := rule.Name + "|" + change.EntityID
		if st.visited[visitKey] {
			continue
		}
		st.visited[visitKey] = true

		rowsProduced, err := e.fireRule(ctx, rule, change)
		if err != nil {
			log.Error().Err(err).Str("rule", rule.Name).Msg("rule engine: firing failed")
			continue
		}
		produced = append(produced, rowsProduced...)
	}
	return produced
}

// fireRule implements the PENDING -> MATCHED -> ITERATING(row) ->
// (EFFECT_APPLIED | EFFECT_FAILED) -> NEXT_ROW | COMPLETED state machine
// for one rule against one triggering change.
func (e *Engine) fireRule(ctx context.Context, rule *ast.RuleDef, change ast.ChangeEvent) ([]ast.ChangeEvent, error) {
	bound := map[string]query.BoundVar{
		rule.Body.Var: {EntityType: change.EntityType, ID: change.EntityID},
	}
	compiled, err := e.Translator.Translate(rule.Body, bound)
	if err != nil {
		return nil, err
	}
	rows, err := e.Graph.Run(ctx, compiled.Text, compiled.Params)
	if err != nil {
		return nil, rgerrors.GraphIO(err)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	frozenNow := now()

	var produced []ast.ChangeEvent
	for _, row := range rows {
		entity, ok := row[rule.Body.Var].(map[string]any)
		if !ok {
			continue
		}
		vars := map[string]map[string]any{rule.Body.Var: entity}
		varTypes := map[string]string{rule.Body.Var: rule.Trigger.EntityType}

		if err := e.runStmts(ctx, rule.Body.Body, vars, varTypes, change, frozenNow, &produced); err != nil {
			log.Error().Err(err).Str("rule", rule.Name).Msg("rule engine: row effect failed, continuing to next row")
			continue
		}
	}
	return produced, nil
}

// runStmts executes a rule body's statements (SET, TRIGGER, nested FOR)
// against the current variable bindings, appending every property write
// it performs to produced so the caller can schedule cascaded firings.
func (e *Engine) runStmts(ctx context.Context, stmts []ast.Stmt, vars map[string]map[string]any, varTypes map[string]string, trigger ast.ChangeEvent, now time.Time, produced *[]ast.ChangeEvent) error {
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch n := stmt.(type) {
		case *ast.SetStmt:
			if err := e.runSet(ctx, n, vars, varTypes, trigger, now, produced); err != nil {
				return err
			}
		case *ast.TriggerStmt:
			if err := e.runTrigger(ctx, n, vars, varTypes, trigger, now, produced); err != nil {
				return err
			}
		case *ast.ForStmt:
			if err := e.runFor(ctx, n, vars, varTypes, trigger, now, produced); err != nil {
				return err
			}
		default:
			return rgerrors.Semantic(stmt.Position(), "unsupported statement type %T in rule body", stmt)
		}
	}
	return nil
}

func (e *Engine) runSet(ctx context.Context, n *ast.SetStmt, vars map[string]map[string]any, varTypes map[string]string, trigger ast.ChangeEvent, now time.Time, produced *[]ast.ChangeEvent) error {
	if len(n.Target.Segments) != 2 {
		return rgerrors.Semantic(n.Position(), "SET target must be <var>.<property>")
	}
	varName, property := n.Target.Segments[0], n.Target.Segments[1]
	entity, ok := vars[varName]
	if !ok {
		return rgerrors.UnknownVariable(varName)
	}

	ec := e.evalContext(vars, trigger, now)
	value, err := ec.Eval(n.Value)
	if err != nil {
		return err
	}

	entityType := varTypes[varName]
	id := fmt.Sprint(entity["id"])
	compiled, err := e.Translator.TranslateSet(varName, entityType, id, property, value)
	if err != nil {
		return err
	}
	if _, err := e.Graph.Run(ctx, compiled.Text, compiled.Params); err != nil {
		return rgerrors.GraphIO(err)
	}

	old := entity[property]
	entity[property] = value
	*produced = append(*produced, ast.ChangeEvent{EntityType: entityType, EntityID: id, Property: property, OldValue: old, NewValue: value})
	return nil
}

func (e *Engine) runTrigger(ctx context.Context, n *ast.TriggerStmt, vars map[string]map[string]any, varTypes map[string]string, trigger ast.ChangeEvent, now time.Time, produced *[]ast.ChangeEvent) error {
	entity, ok := vars[n.Var]
	if !ok {
		return rgerrors.UnknownVariable(n.Var)
	}
	ec := e.evalContext(vars, trigger, now)

	args := map[string]any{}
	for name, expr := range n.Args {
		v, err := ec.Eval(expr)
		if err != nil {
			return err
		}
		args[name] = v
	}

	id := fmt.Sprint(entity["id"])
	e.Actions.Emit = func(_ context.Context, change ast.ChangeEvent) {
		*produced = append(*produced, change)
	}
	res, err := e.Actions.Execute(ctx, n.EntityType, n.ActionName, id, entity, args)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("triggered action %s.%s failed: %s", n.EntityType, n.ActionName, res.Error)
	}
	return nil
}

func (e *Engine) runFor(ctx context.Context, n *ast.ForStmt, vars map[string]map[string]any, varTypes map[string]string, trigger ast.ChangeEvent, now time.Time, produced *[]ast.ChangeEvent) error {
	bound := make(map[string]query.BoundVar, len(vars))
	for name, entity := range vars {
		bound[name] = query.BoundVar{EntityType: varTypes[name], ID: fmt.Sprint(entity["id"])}
	}
	compiled, err := e.Translator.Translate(n, bound)
	if err != nil {
		return err
	}
	rows, err := e.Graph.Run(ctx, compiled.Text, compiled.Params)
	if err != nil {
		return rgerrors.GraphIO(err)
	}

	for _, row := range rows {
		entity, ok := row[n.Var].(map[string]any)
		if !ok {
			continue
		}
		rowVars := make(map[string]map[string]any, len(vars)+1)
		rowTypes := make(map[string]string, len(varTypes)+1)
		for k, v := range vars {
			rowVars[k] = v
		}
		for k, v := range varTypes {
			rowTypes[k] = v
		}
		rowVars[n.Var] = entity
		rowTypes[n.Var] = n.EntityType

		if err := e.runStmts(ctx, n.Body, rowVars, rowTypes, trigger, now, produced); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) evalContext(vars map[string]map[string]any, trigger ast.ChangeEvent, now time.Time) *eval.Context {
	return &eval.Context{
		This:            vars["this"],
		Vars:            vars,
		TriggerProperty: trigger.Property,
		OldValue:        trigger.OldValue,
		NewValue:        trigger.NewValue,
		Now:             now,
		Graph:           e.Graph,
	}
}
