package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"rulegraph/ast"
	"rulegraph/eval"
	"rulegraph/graphdb"
	"rulegraph/query"
	"rulegraph/rgerrors"
)

// Result is the outcome of one action execution. It is always returned
// alongside a nil error for ordinary business failures (action not found,
// bad parameters, a failed precondition) — per the exit convention, action
// failures never raise across the boundary. A non-nil error return means
// a precondition itself errored, or an effect could not run to completion:
// an evaluation or translation error, an unknown variable, a failed graph
// write, a cancelled context, or a TRIGGERed action that did not succeed.
type Result struct {
	Success bool
	Error   string
	Changes map[string]any
}

// Executor runs one action's preconditions, then its effects, against a
// live entity. Two executions against the same entity id are serialized.
type Executor struct {
	Actions    *Registry
	Graph      graphdb.Driver
	Translator *query.Translator

	// Emit, if set, is called for every property write the executor
	// performs (top-level SET or one inside a nested FOR), so the host's
	// event emitter can fold the write back into rule cascades the same
	// way any other graph mutation would.
	Emit func(ctx context.Context, change ast.ChangeEvent)

	// Now freezes NOW() for the duration of one Execute call, matching the
	// rule engine's per-firing freeze.
	Now func() time.Time

	locks sync.Map // entity id -> *sync.Mutex
}

// NewExecutor wires an executor against its collaborators.
func NewExecutor(actions *Registry, graph graphdb.Driver, translator *query.Translator) *Executor {
	return &Executor{Actions: actions, Graph: graph, Translator: translator, Now: time.Now}
}

func (e *Executor) lockFor(entityID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(entityID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// heldLocksKey threads the set of entity ids already locked by the current
// Execute call chain, so a TRIGGER that targets the same entity already
// being executed (e.g. an action triggering another action ON this) doesn't
// deadlock against its own, non-reentrant, per-id mutex.
type heldLocksKey struct{}

func isHeld(ctx context.Context, entityID string) bool {
	held, _ := ctx.Value(heldLocksKey{}).(map[string]bool)
	return held[entityID]
}

func withHeld(ctx context.Context, entityID string) context.Context {
	held, _ := ctx.Value(heldLocksKey{}).(map[string]bool)
	next := make(map[string]bool, len(held)+1)
	for id := range held {
		next[id] = true
	}
	next[entityID] = true
	return context.WithValue(ctx, heldLocksKey{}, next)
}

// Execute runs the named action against entity, per spec §4.5's five steps.
func (e *Executor) Execute(ctx context.Context, entityType, actionName, entityID string, entity map[string]any, params map[string]any) (*Result, error) {
	if !isHeld(ctx, entityID) {
		lock := e.lockFor(entityID)
		lock.Lock()
		defer lock.Unlock()
		ctx = withHeld(ctx, entityID)
	}

	def, ok := e.Actions.Lookup(entityType, actionName)
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("Action %s.%s not found", entityType, actionName)}, nil
	}

	if err := validateParams(def, params); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("Invalid parameters: %s", err)}, nil
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	ec := &eval.Context{This: entity, Params: params, Now: now(), Graph: e.Graph}

	for _, pc := range def.Preconditions {
		ok, err := ec.EvalBool(pc.Condition)
		if err != nil {
			return nil, rgerrors.PreconditionError(err)
		}
		if !ok {
			return &Result{Success: false, Error: pc.OnFailure}, nil
		}
	}

	vars := map[string]map[string]any{"this": entity}
	varTypes := map[string]string{"this": entityType}
	changes := map[string]any{}

	if err := e.runStmts(ctx, def.Effect, vars, varTypes, params, ec.Now, changes); err != nil {
		return nil, err
	}

	return &Result{Success: true, Changes: changes}, nil
}

func validateParams(def *ast.ActionDef, params map[string]any) error {
	declared := make(map[string]ast.Param, len(def.Params))
	for _, p := range def.Params {
		declared[p.Name] = p
	}
	var unknown []string
	for name := range params {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown parameter(s) %s", strings.Join(unknown, ", "))
	}
	var missing []string
	for _, p := range def.Params {
		if p.Optional {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameter(s) %s", strings.Join(missing, ", "))
	}
	return nil
}

// runStmts executes a statement sequence (an action's effect, or the body
// of a FOR nested inside one) against the current variable bindings.
func (e *Executor) runStmts(ctx context.Context, stmts []ast.Stmt, vars map[string]map[string]any, varTypes map[string]string, params map[string]any, now time.Time, changes map[string]any) error {
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch n := stmt.(type) {
		case *ast.SetStmt:
			if err := e.runSet(ctx, n, vars, varTypes, params, now, changes); err != nil {
				return err
			}
		case *ast.TriggerStmt:
			if err := e.runTrigger(ctx, n, vars, varTypes, params, now); err != nil {
				return err
			}
		case *ast.ForStmt:
			if err := e.runFor(ctx, n, vars, varTypes, params, now, changes); err != nil {
				return err
			}
		default:
			return rgerrors.Semantic(stmt.Position(), "unsupported statement type %T in effect", stmt)
		}
	}
	return nil
}

func (e *Executor) runSet(ctx context.Context, n *ast.SetStmt, vars map[string]map[string]any, varTypes map[string]string, params map[string]any, now time.Time, changes map[string]any) error {
	if len(n.Target.Segments) != 2 {
		return rgerrors.Semantic(n.Position(), "SET target must be <var>.<property>")
	}
	varName, property := n.Target.Segments[0], n.Target.Segments[1]
	entity, ok := vars[varName]
	if !ok {
		return rgerrors.UnknownVariable(varName)
	}

	ec := &eval.Context{This: vars["this"], Vars: vars, Params: params, Now: now, Graph: e.Graph}
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
	if varName == "this" {
		changes[property] = value
	}
	if e.Emit != nil {
		e.Emit(ctx, ast.ChangeEvent{EntityType: entityType, EntityID: id, Property: property, OldValue: old, NewValue: value})
	}
	return nil
}

func (e *Executor) runTrigger(ctx context.Context, n *ast.TriggerStmt, vars map[string]map[string]any, varTypes map[string]string, params map[string]any, now time.Time) error {
	entity, ok := vars[n.Var]
	if !ok {
		return rgerrors.UnknownVariable(n.Var)
	}
	ec := &eval.Context{This: vars["this"], Vars: vars, Params: params, Now: now, Graph: e.Graph}

	args := map[string]any{}
	for name, expr := range n.Args {
		v, err := ec.Eval(expr)
		if err != nil {
			return err
		}
		args[name] = v
	}

	id := fmt.Sprint(entity["id"])
	res, err := e.Execute(ctx, n.EntityType, n.ActionName, id, entity, args)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("triggered action %s.%s failed: %s", n.EntityType, n.ActionName, res.Error)
	}
	return nil
}

func (e *Executor) runFor(ctx context.Context, n *ast.ForStmt, vars map[string]map[string]any, varTypes map[string]string, params map[string]any, now time.Time, changes map[string]any) error {
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

		if err := e.runStmts(ctx, n.Body, rowVars, rowTypes, params, now, changes); err != nil {
			return err
		}
	}
	return nil
}
