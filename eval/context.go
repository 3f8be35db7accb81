// Package eval walks expression ASTs against an evaluation context,
// implementing the DSL's three-valued-to-two-valued comparison semantics,
// membership, null checks, string matching, change predicates, and the
// built-in function table.
package eval

import (
	"time"

	"rulegraph/ast"
	"rulegraph/graphdb"
	"rulegraph/rgerrors"
)

// Context is the environment an expression is evaluated against. One
// Context lives for the duration of a single rule firing or a single
// action execution; it is never shared across goroutines.
type Context struct {
	// This is the entity the expression's "this.X" paths resolve against.
	This map[string]any

	// Vars holds bound loop variables (FOR) and bound entity variables
	// reachable by name; "v.X" resolves X against Vars["v"].
	Vars map[string]map[string]any

	// Params holds action parameter values, reachable by bare name (no dot).
	Params map[string]any

	// TriggerProperty/OldValue/NewValue describe the single property change
	// that produced the current firing; CHANGED consults them directly.
	// Per the triggering-event-only scoping noted in the design notes,
	// CHANGED against any other property evaluates to false.
	TriggerProperty string
	OldValue        any
	NewValue        any

	// Now is frozen once per firing so repeated NOW() calls agree.
	Now time.Time

	// Graph backs EXISTS pattern evaluation.
	Graph graphdb.Driver
}

// Eval walks e and returns its value: a string, float64, bool, nil, or a
// built-in-specific value (time.Time, time.Duration).
func (c *Context) Eval(e ast.Expr) (any, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return n.Value, nil

	case *ast.Path:
		return c.resolvePath(n), nil

	case *ast.Binary:
		left, err := c.Eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.Eval(n.Right)
		if err != nil {
			return nil, err
		}
		return compare(n.Op, left, right)

	case *ast.Membership:
		return c.evalMembership(n)

	case *ast.NullCheck:
		v, err := c.Eval(n.Value)
		if err != nil {
			return nil, err
		}
		isNull := v == nil
		if n.Negate {
			return !isNull, nil
		}
		return isNull, nil

	case *ast.Logical:
		return c.evalLogical(n)

	case *ast.Call:
		return c.evalCall(n)

	case *ast.Exists:
		return c.evalExists(n)

	case *ast.StringMatch:
		return c.evalStringMatch(n)

	case *ast.Changed:
		return c.evalChanged(n)

	default:
		return nil, rgerrors.Semantic(e.Position(), "cannot evaluate expression of type %T", e)
	}
}

// EvalBool evaluates e and coerces its result to a boolean, which every
// guard and precondition expression in the grammar ultimately produces.
func (c *Context) EvalBool(e ast.Expr) (bool, error) {
	v, err := c.Eval(e)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (c *Context) resolvePath(n *ast.Path) any {
	head := n.Segments[0]

	if head == "this" {
		if len(n.Segments) == 1 {
			return c.This
		}
		return c.This[n.Segments[1]]
	}

	if len(n.Segments) == 1 {
		if v, ok := c.Params[head]; ok {
			return v
		}
		if entity, ok := c.Vars[head]; ok {
			return entity
		}
		return nil
	}

	entity, ok := c.Vars[head]
	if !ok {
		return nil
	}
	return entity[n.Segments[1]]
}

func (c *Context) evalMembership(n *ast.Membership) (any, error) {
	value, err := c.Eval(n.Value)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return false, nil
	}
	for _, item := range n.List {
		lit, err := c.Eval(item)
		if err != nil {
			return nil, err
		}
		if equalAny(value, lit) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Context) evalLogical(n *ast.Logical) (any, error) {
	switch n.Op {
	case ast.LogicalNot:
		v, err := c.EvalBool(n.Operands[0])
		if err != nil {
			return nil, err
		}
		return !v, nil

	case ast.LogicalAnd:
		for _, operand := range n.Operands {
			v, err := c.EvalBool(operand)
			if err != nil {
				return nil, err
			}
			if !v {
				return false, nil
			}
		}
		return true, nil

	case ast.LogicalOr:
		for _, operand := range n.Operands {
			v, err := c.EvalBool(operand)
			if err != nil {
				return nil, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil

	default:
		return nil, rgerrors.Semantic(n.Position(), "unknown logical operator %q", n.Op)
	}
}

func (c *Context) evalChanged(n *ast.Changed) (any, error) {
	if n.Property != c.TriggerProperty {
		return false, nil
	}
	if n.From == nil && n.To == nil {
		return !equalAny(c.OldValue, c.NewValue), nil
	}
	fromVal, err := c.Eval(n.From)
	if err != nil {
		return nil, err
	}
	toVal, err := c.Eval(n.To)
	if err != nil {
		return nil, err
	}
	return equalAny(c.OldValue, fromVal) && equalAny(c.NewValue, toVal), nil
}
