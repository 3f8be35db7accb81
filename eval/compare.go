package eval

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"rulegraph/ast"
)

// compare implements the DSL's comparison semantics: a null operand yields
// false except for "==" with both operands null, which yields true.
func compare(op string, l, r any) (any, error) {
	if l == nil || r == nil {
		if op == "==" && l == nil && r == nil {
			return true, nil
		}
		return false, nil
	}

	switch op {
	case "==":
		return equalAny(l, r), nil
	case "!=":
		return !equalAny(l, r), nil
	case "<", ">", "<=", ">=":
		return orderCompare(op, l, r), nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %q", op)
	}
}

func orderCompare(op string, l, r any) bool {
	if lt, lok := l.(time.Time); lok {
		if rt, rok := r.(time.Time); rok {
			switch op {
			case "<":
				return lt.Before(rt)
			case ">":
				return lt.After(rt)
			case "<=":
				return !lt.After(rt)
			case ">=":
				return !lt.Before(rt)
			}
		}
	}

	if lf, lok := toNumber(l); lok {
		if rf, rok := toNumber(r); rok {
			switch op {
			case "<":
				return lf < rf
			case ">":
				return lf > rf
			case "<=":
				return lf <= rf
			case ">=":
				return lf >= rf
			}
		}
	}

	if ls, lok := l.(string); lok {
		if rs, rok := r.(string); rok {
			switch op {
			case "<":
				return ls < rs
			case ">":
				return ls > rs
			case "<=":
				return ls <= rs
			case ">=":
				return ls >= rs
			}
		}
	}

	// Mixed-type (or otherwise incomparable) ordering yields false.
	return false
}

// equalAny is the "==" semantics used both by Binary and by CHANGED's
// value comparisons: nil equals nil, nil equals nothing else, numeric
// values are coerced, everything else falls back to a structural compare.
func equalAny(l, r any) bool {
	if l == nil && r == nil {
		return true
	}
	if l == nil || r == nil {
		return false
	}
	if lt, lok := l.(time.Time); lok {
		if rt, rok := r.(time.Time); rok {
			return lt.Equal(rt)
		}
	}
	if lf, lok := toNumber(l); lok {
		if rf, rok := toNumber(r); rok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(l, r)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c *Context) evalStringMatch(n *ast.StringMatch) (any, error) {
	value, err := c.Eval(n.Value)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return false, nil
	}
	re, err := regexp.Compile("^(?:" + n.Pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid MATCHES pattern %q: %w", n.Pattern, err)
	}
	return re.MatchString(stringify(value)), nil
}

// evalExists issues a containment query for the head -[rel]-> tail pattern,
// then — when the clause carries a WHERE guard — evaluates that guard
// against each candidate tail row using the full expression evaluator,
// rather than re-deriving a second query translation for it. EXISTS used
// inside a FOR's own WHERE is instead compiled by package query directly
// into the enclosing query text; this path serves EXISTS evaluated
// standalone (e.g. inside a precondition).
func (c *Context) evalExists(n *ast.Exists) (any, error) {
	headEntity, ok := c.Vars[n.Head]
	if n.Head == "this" {
		headEntity = c.This
		ok = true
	}
	if !ok {
		return false, fmt.Errorf("EXISTS references unbound variable %q", n.Head)
	}
	headID := stringify(headEntity["id"])

	rows, err := c.Graph.Run(context.Background(), fmt.Sprintf(
		"MATCH (%s)-[:%s]->(%s) WHERE %s.id == $head_id RETURN %s", n.Head, n.Rel, n.Tail, n.Head, n.Tail),
		map[string]any{"head_id": headID})
	if err != nil {
		return false, err
	}
	if n.Guard == nil {
		return len(rows) > 0, nil
	}

	for _, row := range rows {
		tailEntity, _ := row[n.Tail].(map[string]any)
		sub := *c
		sub.Vars = make(map[string]map[string]any, len(c.Vars)+1)
		for k, v := range c.Vars {
			sub.Vars[k] = v
		}
		sub.Vars[n.Tail] = tailEntity
		ok, err := sub.EvalBool(n.Guard)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
