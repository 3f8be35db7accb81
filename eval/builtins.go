package eval

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"rulegraph/ast"
	"rulegraph/rgerrors"
)

// Func is a built-in function's implementation.
type Func func(c *Context, args []any) (any, error)

// Builtins is the complete built-in function table (§4.4).
var Builtins = map[string]Func{
	"NOW":    builtinNow,
	"DATE":   builtinDate,
	"DAYS":   builtinDays,
	"HOURS":  builtinHours,
	"CONCAT": builtinConcat,
	"UPPER":  builtinUpper,
	"LOWER":  builtinLower,
	"LENGTH": builtinLength,
	"ABS":    builtinAbs,
	"ROUND":  builtinRound,
	"MIN":    builtinMin,
	"MAX":    builtinMax,
}

func (c *Context) evalCall(n *ast.Call) (any, error) {
	fn, ok := Builtins[n.Name]
	if !ok {
		return nil, rgerrors.UnknownFunction(n.Name)
	}
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := c.Eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(c, args)
}

func builtinNow(c *Context, args []any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("NOW takes no arguments")
	}
	return c.Now, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func builtinDate(c *Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("DATE takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("DATE argument must be a string")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("DATE: could not parse %q as ISO-8601", s)
}

func builtinDays(c *Context, args []any) (any, error) {
	n, err := requireOneNumber("DAYS", args)
	if err != nil {
		return nil, err
	}
	return time.Duration(n * float64(24*time.Hour)), nil
}

func builtinHours(c *Context, args []any) (any, error) {
	n, err := requireOneNumber("HOURS", args)
	if err != nil {
		return nil, err
	}
	return time.Duration(n * float64(time.Hour)), nil
}

func requireOneNumber(name string, args []any) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s takes exactly one argument", name)
	}
	n, ok := toNumber(args[0])
	if !ok {
		return 0, fmt.Errorf("%s argument must be a number", name)
	}
	return n, nil
}

func builtinConcat(c *Context, args []any) (any, error) {
	var b []byte
	for _, a := range args {
		b = append(b, stringify(a)...)
	}
	return string(b), nil
}

func builtinUpper(c *Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("UPPER takes exactly one argument")
	}
	if args[0] == nil {
		return nil, nil
	}
	return strings.ToUpper(stringify(args[0])), nil
}

func builtinLower(c *Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("LOWER takes exactly one argument")
	}
	if args[0] == nil {
		return nil, nil
	}
	return strings.ToLower(stringify(args[0])), nil
}

func builtinLength(c *Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("LENGTH takes exactly one argument")
	}
	if args[0] == nil {
		return float64(0), nil
	}
	return float64(utf8.RuneCountInString(stringify(args[0]))), nil
}

func builtinAbs(c *Context, args []any) (any, error) {
	n, err := requireOneNumber("ABS", args)
	if err != nil {
		return nil, err
	}
	return math.Abs(n), nil
}

func builtinRound(c *Context, args []any) (any, error) {
	n, err := requireOneNumber("ROUND", args)
	if err != nil {
		return nil, err
	}
	return math.Round(n), nil
}

func requireTwoNumbers(name string, args []any) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%s takes exactly two arguments", name)
	}
	a, ok := toNumber(args[0])
	if !ok {
		return 0, 0, fmt.Errorf("%s arguments must be numbers", name)
	}
	b, ok := toNumber(args[1])
	if !ok {
		return 0, 0, fmt.Errorf("%s arguments must be numbers", name)
	}
	return a, b, nil
}

func builtinMin(c *Context, args []any) (any, error) {
	a, b, err := requireTwoNumbers("MIN", args)
	if err != nil {
		return nil, err
	}
	return math.Min(a, b), nil
}

func builtinMax(c *Context, args []any) (any, error) {
	a, b, err := requireTwoNumbers("MAX", args)
	if err != nil {
		return nil, err
	}
	return math.Max(a, b), nil
}
