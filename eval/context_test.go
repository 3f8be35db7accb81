package eval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulegraph/ast"
)

func path(segments ...string) *ast.Path {
	return &ast.Path{Segments: segments}
}

func lit(v any) *ast.Literal {
	return &ast.Literal{Value: v}
}

func TestContext_ResolvePath(t *testing.T) {
	c := &Context{
		This: map[string]any{"status": "Open", "id": "PO_1"},
		Vars: map[string]map[string]any{
			"this": {"status": "Open", "id": "PO_1"},
			"s":    {"status": "Active", "id": "BP_1"},
		},
	}

	v, err := c.Eval(path("this", "status"))
	require.NoError(t, err)
	assert.Equal(t, "Open", v)

	v, err = c.Eval(path("s", "status"))
	require.NoError(t, err)
	assert.Equal(t, "Active", v)

	v, err = c.Eval(path("unbound", "x"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestContext_NullComparisonCollapse(t *testing.T) {
	c := &Context{}

	// null == null -> true
	v, err := c.Eval(&ast.Binary{Op: "==", Left: lit(nil), Right: lit(nil)})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// any other comparison against null -> false
	v, err = c.Eval(&ast.Binary{Op: "<", Left: lit(nil), Right: lit(5.0)})
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = c.Eval(&ast.Binary{Op: "!=", Left: lit(nil), Right: lit(5.0)})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_NumericCoercion(t *testing.T) {
	c := &Context{}
	v, err := c.Eval(&ast.Binary{Op: "==", Left: lit(float64(3)), Right: lit(float64(3))})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Eval(&ast.Binary{Op: "<", Left: lit(float64(2)), Right: lit(float64(10))})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestContext_StringComparisonIsByteWise(t *testing.T) {
	c := &Context{}
	v, err := c.Eval(&ast.Binary{Op: "<", Left: lit("Apple"), Right: lit("apple")})
	require.NoError(t, err)
	assert.Equal(t, true, v, "uppercase bytes sort before lowercase")
}

func TestContext_MixedTypeOrderingIsFalse(t *testing.T) {
	c := &Context{}
	v, err := c.Eval(&ast.Binary{Op: "<", Left: lit("5"), Right: lit(float64(10))})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_Membership(t *testing.T) {
	c := &Context{This: map[string]any{"status": "Suspended"}}
	m := &ast.Membership{
		Value: path("this", "status"),
		List:  []ast.Expr{lit("Expired"), lit("Blacklisted"), lit("Suspended")},
	}
	v, err := c.Eval(m)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	c.This["status"] = "Active"
	v, err = c.Eval(m)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_MembershipNullValueIsFalse(t *testing.T) {
	c := &Context{This: map[string]any{}}
	m := &ast.Membership{Value: path("this", "missing"), List: []ast.Expr{lit("x")}}
	v, err := c.Eval(m)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_NullCheck(t *testing.T) {
	c := &Context{This: map[string]any{"assignee": nil}}
	v, err := c.Eval(&ast.NullCheck{Value: path("this", "assignee")})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Eval(&ast.NullCheck{Value: path("this", "assignee"), Negate: true})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_ChangedNoClause(t *testing.T) {
	c := &Context{TriggerProperty: "status", OldValue: "Active", NewValue: "Suspended"}
	v, err := c.Eval(&ast.Changed{Property: "status"})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	c.NewValue = "Active"
	v, err = c.Eval(&ast.Changed{Property: "status"})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_ChangedFromTo(t *testing.T) {
	c := &Context{TriggerProperty: "status", OldValue: "Active", NewValue: "Suspended"}
	v, err := c.Eval(&ast.Changed{Property: "status", From: lit("Active"), To: lit("Suspended")})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Eval(&ast.Changed{Property: "status", From: lit("Active"), To: lit("Blacklisted")})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_ChangedOnNonTriggeringPropertyIsFalse(t *testing.T) {
	c := &Context{TriggerProperty: "status", OldValue: "Active", NewValue: "Suspended"}
	v, err := c.Eval(&ast.Changed{Property: "priority"})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_StringMatch(t *testing.T) {
	c := &Context{This: map[string]any{"code": "PO-00123"}}
	v, err := c.Eval(&ast.StringMatch{Value: path("this", "code"), Pattern: `PO-\d+`})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Eval(&ast.StringMatch{Value: path("this", "code"), Pattern: `INC-\d+`})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestContext_UnknownFunction(t *testing.T) {
	c := &Context{}
	_, err := c.Eval(&ast.Call{Name: "NOPE"})
	require.Error(t, err)
}

func TestContext_NowIsFrozen(t *testing.T) {
	frozen := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	c := &Context{Now: frozen}
	v, err := c.Eval(&ast.Call{Name: "NOW"})
	require.NoError(t, err)
	assert.Equal(t, frozen, v)
}

func TestContext_BuiltinsConcatUpperLowerLength(t *testing.T) {
	c := &Context{}
	v, err := c.Eval(&ast.Call{Name: "CONCAT", Args: []ast.Expr{lit("a"), lit("b"), lit(float64(1))}})
	require.NoError(t, err)
	assert.Equal(t, "ab1", v)

	v, err = c.Eval(&ast.Call{Name: "UPPER", Args: []ast.Expr{lit("abc")}})
	require.NoError(t, err)
	assert.Equal(t, "ABC", v)

	v, err = c.Eval(&ast.Call{Name: "LOWER", Args: []ast.Expr{lit(nil)}})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = c.Eval(&ast.Call{Name: "LENGTH", Args: []ast.Expr{lit(nil)}})
	require.NoError(t, err)
	assert.Equal(t, float64(0), v)
}

func TestContext_BuiltinsAbsRoundMinMax(t *testing.T) {
	c := &Context{}
	v, err := c.Eval(&ast.Call{Name: "ABS", Args: []ast.Expr{lit(float64(-4))}})
	require.NoError(t, err)
	assert.Equal(t, float64(4), v)

	v, err = c.Eval(&ast.Call{Name: "ROUND", Args: []ast.Expr{lit(float64(4.6))}})
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)

	v, err = c.Eval(&ast.Call{Name: "MIN", Args: []ast.Expr{lit(float64(3)), lit(float64(8))}})
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)

	v, err = c.Eval(&ast.Call{Name: "MAX", Args: []ast.Expr{lit(float64(3)), lit(float64(8))}})
	require.NoError(t, err)
	assert.Equal(t, float64(8), v)
}

func TestContext_BuiltinDaysHours(t *testing.T) {
	c := &Context{}
	v, err := c.Eval(&ast.Call{Name: "DAYS", Args: []ast.Expr{lit(float64(2))}})
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, v)

	v, err = c.Eval(&ast.Call{Name: "HOURS", Args: []ast.Expr{lit(float64(3))}})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, v)
}

func TestCompareExported(t *testing.T) {
	ok, err := Compare("==", float64(3), float64(3))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compare("==", nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEqualAnyAndElementIn(t *testing.T) {
	assert.True(t, EqualAny(float64(1), float64(1)))
	assert.False(t, EqualAny(nil, float64(1)))

	assert.True(t, ElementIn("b", []any{"a", "b", "c"}))
	assert.False(t, ElementIn(nil, []any{"a", "b", "c"}))
}
