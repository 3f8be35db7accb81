package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulegraph/ast"
)

func lit(v any) *ast.Literal { return &ast.Literal{Value: v} }
func path(segs ...string) *ast.Path { return &ast.Path{Segments: segs} }

func TestTranslate_SimpleGuard(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "s",
		EntityType: "Supplier",
		Guard: &ast.Binary{
			Op:    "==",
			Left:  path("s", "status"),
			Right: lit("Active"),
		},
	}
	compiled, err := tr.Translate(forClause, nil)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (s:Supplier) WHERE s.status == $param_0 RETURN s", compiled.Text)
	assert.Equal(t, map[string]any{"param_0": "Active"}, compiled.Params)
}

func TestTranslate_BoundOuterVariable(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "po",
		EntityType: "PurchaseOrder",
		Guard: &ast.Binary{
			Op:    "==",
			Left:  path("po", "status"),
			Right: lit("Open"),
		},
	}
	bound := map[string]BoundVar{"s": {EntityType: "Supplier", ID: "BP_1"}}
	compiled, err := tr.Translate(forClause, bound)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (po:PurchaseOrder), (s:Supplier) WHERE s.id == $param_0 AND po.status == $param_1 RETURN po", compiled.Text)
	assert.Equal(t, "BP_1", compiled.Params["param_0"])
	assert.Equal(t, "Open", compiled.Params["param_1"])
}

func TestTranslate_OuterVarSameAsLoopVarAddsNoSecondPattern(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{Var: "s", EntityType: "Supplier"}
	bound := map[string]BoundVar{"s": {EntityType: "Supplier", ID: "BP_1"}}
	compiled, err := tr.Translate(forClause, bound)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (s:Supplier) WHERE s.id == $param_0 RETURN s", compiled.Text)
}

func TestTranslate_MembershipGuard(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "s",
		EntityType: "Supplier",
		Guard: &ast.Membership{
			Value: path("s", "status"),
			List:  []ast.Expr{lit("Expired"), lit("Blacklisted"), lit("Suspended")},
		},
	}
	compiled, err := tr.Translate(forClause, nil)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (s:Supplier) WHERE s.status IN $param_0 RETURN s", compiled.Text)
	assert.Equal(t, []any{"Expired", "Blacklisted", "Suspended"}, compiled.Params["param_0"])
}

func TestTranslate_ExistsGuard(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "po",
		EntityType: "PurchaseOrder",
		Guard: &ast.Logical{
			Op: ast.LogicalAnd,
			Operands: []ast.Expr{
				&ast.Exists{Head: "po", Rel: "orderedFrom", Tail: "s"},
				&ast.Binary{Op: "==", Left: path("po", "status"), Right: lit("Open")},
			},
		},
	}
	compiled, err := tr.Translate(forClause, map[string]BoundVar{"s": {EntityType: "Supplier", ID: "BP_1"}})
	require.NoError(t, err)
	assert.Contains(t, compiled.Text, "EXISTS((po)-[:orderedFrom]->(s))")
	assert.Contains(t, compiled.Text, "po.status == $param_1")
}

func TestTranslate_RejectsInvalidEntityLabel(t *testing.T) {
	tr := NewTranslator()
	_, err := tr.Translate(&ast.ForStmt{Var: "s", EntityType: "bad label"}, nil)
	require.Error(t, err)
}

func TestTranslate_RejectsFunctionCallInGuard(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "s",
		EntityType: "Supplier",
		Guard:      &ast.Call{Name: "NOW"},
	}
	_, err := tr.Translate(forClause, nil)
	require.Error(t, err)
}

func TestTranslate_RejectsChangedInGuard(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "s",
		EntityType: "Supplier",
		Guard:      &ast.Changed{Property: "status"},
	}
	_, err := tr.Translate(forClause, nil)
	require.Error(t, err)
}

func TestTranslate_FreshParamCounterPerCall(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "s",
		EntityType: "Supplier",
		Guard: &ast.Binary{
			Op:    "==",
			Left:  path("s", "status"),
			Right: lit("Active"),
		},
	}
	first, err := tr.Translate(forClause, nil)
	require.NoError(t, err)
	second, err := tr.Translate(forClause, nil)
	require.NoError(t, err)

	// Every Translate call starts a fresh param_0 counter: two independent
	// calls with the same shape must not leak shared counter state.
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Params, second.Params)
}

func TestTranslateSet(t *testing.T) {
	tr := NewTranslator()
	compiled, err := tr.TranslateSet("po", "PurchaseOrder", "PO_1", "status", "RiskLocked")
	require.NoError(t, err)
	assert.Equal(t, "MATCH (po:PurchaseOrder) WHERE po.id == $param_0 SET po.status = $param_1", compiled.Text)
	assert.Equal(t, "PO_1", compiled.Params["param_0"])
	assert.Equal(t, "RiskLocked", compiled.Params["param_1"])
}

func TestTranslateSet_RejectsInvalidPropertyName(t *testing.T) {
	tr := NewTranslator()
	_, err := tr.TranslateSet("po", "PurchaseOrder", "PO_1", "bad name", "x")
	require.Error(t, err)
}

func TestTranslate_NoLiteralValueEverAppearsInQueryText(t *testing.T) {
	tr := NewTranslator()
	forClause := &ast.ForStmt{
		Var:        "s",
		EntityType: "Supplier",
		Guard: &ast.Binary{
			Op:    "==",
			Left:  path("s", "status"),
			Right: lit("TotallyUniqueLiteralValue"),
		},
	}
	compiled, err := tr.Translate(forClause, nil)
	require.NoError(t, err)
	assert.NotContains(t, compiled.Text, "TotallyUniqueLiteralValue")
}
