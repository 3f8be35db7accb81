package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedS1(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.CreateNode("BP_1", "Supplier", map[string]any{"status": "Suspended"})
	s.CreateNode("PO_1", "PurchaseOrder", map[string]any{"status": "Open"})
	s.CreateNode("PO_2", "PurchaseOrder", map[string]any{"status": "Closed"})
	s.CreateEdge("PO_1", "BP_1", "orderedFrom")
	s.CreateEdge("PO_2", "BP_1", "orderedFrom")
	return s
}

func TestStore_MatchWhereReturn(t *testing.T) {
	s := seedS1(t)
	rows, err := s.Run(context.Background(),
		"MATCH (s:Supplier) WHERE s.status == $param_0 RETURN s",
		map[string]any{"param_0": "Suspended"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Suspended", rows[0]["s"].(map[string]any)["status"])
}

func TestStore_MatchWhereInList(t *testing.T) {
	s := seedS1(t)
	rows, err := s.Run(context.Background(),
		"MATCH (s:Supplier) WHERE s.status IN $param_0 RETURN s",
		map[string]any{"param_0": []any{"Expired", "Blacklisted", "Suspended"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestStore_ExistsWithBoundTailVariable(t *testing.T) {
	s := seedS1(t)
	// s.id pins the tail variable to BP_1, the bound outer Supplier; only
	// po rows whose orderedFrom edge actually targets that specific node
	// should survive, matching S1's EXISTS(po -[orderedFrom]-> s) shape.
	rows, err := s.Run(context.Background(),
		"MATCH (po:PurchaseOrder), (s:Supplier) WHERE s.id == $param_0 AND EXISTS((po)-[:orderedFrom]->(s)) AND po.status == $param_1 RETURN po",
		map[string]any{"param_0": "BP_1", "param_1": "Open"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PO_1", rows[0]["po"].(map[string]any)["id"])
}

func TestStore_ExistsGuardFiltersByTailNode(t *testing.T) {
	s := NewStore()
	s.CreateNode("BP_1", "Supplier", map[string]any{"status": "Suspended"})
	s.CreateNode("BP_2", "Supplier", map[string]any{"status": "Active"})
	s.CreateNode("PO_1", "PurchaseOrder", map[string]any{"status": "Open"})
	s.CreateEdge("PO_1", "BP_2", "orderedFrom")

	// PO_1 is ordered from BP_2, not the bound BP_1, so the EXISTS clause
	// must reject it even though a matching relationship/type exists
	// elsewhere in the graph.
	rows, err := s.Run(context.Background(),
		"MATCH (po:PurchaseOrder), (s:Supplier) WHERE s.id == $param_0 AND EXISTS((po)-[:orderedFrom]->(s)) RETURN po",
		map[string]any{"param_0": "BP_1"})
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestStore_Set(t *testing.T) {
	s := seedS1(t)
	_, err := s.Run(context.Background(),
		"MATCH (po:PurchaseOrder) WHERE po.id == $param_0 SET po.status = $param_1",
		map[string]any{"param_0": "PO_1", "param_1": "RiskLocked"})
	require.NoError(t, err)

	props, ok := s.Node("PO_1")
	require.True(t, ok)
	assert.Equal(t, "RiskLocked", props["status"])
}

func TestStore_SetUnknownIDErrors(t *testing.T) {
	s := seedS1(t)
	_, err := s.Run(context.Background(),
		"MATCH (po:PurchaseOrder) WHERE po.id == $param_0 SET po.status = $param_1",
		map[string]any{"param_0": "NOPE", "param_1": "X"})
	require.Error(t, err)
}

func TestStore_NullComparisonInQuery(t *testing.T) {
	s := NewStore()
	s.CreateNode("INC_1", "Incident", map[string]any{"assignee": nil})
	rows, err := s.Run(context.Background(),
		"MATCH (i:Incident) WHERE i.assignee IS NULL RETURN i",
		nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestStore_MatchesOperator(t *testing.T) {
	s := NewStore()
	s.CreateNode("PO_1", "PurchaseOrder", map[string]any{"code": "PO-00123"})
	rows, err := s.Run(context.Background(),
		"MATCH (po:PurchaseOrder) WHERE po.code =~ $param_0 RETURN po",
		map[string]any{"param_0": `PO-\d+`})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestStore_NoMatchReturnsEmpty(t *testing.T) {
	s := seedS1(t)
	rows, err := s.Run(context.Background(),
		"MATCH (s:Supplier) WHERE s.status == $param_0 RETURN s",
		map[string]any{"param_0": "DoesNotExist"})
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestStore_CreateEntityGeneratesUniqueIDs(t *testing.T) {
	s := NewStore()
	id1 := s.CreateEntity("PurchaseOrder", map[string]any{"status": "Open"})
	id2 := s.CreateEntity("PurchaseOrder", map[string]any{"status": "Open"})
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	n1, ok := s.Node(id1)
	require.True(t, ok)
	assert.Equal(t, id1, n1["id"])
	assert.Equal(t, "Open", n1["status"])
}
