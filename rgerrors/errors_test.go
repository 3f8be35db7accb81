package rgerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulegraph/tokens"
)

func TestError_MessageIncludesPositionWhenSet(t *testing.T) {
	pos := tokens.Position{File: "rules.dsl", Line: 3, Column: 5}
	err := Syntax(pos, "unexpected token %q", "FOO")
	assert.Contains(t, err.Error(), "rules.dsl")
	assert.Contains(t, err.Error(), "SyntaxError")
	assert.Contains(t, err.Error(), "FOO")
}

func TestError_MessageOmitsPositionWhenZero(t *testing.T) {
	err := UnknownFunction("NOPE")
	assert.NotContains(t, err.Error(), ":0:")
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := Semantic(tokens.Position{Line: 1}, "dangling variable %q", "x")
	assert.True(t, errors.Is(err, Semantic(tokens.Position{}, "")))
	assert.False(t, errors.Is(err, Syntax(tokens.Position{}, "")))
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := GraphIO(cause)
	assert.ErrorIs(t, err, cause)
}

func TestActionNotFound(t *testing.T) {
	err := ActionNotFound("PurchaseOrder", "Cancel")
	assert.Equal(t, KindActionNotFound, err.Kind)
	assert.Contains(t, err.Error(), "PurchaseOrder.Cancel")
}

func TestPreconditionFailure(t *testing.T) {
	err := PreconditionFailure("already cancelled")
	assert.Equal(t, KindPreconditionFailed, err.Kind)
	assert.Equal(t, "already cancelled", err.Message)
}

func TestCascadeOverflow(t *testing.T) {
	err := CascadeOverflow("SupplierBlocksOpenOrders", "PO_1", 11)
	require.Equal(t, KindCascadeOverflow, err.Kind)
	assert.Contains(t, err.Error(), "PO_1")
}
