package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulegraph/tokens"
)

func allTokens(src string) []tokens.Token {
	l := NewFromString(src, "test.dsl")
	var out []tokens.Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Kind == tokens.EOF {
			return out
		}
	}
}

func kinds(toks []tokens.Token) []tokens.Kind {
	out := make([]tokens.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexer_Keywords(t *testing.T) {
	toks := allTokens(`RULE ACTION ON UPDATE FOR WHERE SET TRIGGER IN IS NOT NULL AND OR CHANGED FROM TO this`)
	got := kinds(toks)
	want := []tokens.Kind{
		tokens.KeywordRule, tokens.KeywordAction, tokens.KeywordOn, tokens.KeywordUpdate,
		tokens.KeywordFor, tokens.KeywordWhere, tokens.KeywordSet, tokens.KeywordTrigger,
		tokens.KeywordIn, tokens.KeywordIs, tokens.KeywordNot, tokens.KeywordNull,
		tokens.KeywordAnd, tokens.KeywordOr, tokens.KeywordChanged, tokens.KeywordFrom, tokens.KeywordTo,
		tokens.KeywordThis, tokens.EOF,
	}
	require.Len(t, got, len(want))
	assert.Equal(t, want, got)
}

func TestLexer_PlainIdentifierIsNotAKeyword(t *testing.T) {
	toks := allTokens(`supplierStatus`)
	require.Len(t, toks, 2)
	assert.Equal(t, tokens.Ident, toks[0].Kind)
	assert.Equal(t, "supplierStatus", toks[0].Literal)
}

func TestLexer_StringLiteral(t *testing.T) {
	toks := allTokens(`"Open"`)
	require.Len(t, toks, 2)
	assert.Equal(t, tokens.String, toks[0].Kind)
	assert.Equal(t, "Open", toks[0].Literal)
}

func TestLexer_NumberLiterals(t *testing.T) {
	toks := allTokens(`42 3.14`)
	require.Len(t, toks, 3)
	assert.Equal(t, tokens.Int, toks[0].Kind)
	assert.Equal(t, "42", toks[0].Literal)
	assert.Equal(t, tokens.Float, toks[1].Kind)
	assert.Equal(t, "3.14", toks[1].Literal)
}

func TestLexer_Operators(t *testing.T) {
	toks := allTokens(`== != <= >= < > -> =`)
	got := kinds(toks)
	want := []tokens.Kind{
		tokens.OpEq, tokens.OpNeq, tokens.OpLte, tokens.OpGte, tokens.OpLt, tokens.OpGt,
		tokens.OpArrow, tokens.OpAssign, tokens.EOF,
	}
	assert.Equal(t, want, got)
}

func TestLexer_LineCommentsAreSkipped(t *testing.T) {
	toks := allTokens("RULE // this is a comment\nACTION")
	got := kinds(toks)
	assert.Equal(t, []tokens.Kind{tokens.KeywordRule, tokens.KeywordAction, tokens.EOF}, got)
}

func TestLexer_PositionsTrackLineAndColumn(t *testing.T) {
	toks := allTokens("RULE\nACTION")
	require.Len(t, toks, 3)
	assert.Equal(t, 1, toks[0].Position.Line)
	assert.Equal(t, 2, toks[1].Position.Line)
}

func TestLexer_EOFIsPerpetual(t *testing.T) {
	l := NewFromString("", "empty.dsl")
	first := l.Next()
	second := l.Next()
	assert.Equal(t, tokens.EOF, first.Kind)
	assert.Equal(t, tokens.EOF, second.Kind)
}
