// Package query translates a FOR clause plus its guard expression into a
// parameterized graph query, never concatenating a literal value into the
// query text.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"rulegraph/ast"
	"rulegraph/rgerrors"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compiled is a query string plus the parameter values it references by
// name. No value in Params ever appears as a literal inside Text.
type Compiled struct {
	Text   string
	Params map[string]any
}

// BoundVar is an already-bound outer variable contributed by an enclosing
// FOR (or the triggering entity itself), used to emit an identity
// constraint so the translated query only matches that specific node.
type BoundVar struct {
	EntityType string
	ID         string
}

// Translator compiles FOR clauses into queries. It holds no state across
// calls; every Translate starts a fresh parameter counter.
type Translator struct{}

// NewTranslator returns a ready-to-use Translator.
func NewTranslator() *Translator { return &Translator{} }

// TranslateSet compiles a single `SET entityVar.property = value` write
// against the entity identified by entityType/entityID into a parameterized
// query, matching one statement per write per the engine's non-goal of
// multi-statement transactions.
func (tr *Translator) TranslateSet(entityVar, entityType, entityID, property string, value any) (Compiled, error) {
	if !labelPattern.MatchString(entityType) {
		return Compiled{}, rgerrors.Translation("invalid entity type label %q", entityType)
	}
	if !labelPattern.MatchString(property) {
		return Compiled{}, rgerrors.Translation("invalid property name %q", property)
	}
	tx := &translation{params: map[string]any{}}
	idParam := tx.nextParam(entityID)
	valParam := tx.nextParam(value)
	text := fmt.Sprintf("MATCH (%s:%s) WHERE %s.id == $%s SET %s.%s = $%s",
		entityVar, entityType, entityVar, idParam, entityVar, property, valParam)
	return Compiled{Text: text, Params: tx.params}, nil
}

type translation struct {
	params   map[string]any
	paramIdx int
}

func (t *translation) nextParam(value any) string {
	name := fmt.Sprintf("param_%d", t.paramIdx)
	t.paramIdx++
	t.params[name] = value
	return name
}

// Translate compiles for into a query string and parameter map. bound
// supplies the outer variables already resolved by enclosing FORs (keyed by
// variable name); each contributes an `<var>.id == $param_N` constraint.
func (tr *Translator) Translate(forClause *ast.ForStmt, bound map[string]BoundVar) (Compiled, error) {
	if !labelPattern.MatchString(forClause.EntityType) {
		return Compiled{}, rgerrors.Translation("invalid entity type label %q", forClause.EntityType)
	}

	tx := &translation{params: map[string]any{}}

	var clauses []string
	patterns := []string{fmt.Sprintf("(%s:%s)", forClause.Var, forClause.EntityType)}

	names := make([]string, 0, len(bound))
	for name := range bound {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bv := bound[name]
		if !labelPattern.MatchString(bv.EntityType) {
			return Compiled{}, rgerrors.Translation("invalid entity type label %q", bv.EntityType)
		}
		// name == forClause.Var means the loop variable itself is already
		// bound (the rule engine pins the outermost FOR's variable to the
		// triggering entity); only the identity constraint is new, not a
		// second MATCH pattern for the same alias.
		if name != forClause.Var {
			patterns = append(patterns, fmt.Sprintf("(%s:%s)", name, bv.EntityType))
		}
		param := tx.nextParam(bv.ID)
		clauses = append(clauses, fmt.Sprintf("%s.id == $%s", name, param))
	}

	if forClause.Guard != nil {
		guardText, err := tx.translateExpr(forClause.Guard)
		if err != nil {
			return Compiled{}, err
		}
		clauses = append(clauses, guardText)
	}

	var sb strings.Builder
	sb.WriteString("MATCH ")
	sb.WriteString(strings.Join(patterns, ", "))
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	sb.WriteString(fmt.Sprintf(" RETURN %s", forClause.Var))

	return Compiled{Text: sb.String(), Params: tx.params}, nil
}

func (tx *translation) translateExpr(e ast.Expr) (string, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return "$" + tx.nextParam(n.Value), nil

	case *ast.Path:
		return strings.Join(n.Segments, "."), nil

	case *ast.Binary:
		left, err := tx.translateExpr(n.Left)
		if err != nil {
			return "", err
		}
		right, err := tx.translateExpr(n.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", left, n.Op, right), nil

	case *ast.Membership:
		valueText, err := tx.translateExpr(n.Value)
		if err != nil {
			return "", err
		}
		list := make([]any, 0, len(n.List))
		for _, item := range n.List {
			lit, ok := item.(*ast.Literal)
			if !ok {
				return "", rgerrors.Translation("IN list entries must be literals")
			}
			list = append(list, lit.Value)
		}
		param := tx.nextParam(list)
		return fmt.Sprintf("%s IN $%s", valueText, param), nil

	case *ast.NullCheck:
		valueText, err := tx.translateExpr(n.Value)
		if err != nil {
			return "", err
		}
		if n.Negate {
			return valueText + " IS NOT NULL", nil
		}
		return valueText + " IS NULL", nil

	case *ast.StringMatch:
		valueText, err := tx.translateExpr(n.Value)
		if err != nil {
			return "", err
		}
		param := tx.nextParam(n.Pattern)
		return fmt.Sprintf("%s =~ $%s", valueText, param), nil

	case *ast.Logical:
		return tx.translateLogical(n)

	case *ast.Exists:
		return tx.translateExists(n)

	case *ast.Call:
		return "", rgerrors.Translation("function call %q cannot appear in a FOR guard", n.Name)

	case *ast.Changed:
		return "", rgerrors.Translation("CHANGED cannot appear in a FOR guard; it depends on the triggering event's old-value map")

	default:
		return "", rgerrors.Translation("expression of type %T cannot be translated", e)
	}
}

func (tx *translation) translateLogical(n *ast.Logical) (string, error) {
	switch n.Op {
	case ast.LogicalNot:
		inner, err := tx.translateExpr(n.Operands[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	case ast.LogicalAnd, ast.LogicalOr:
		op := "AND"
		if n.Op == ast.LogicalOr {
			op = "OR"
		}
		parts := make([]string, 0, len(n.Operands))
		for _, operand := range n.Operands {
			text, err := tx.translateExpr(operand)
			if err != nil {
				return "", err
			}
			if _, isLogical := operand.(*ast.Logical); isLogical {
				text = "(" + text + ")"
			}
			parts = append(parts, text)
		}
		return strings.Join(parts, " "+op+" "), nil

	default:
		return "", rgerrors.Translation("unknown logical operator %q", n.Op)
	}
}

func (tx *translation) translateExists(n *ast.Exists) (string, error) {
	if !labelPattern.MatchString(n.Rel) {
		return "", rgerrors.Translation("invalid relationship label %q", n.Rel)
	}
	pattern := fmt.Sprintf("(%s)-[:%s]->(%s)", n.Head, n.Rel, n.Tail)
	if n.Guard == nil {
		return fmt.Sprintf("EXISTS(%s)", pattern), nil
	}
	guardText, err := tx.translateExpr(n.Guard)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS(%s WHERE %s)", pattern, guardText), nil
}
