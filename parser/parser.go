// Package parser turns Action/Rule DSL text into an []ast.Decl, per the
// grammar in the engine spec §4.1. It never returns a partial AST: on error
// the returned slice is always nil.
package parser

import (
	"fmt"
	"os"
	"strconv"

	"rulegraph/ast"
	"rulegraph/lexer"
	"rulegraph/rgerrors"
	"rulegraph/tokens"
)

// Parser is a hand-written recursive-descent parser over a token stream
// produced by lexer.Lexer. One Parser parses exactly one source unit.
type Parser struct {
	lex *lexer.Lexer
	cur tokens.Token
	nxt tokens.Token

	actionNames map[string]bool // "<type>.<name>" seen so far, for invariant (a)
	ruleNames   map[string]bool // rule names seen so far, for invariant (b)
	scopes      []map[string]bool
}

// Parse parses DSL source text into a list of ActionDef/RuleDef declarations.
func Parse(text string) ([]ast.Decl, error) {
	return ParseNamed(text, "")
}

// ParseNamed is like Parse but attaches file to every reported position.
func ParseNamed(text, file string) ([]ast.Decl, error) {
	p := newParser(lexer.NewFromString(text, file))
	return p.parseUnit()
}

// ParseFile reads path and parses it as DSL source.
func ParseFile(path string) ([]ast.Decl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DSL file: %w", err)
	}
	return ParseNamed(string(data), path)
}

func newParser(l *lexer.Lexer) *Parser {
	p := &Parser{
		lex:         l,
		actionNames: map[string]bool{},
		ruleNames:   map[string]bool{},
	}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.nxt
	p.nxt = p.lex.Next()
}

func (p *Parser) at(k tokens.Kind) bool { return p.cur.Kind == k }

func (p *Parser) expect(k tokens.Kind) (tokens.Token, error) {
	if p.cur.Kind != k {
		return tokens.Token{}, rgerrors.Syntax(p.cur.Position, "expected %s, got %s %q", k, p.cur.Kind, p.cur.Literal)
	}
	t := p.cur
	p.advance()
	return t, nil
}

// ---- scope tracking for dangling-variable detection ----

func (p *Parser) pushScope(vars ...string) {
	scope := map[string]bool{}
	for _, v := range vars {
		scope[v] = true
	}
	p.scopes = append(p.scopes, scope)
}

func (p *Parser) popScope() {
	p.scopes = p.scopes[:len(p.scopes)-1]
}

func (p *Parser) isBound(name string) bool {
	if name == "this" {
		return true
	}
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if p.scopes[i][name] {
			return true
		}
	}
	return false
}

func (p *Parser) requireBound(name string, pos tokens.Position) error {
	if !p.isBound(name) {
		return rgerrors.Semantic(pos, "dangling variable %q is not bound by an enclosing FOR", name)
	}
	return nil
}

// ---- top level ----

func (p *Parser) parseUnit() ([]ast.Decl, error) {
	var decls []ast.Decl
	for !p.at(tokens.EOF) {
		var (
			d   ast.Decl
			err error
		)
		switch p.cur.Kind {
		case tokens.KeywordAction:
			d, err = p.parseActionDef()
		case tokens.KeywordRule:
			d, err = p.parseRuleDef()
		default:
			err = rgerrors.Syntax(p.cur.Position, "expected ACTION or RULE, got %s %q", p.cur.Kind, p.cur.Literal)
		}
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
	return decls, nil
}

func (p *Parser) parseActionDef() (*ast.ActionDef, error) {
	pos := p.cur.Position
	if _, err := p.expect(tokens.KeywordAction); err != nil {
		return nil, err
	}
	entityType, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.Dot); err != nil {
		return nil, err
	}
	name, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}

	key := entityType.Literal + "." + name.Literal
	if p.actionNames[key] {
		return nil, rgerrors.Semantic(pos, "duplicate action %s", key)
	}
	p.actionNames[key] = true

	var params []ast.Param
	if p.at(tokens.LParen) {
		params, err = p.parseParamList()
		if err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(tokens.LBrace); err != nil {
		return nil, err
	}

	paramNames := make([]string, len(params))
	for i, param := range params {
		paramNames[i] = param.Name
	}
	p.pushScope(paramNames...)
	defer p.popScope()

	var preconditions []ast.Precondition
	for p.at(tokens.KeywordPrecondition) {
		pc, err := p.parsePrecondition()
		if err != nil {
			return nil, err
		}
		preconditions = append(preconditions, pc)
	}
	if len(preconditions) == 0 {
		return nil, rgerrors.Syntax(p.cur.Position, "action %s must declare at least one PRECONDITION", key)
	}

	var effect []ast.Stmt
	if p.at(tokens.KeywordEffect) {
		effect, err = p.parseEffect()
		if err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(tokens.RBrace); err != nil {
		return nil, err
	}

	return &ast.ActionDef{
		Base:          ast.Base{Pos: pos},
		EntityType:    entityType.Literal,
		Name:          name.Literal,
		Params:        params,
		Preconditions: preconditions,
		Effect:        effect,
	}, nil
}

func (p *Parser) parseParamList() ([]ast.Param, error) {
	if _, err := p.expect(tokens.LParen); err != nil {
		return nil, err
	}
	var params []ast.Param
	for !p.at(tokens.RParen) {
		name, err := p.expect(tokens.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokens.Colon); err != nil {
			return nil, err
		}
		typ, err := p.expect(tokens.Ident)
		if err != nil {
			return nil, err
		}
		optional := false
		if p.at(tokens.QuestionMark) {
			optional = true
			p.advance()
		}
		params = append(params, ast.Param{Name: name.Literal, Type: typ.Literal, Optional: optional})
		if p.at(tokens.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokens.RParen); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parsePrecondition() (ast.Precondition, error) {
	if _, err := p.expect(tokens.KeywordPrecondition); err != nil {
		return ast.Precondition{}, err
	}
	label := ""
	if p.at(tokens.Ident) {
		label = p.cur.Literal
		p.advance()
	}
	if _, err := p.expect(tokens.Colon); err != nil {
		return ast.Precondition{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return ast.Precondition{}, err
	}
	if _, err := p.expect(tokens.KeywordOnFailure); err != nil {
		return ast.Precondition{}, err
	}
	if _, err := p.expect(tokens.Colon); err != nil {
		return ast.Precondition{}, err
	}
	msg, err := p.expect(tokens.String)
	if err != nil {
		return ast.Precondition{}, err
	}
	return ast.Precondition{Label: label, Condition: cond, OnFailure: msg.Literal}, nil
}

func (p *Parser) parseEffect() ([]ast.Stmt, error) {
	if _, err := p.expect(tokens.KeywordEffect); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.LBrace); err != nil {
		return nil, err
	}
	stmts, err := p.parseStmtsUntil(tokens.RBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.RBrace); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseRuleDef() (*ast.RuleDef, error) {
	pos := p.cur.Position
	if _, err := p.expect(tokens.KeywordRule); err != nil {
		return nil, err
	}
	name, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}
	if p.ruleNames[name.Literal] {
		return nil, rgerrors.Semantic(pos, "duplicate rule %s", name.Literal)
	}
	p.ruleNames[name.Literal] = true

	priority := 0
	if p.at(tokens.KeywordPriority) {
		p.advance()
		tok, err := p.expect(tokens.Int)
		if err != nil {
			return nil, err
		}
		priority, _ = strconv.Atoi(tok.Literal)
	}

	if _, err := p.expect(tokens.LBrace); err != nil {
		return nil, err
	}

	trigger, err := p.parseTrigger()
	if err != nil {
		return nil, err
	}

	body, err := p.parseForClause()
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokens.RBrace); err != nil {
		return nil, err
	}

	return &ast.RuleDef{Base: ast.Base{Pos: pos}, Name: name.Literal, Priority: priority, Trigger: trigger, Body: body}, nil
}

var triggerKinds = map[tokens.Kind]ast.TriggerKind{
	tokens.KeywordUpdate: ast.TriggerUpdate,
	tokens.KeywordCreate: ast.TriggerCreate,
	tokens.KeywordDelete: ast.TriggerDelete,
	tokens.KeywordLink:   ast.TriggerLink,
	tokens.KeywordScan:   ast.TriggerScan,
}

func (p *Parser) parseTrigger() (ast.Trigger, error) {
	pos := p.cur.Position
	if _, err := p.expect(tokens.KeywordOn); err != nil {
		return ast.Trigger{}, err
	}
	kind, ok := triggerKinds[p.cur.Kind]
	if !ok {
		return ast.Trigger{}, rgerrors.Syntax(p.cur.Position, "expected a trigger kind (UPDATE|CREATE|DELETE|LINK|SCAN), got %s", p.cur.Kind)
	}
	p.advance()
	if _, err := p.expect(tokens.LParen); err != nil {
		return ast.Trigger{}, err
	}
	entityType, err := p.expect(tokens.Ident)
	if err != nil {
		return ast.Trigger{}, err
	}
	property := ""
	if p.at(tokens.Dot) {
		p.advance()
		prop, err := p.expect(tokens.Ident)
		if err != nil {
			return ast.Trigger{}, err
		}
		property = prop.Literal
	}
	if _, err := p.expect(tokens.RParen); err != nil {
		return ast.Trigger{}, err
	}

	if kind == ast.TriggerUpdate && property == "" {
		return ast.Trigger{}, rgerrors.Semantic(pos, "UPDATE trigger requires a property: ON UPDATE(%s.property)", entityType.Literal)
	}
	if kind != ast.TriggerUpdate && property != "" {
		return ast.Trigger{}, rgerrors.Semantic(pos, "trigger %s does not take a property", kind)
	}

	return ast.Trigger{Kind: kind, EntityType: entityType.Literal, Property: property}, nil
}

func (p *Parser) parseForClause() (*ast.ForStmt, error) {
	pos := p.cur.Position
	if _, err := p.expect(tokens.KeywordFor); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.LParen); err != nil {
		return nil, err
	}
	v, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.Colon); err != nil {
		return nil, err
	}
	entityType, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}

	p.pushScope(v.Literal)
	defer p.popScope()

	var guard ast.Expr
	if p.at(tokens.KeywordWhere) {
		p.advance()
		guard, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokens.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.LBrace); err != nil {
		return nil, err
	}
	body, err := p.parseStmtsUntil(tokens.RBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.RBrace); err != nil {
		return nil, err
	}

	return &ast.ForStmt{Base: ast.Base{Pos: pos}, Var: v.Literal, EntityType: entityType.Literal, Guard: guard, Body: body}, nil
}

func (p *Parser) parseStmtsUntil(end tokens.Kind) ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for !p.at(end) {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *Parser) parseStmt() (ast.Stmt, error) {
	switch p.cur.Kind {
	case tokens.KeywordSet:
		return p.parseSetStmt()
	case tokens.KeywordTrigger:
		return p.parseTriggerStmt()
	case tokens.KeywordFor:
		return p.parseForClause()
	default:
		return nil, rgerrors.Syntax(p.cur.Position, "expected SET, TRIGGER, or FOR, got %s %q", p.cur.Kind, p.cur.Literal)
	}
}

func (p *Parser) parseSetStmt() (*ast.SetStmt, error) {
	pos := p.cur.Position
	if _, err := p.expect(tokens.KeywordSet); err != nil {
		return nil, err
	}
	target, err := p.parsePathExpr()
	if err != nil {
		return nil, err
	}
	if err := p.requireBound(target.Segments[0], pos); err != nil {
		return nil, err
	}
	if len(target.Segments) != 2 {
		return nil, rgerrors.Semantic(pos, "SET target must be <var>.<property>, got %q", target.Segments[0])
	}
	if _, err := p.expect(tokens.OpAssign); err != nil {
		return nil, err
	}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.Semicolon); err != nil {
		return nil, err
	}
	return &ast.SetStmt{Base: ast.Base{Pos: pos}, Target: target, Value: value}, nil
}

func (p *Parser) parseTriggerStmt() (*ast.TriggerStmt, error) {
	pos := p.cur.Position
	if _, err := p.expect(tokens.KeywordTrigger); err != nil {
		return nil, err
	}
	entityType, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.Dot); err != nil {
		return nil, err
	}
	name, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.KeywordOn); err != nil {
		return nil, err
	}
	var v tokens.Token
	if p.at(tokens.KeywordThis) {
		v = p.cur
		p.advance()
	} else {
		v, err = p.expect(tokens.Ident)
		if err != nil {
			return nil, err
		}
	}
	if err := p.requireBound(v.Literal, pos); err != nil {
		return nil, err
	}
	var args map[string]ast.Expr
	if p.at(tokens.KeywordWith) {
		p.advance()
		args, err = p.parseObject()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokens.Semicolon); err != nil {
		return nil, err
	}
	return &ast.TriggerStmt{Base: ast.Base{Pos: pos}, EntityType: entityType.Literal, ActionName: name.Literal, Var: v.Literal, Args: args}, nil
}

func (p *Parser) parseObject() (map[string]ast.Expr, error) {
	if _, err := p.expect(tokens.LBrace); err != nil {
		return nil, err
	}
	obj := map[string]ast.Expr{}
	for !p.at(tokens.RBrace) {
		key, err := p.expect(tokens.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokens.Colon); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		obj[key.Literal] = val
		if p.at(tokens.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokens.RBrace); err != nil {
		return nil, err
	}
	return obj, nil
}

