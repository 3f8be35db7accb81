package parser

import (
	"strconv"

	"rulegraph/ast"
	"rulegraph/rgerrors"
	"rulegraph/tokens"
)

// parseExpr is the entry point: disjunction over conjunction over (NOT? comparison).
func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.at(tokens.KeywordOr) {
		return left, nil
	}
	operands := []ast.Expr{left}
	pos := left.Position()
	for p.at(tokens.KeywordOr) {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	return &ast.Logical{Base: ast.Base{Pos: pos}, Op: ast.LogicalOr, Operands: operands}, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if !p.at(tokens.KeywordAnd) {
		return left, nil
	}
	operands := []ast.Expr{left}
	pos := left.Position()
	for p.at(tokens.KeywordAnd) {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	return &ast.Logical{Base: ast.Base{Pos: pos}, Op: ast.LogicalAnd, Operands: operands}, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.at(tokens.KeywordNot) {
		pos := p.cur.Position
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Logical{Base: ast.Base{Pos: pos}, Op: ast.LogicalNot, Operands: []ast.Expr{operand}}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	if p.at(tokens.KeywordExists) {
		return p.parseExists()
	}

	term, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	pos := term.Position()

	switch p.cur.Kind {
	case tokens.OpEq, tokens.OpNeq, tokens.OpLt, tokens.OpGt, tokens.OpLte, tokens.OpGte:
		op := string(p.cur.Kind)
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &ast.Binary{Base: ast.Base{Pos: pos}, Op: op, Left: term, Right: right}, nil

	case tokens.KeywordIn:
		p.advance()
		list, err := p.parseLiteralList()
		if err != nil {
			return nil, err
		}
		return &ast.Membership{Base: ast.Base{Pos: pos}, Value: term, List: list}, nil

	case tokens.KeywordIs:
		p.advance()
		negate := false
		if p.at(tokens.KeywordNot) {
			negate = true
			p.advance()
		}
		if _, err := p.expect(tokens.KeywordNull); err != nil {
			return nil, err
		}
		return &ast.NullCheck{Base: ast.Base{Pos: pos}, Value: term, Negate: negate}, nil

	case tokens.KeywordMatches:
		p.advance()
		pat, err := p.expect(tokens.String)
		if err != nil {
			return nil, err
		}
		return &ast.StringMatch{Base: ast.Base{Pos: pos}, Value: term, Pattern: pat.Literal}, nil

	case tokens.KeywordChanged:
		p.advance()
		property, err := pathToProperty(term, pos)
		if err != nil {
			return nil, err
		}
		var from, to ast.Expr
		if p.at(tokens.KeywordFrom) {
			p.advance()
			from, err = p.parseLiteralExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokens.KeywordTo); err != nil {
				return nil, err
			}
			to, err = p.parseLiteralExpr()
			if err != nil {
				return nil, err
			}
		}
		return &ast.Changed{Base: ast.Base{Pos: pos}, Property: property, From: from, To: to}, nil

	default:
		return term, nil
	}
}

// pathToProperty extracts the property name CHANGED applies to: the last
// segment of a this.X / v.X path.
func pathToProperty(e ast.Expr, pos tokens.Position) (string, error) {
	path, ok := e.(*ast.Path)
	if !ok || len(path.Segments) < 2 {
		return "", rgerrors.Syntax(pos, "CHANGED must follow a property path such as this.status")
	}
	return path.Segments[len(path.Segments)-1], nil
}

func (p *Parser) parseExists() (ast.Expr, error) {
	pos := p.cur.Position
	p.advance() // EXISTS
	if _, err := p.expect(tokens.LParen); err != nil {
		return nil, err
	}
	var (
		head tokens.Token
		err  error
	)
	if p.at(tokens.KeywordThis) {
		head = p.cur
		p.advance()
	} else if head, err = p.expect(tokens.Ident); err != nil {
		return nil, err
	}
	if err := p.requireBound(head.Literal, pos); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.Minus); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.LBracket); err != nil {
		return nil, err
	}
	rel, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.RBracket); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokens.OpArrow); err != nil {
		return nil, err
	}
	tail, err := p.expect(tokens.Ident)
	if err != nil {
		return nil, err
	}

	p.pushScope(head.Literal, tail.Literal)
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
	return &ast.Exists{Base: ast.Base{Pos: pos}, Head: head.Literal, Rel: rel.Literal, Tail: tail.Literal, Guard: guard}, nil
}

// parseTerm parses a single operand of a comparison: a literal, a path, a
// built-in call, or a parenthesized sub-expression.
func (p *Parser) parseTerm() (ast.Expr, error) {
	switch p.cur.Kind {
	case tokens.LParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokens.RParen); err != nil {
			return nil, err
		}
		return inner, nil

	case tokens.String, tokens.Int, tokens.Float, tokens.KeywordTrue, tokens.KeywordFalse, tokens.KeywordNull:
		return p.parseLiteralExpr()

	case tokens.Minus:
		pos := p.cur.Position
		p.advance()
		lit, err := p.expect(numberKindOf(p.cur.Kind))
		if err != nil {
			return nil, rgerrors.Syntax(pos, "expected a number after unary -")
		}
		return negativeLiteral(lit, pos)

	case tokens.Ident, tokens.KeywordThis:
		return p.parsePathOrCall()

	default:
		return nil, rgerrors.Syntax(p.cur.Position, "unexpected token %s %q in expression", p.cur.Kind, p.cur.Literal)
	}
}

func numberKindOf(k tokens.Kind) tokens.Kind {
	if k == tokens.Float {
		return tokens.Float
	}
	return tokens.Int
}

func negativeLiteral(tok tokens.Token, pos tokens.Position) (ast.Expr, error) {
	if tok.Kind == tokens.Float {
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, rgerrors.Syntax(pos, "invalid float literal %q", tok.Literal)
		}
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: -f}, nil
	}
	n, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return nil, rgerrors.Syntax(pos, "invalid integer literal %q", tok.Literal)
	}
	return &ast.Literal{Base: ast.Base{Pos: pos}, Value: -n}, nil
}

// parsePathOrCall parses either a dotted path (this.x.y or v.x) or, when an
// identifier is immediately followed by "(", a built-in function call.
func (p *Parser) parsePathOrCall() (ast.Expr, error) {
	pos := p.cur.Position
	head := p.cur.Literal
	isThis := p.cur.Kind == tokens.KeywordThis
	p.advance()

	if p.at(tokens.LParen) && !isThis {
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &ast.Call{Base: ast.Base{Pos: pos}, Name: head, Args: args}, nil
	}

	if !isThis {
		if err := p.requireBound(head, pos); err != nil {
			return nil, err
		}
	}

	segments := []string{head}
	for p.at(tokens.Dot) {
		p.advance()
		seg, err := p.expect(tokens.Ident)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg.Literal)
	}
	return &ast.Path{Base: ast.Base{Pos: pos}, Segments: segments}, nil
}

func (p *Parser) parseArgList() ([]ast.Expr, error) {
	if _, err := p.expect(tokens.LParen); err != nil {
		return nil, err
	}
	var args []ast.Expr
	for !p.at(tokens.RParen) {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.at(tokens.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokens.RParen); err != nil {
		return nil, err
	}
	return args, nil
}

// parsePathExpr parses a dotted path and requires it not be a call; used for
// SET targets, which are always property paths.
func (p *Parser) parsePathExpr() (*ast.Path, error) {
	e, err := p.parsePathOrCall()
	if err != nil {
		return nil, err
	}
	path, ok := e.(*ast.Path)
	if !ok {
		return nil, rgerrors.Syntax(e.Position(), "expected a property path")
	}
	if len(path.Segments) < 2 {
		return nil, rgerrors.Syntax(e.Position(), "SET target must be a dotted path such as v.status")
	}
	return path, nil
}

func (p *Parser) parseLiteralExpr() (ast.Expr, error) {
	pos := p.cur.Position
	switch p.cur.Kind {
	case tokens.String:
		v := p.cur.Literal
		p.advance()
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: v}, nil
	case tokens.Int, tokens.Float:
		tok := p.cur
		p.advance()
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, rgerrors.Syntax(pos, "invalid numeric literal %q", tok.Literal)
		}
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: f}, nil
	case tokens.KeywordTrue:
		p.advance()
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: true}, nil
	case tokens.KeywordFalse:
		p.advance()
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: false}, nil
	case tokens.KeywordNull:
		p.advance()
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: nil}, nil
	case tokens.Minus:
		p.advance()
		lit, err := p.expect(numberKindOf(p.cur.Kind))
		if err != nil {
			return nil, rgerrors.Syntax(pos, "expected a number after unary -")
		}
		return negativeLiteral(lit, pos)
	default:
		return nil, rgerrors.Syntax(pos, "expected a literal, got %s %q", p.cur.Kind, p.cur.Literal)
	}
}

func (p *Parser) parseLiteralList() ([]ast.Expr, error) {
	if _, err := p.expect(tokens.LBracket); err != nil {
		return nil, err
	}
	var list []ast.Expr
	for !p.at(tokens.RBracket) {
		lit, err := p.parseLiteralExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, lit)
		if p.at(tokens.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokens.RBracket); err != nil {
		return nil, err
	}
	return list, nil
}
