package memory

import (
	"fmt"
	"regexp"
	"strings"

	"rulegraph/eval"
)

// pattern is one comma-separated MATCH element: a bare node (po:Type) or a
// relationship (head)-[:rel]->(tail). Node labels are optional, matching
// the unlabeled form eval.evalExists emits for containment checks.
type pattern struct {
	isRelationship bool
	varName        string
	typeLabel      string
	fromVar        string
	toVar          string
	relLabel       string
}

type parsedQuery struct {
	isWrite     bool
	patterns    []pattern
	where       cond
	returnVar   string
	setProperty string
	setIDParam  string
	setValParam string
}

var tokenPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*|[A-Za-z_][A-Za-z0-9_.]*|==|!=|<=|>=|=~|->|[(),:\[\]<>=-]`)

func tokenize(q string) []string {
	return tokenPattern.FindAllString(q, -1)
}

type tokStream struct {
	toks []string
	pos  int
}

func (t *tokStream) peek() string {
	if t.pos >= len(t.toks) {
		return ""
	}
	return t.toks[t.pos]
}

func (t *tokStream) peekUpper() string { return strings.ToUpper(t.peek()) }

func (t *tokStream) next() string {
	tok := t.peek()
	t.pos++
	return tok
}

func (t *tokStream) expect(want string) error {
	got := t.next()
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("expected %q, got %q", want, got)
	}
	return nil
}

// parseQuery parses the fixed subset of query text that package query and
// eval.evalExists generate:
//
//	MATCH (v:T), (b:T2), ... [WHERE expr] RETURN v
//	MATCH (v:T) WHERE v.id == $p SET v.prop = $p2
func parseQuery(q string) (*parsedQuery, error) {
	ts := &tokStream{toks: tokenize(q)}
	if err := ts.expect("MATCH"); err != nil {
		return nil, err
	}

	pq := &parsedQuery{}
	for {
		pat, err := parsePattern(ts)
		if err != nil {
			return nil, err
		}
		pq.patterns = append(pq.patterns, pat)
		if ts.peek() == "," {
			ts.next()
			continue
		}
		break
	}

	if strings.EqualFold(ts.peek(), "WHERE") {
		ts.next()
		c, err := parseWhereExpr(ts)
		if err != nil {
			return nil, err
		}
		pq.where = c
	}

	switch strings.ToUpper(ts.peek()) {
	case "RETURN":
		ts.next()
		pq.returnVar = ts.next()
	case "SET":
		ts.next()
		pq.isWrite = true
		target := ts.next()
		parts := strings.SplitN(target, ".", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("SET target %q must be var.property", target)
		}
		pq.setProperty = parts[1]
		if err := ts.expect("="); err != nil {
			return nil, err
		}
		valTok := ts.next()
		pq.setValParam = strings.TrimPrefix(valTok, "$")
		if pq.where == nil {
			return nil, fmt.Errorf("SET query must carry a WHERE identity constraint")
		}
		idCond, ok := pq.where.(*idEquals)
		if !ok {
			return nil, fmt.Errorf("SET query's WHERE must be a single id equality")
		}
		pq.setIDParam = idCond.param
	default:
		return nil, fmt.Errorf("expected RETURN or SET, got %q", ts.peek())
	}
	return pq, nil
}

func parsePattern(ts *tokStream) (pattern, error) {
	head, headType, err := parseNode(ts)
	if err != nil {
		return pattern{}, err
	}
	if ts.peek() != "-" {
		return pattern{varName: head, typeLabel: headType}, nil
	}
	ts.next() // -
	if err := ts.expect("["); err != nil {
		return pattern{}, err
	}
	if err := ts.expect(":"); err != nil {
		return pattern{}, err
	}
	rel := ts.next()
	if err := ts.expect("]"); err != nil {
		return pattern{}, err
	}
	if err := ts.expect("->"); err != nil {
		return pattern{}, err
	}
	tail, _, err := parseNode(ts)
	if err != nil {
		return pattern{}, err
	}
	return pattern{isRelationship: true, fromVar: head, toVar: tail, relLabel: rel}, nil
}

func parseNode(ts *tokStream) (varName, typeLabel string, err error) {
	if err := ts.expect("("); err != nil {
		return "", "", err
	}
	varName = ts.next()
	if ts.peek() == ":" {
		ts.next()
		typeLabel = ts.next()
	}
	if err := ts.expect(")"); err != nil {
		return "", "", err
	}
	return varName, typeLabel, nil
}

// cond is a parsed WHERE expression node, evaluated by evalCond.
type cond interface{ isCond() }

type andCond struct{ operands []cond }
type orCond struct{ operands []cond }
type notCond struct{ operand cond }
type idEquals struct {
	varName string
	param   string
}
type binCond struct {
	op          string
	left, right operand
}
type inCond struct {
	left  operand
	param string
}
type nullCond struct {
	left   operand
	negate bool
}
type matchCond struct {
	left  operand
	param string
}
type existsCond struct {
	fromVar, toVar, relLabel string
	guard                    cond
}

func (andCond) isCond()    {}
func (orCond) isCond()     {}
func (notCond) isCond()    {}
func (idEquals) isCond()   {}
func (binCond) isCond()    {}
func (inCond) isCond()     {}
func (nullCond) isCond()   {}
func (matchCond) isCond()  {}
func (existsCond) isCond() {}

// operand is either a bound-variable property path ("v.prop") or a
// parameter reference ("$name").
type operand struct {
	isParam bool
	path    []string
	param   string
}

func parseOperand(tok string) operand {
	if strings.HasPrefix(tok, "$") {
		return operand{isParam: true, param: strings.TrimPrefix(tok, "$")}
	}
	return operand{path: strings.Split(tok, ".")}
}

func parseWhereExpr(ts *tokStream) (cond, error) {
	return parseOr(ts)
}

func parseOr(ts *tokStream) (cond, error) {
	left, err := parseAnd(ts)
	if err != nil {
		return nil, err
	}
	operands := []cond{left}
	for strings.EqualFold(ts.peek(), "OR") {
		ts.next()
		right, err := parseAnd(ts)
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return &orCond{operands: operands}, nil
}

func parseAnd(ts *tokStream) (cond, error) {
	left, err := parseUnary(ts)
	if err != nil {
		return nil, err
	}
	operands := []cond{left}
	for strings.EqualFold(ts.peek(), "AND") {
		ts.next()
		right, err := parseUnary(ts)
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return &andCond{operands: operands}, nil
}

func parseUnary(ts *tokStream) (cond, error) {
	if strings.EqualFold(ts.peek(), "NOT") {
		ts.next()
		inner, err := parseUnary(ts)
		if err != nil {
			return nil, err
		}
		return &notCond{operand: inner}, nil
	}
	return parseComparison(ts)
}

func parseComparison(ts *tokStream) (cond, error) {
	if strings.EqualFold(ts.peek(), "EXISTS") {
		return parseExistsCond(ts)
	}
	if ts.peek() == "(" {
		ts.next()
		inner, err := parseWhereExpr(ts)
		if err != nil {
			return nil, err
		}
		if err := ts.expect(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	leftTok := ts.next()
	left := parseOperand(leftTok)

	switch strings.ToUpper(ts.peek()) {
	case "IS":
		ts.next()
		negate := false
		if strings.EqualFold(ts.peek(), "NOT") {
			ts.next()
			negate = true
		}
		if err := ts.expect("NULL"); err != nil {
			return nil, err
		}
		return &nullCond{left: left, negate: negate}, nil
	case "IN":
		ts.next()
		param := strings.TrimPrefix(ts.next(), "$")
		return &inCond{left: left, param: param}, nil
	}

	op := ts.next()
	if op == "=~" {
		param := strings.TrimPrefix(ts.next(), "$")
		return &matchCond{left: left, param: param}, nil
	}
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		rightTok := ts.next()
		right := parseOperand(rightTok)
		if op == "==" && len(left.path) == 2 && left.path[1] == "id" && right.isParam {
			return &idEquals{varName: left.path[0], param: right.param}, nil
		}
		return &binCond{op: op, left: left, right: right}, nil
	default:
		return nil, fmt.Errorf("unexpected operator %q in WHERE clause", op)
	}
}

func parseExistsCond(ts *tokStream) (cond, error) {
	ts.next() // EXISTS
	if err := ts.expect("("); err != nil {
		return nil, err
	}
	if err := ts.expect("("); err != nil {
		return nil, err
	}
	from := ts.next()
	if err := ts.expect(")"); err != nil {
		return nil, err
	}
	if err := ts.expect("-"); err != nil {
		return nil, err
	}
	if err := ts.expect("["); err != nil {
		return nil, err
	}
	if err := ts.expect(":"); err != nil {
		return nil, err
	}
	rel := ts.next()
	if err := ts.expect("]"); err != nil {
		return nil, err
	}
	if err := ts.expect("->"); err != nil {
		return nil, err
	}
	if err := ts.expect("("); err != nil {
		return nil, err
	}
	to := ts.next()
	if err := ts.expect(")"); err != nil {
		return nil, err
	}

	var guard cond
	if strings.EqualFold(ts.peek(), "WHERE") {
		ts.next()
		g, err := parseWhereExpr(ts)
		if err != nil {
			return nil, err
		}
		guard = g
	}
	if err := ts.expect(")"); err != nil {
		return nil, err
	}
	return &existsCond{fromVar: from, toVar: to, relLabel: rel, guard: guard}, nil
}

// evalCtx carries the bound row plus the original call's parameters and the
// store, needed to resolve nested EXISTS clauses.
type evalCtx struct {
	rows   map[string]map[string]any
	params map[string]any
	store  *Store
}

func resolveOperand(o operand, c evalCtx) any {
	if o.isParam {
		return c.params[o.param]
	}
	row, ok := c.rows[o.path[0]]
	if !ok {
		return nil
	}
	if len(o.path) == 1 {
		return row
	}
	return row[o.path[1]]
}

func evalCond(c cond, ec evalCtx) (bool, error) {
	switch n := c.(type) {
	case *andCond:
		for _, operand := range n.operands {
			ok, err := evalCond(operand, ec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *orCond:
		for _, operand := range n.operands {
			ok, err := evalCond(operand, ec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *notCond:
		ok, err := evalCond(n.operand, ec)
		return !ok, err
	case *idEquals:
		row, ok := ec.rows[n.varName]
		if !ok {
			return false, nil
		}
		return fmt.Sprint(row["id"]) == fmt.Sprint(ec.params[n.param]), nil
	case *binCond:
		l := resolveOperand(n.left, ec)
		r := resolveOperand(n.right, ec)
		return eval.Compare(n.op, l, r)
	case *inCond:
		l := resolveOperand(n.left, ec)
		list, _ := ec.params[n.param].([]any)
		return eval.ElementIn(l, list), nil
	case *nullCond:
		l := resolveOperand(n.left, ec)
		isNull := l == nil
		if n.negate {
			return !isNull, nil
		}
		return isNull, nil
	case *matchCond:
		l := resolveOperand(n.left, ec)
		pattern, _ := ec.params[n.param].(string)
		s := fmt.Sprint(l)
		if l == nil {
			return false, nil
		}
		re, err := regexpCompile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	case *existsCond:
		return evalExistsCond(n, ec)
	default:
		return false, fmt.Errorf("unsupported WHERE clause node %T", c)
	}
}

func evalExistsCond(n *existsCond, ec evalCtx) (bool, error) {
	fromRow, ok := ec.rows[n.fromVar]
	if !ok {
		return false, fmt.Errorf("EXISTS references unbound variable %q", n.fromVar)
	}
	fromID := fmt.Sprint(fromRow["id"])

	// If the tail alias is already bound elsewhere in this query (as in
	// S1's `EXISTS(po -[orderedFrom]-> s)`, where s is also matched as an
	// outer variable), the existence check must hold specifically against
	// that bound node, not any node reachable by this relationship.
	boundTail, tailBound := ec.rows[n.toVar]

	ec.store.mu.RLock()
	var candidates []map[string]any
	for _, e := range ec.store.edges {
		if e.From != fromID || e.Rel != n.relLabel {
			continue
		}
		tn, ok := ec.store.nodes[e.To]
		if !ok {
			continue
		}
		if tailBound && fmt.Sprint(tn.Props["id"]) != fmt.Sprint(boundTail["id"]) {
			continue
		}
		candidates = append(candidates, tn.Props)
	}
	ec.store.mu.RUnlock()

	for _, cand := range candidates {
		if n.guard == nil {
			return true, nil
		}
		sub := evalCtx{params: ec.params, store: ec.store, rows: cloneRow(ec.rows)}
		sub.rows[n.toVar] = cand
		ok, err := evalCond(n.guard, sub)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func regexpCompile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}
