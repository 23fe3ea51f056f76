package parser

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/exprs/ast"
)

// Usage records which placeholders an expression referenced, so callers can
// reject requests that define placeholders no expression uses.
type Usage struct {
	Names  map[string]struct{}
	Values map[string]struct{}
}

func newUsage() *Usage {
	return &Usage{
		Names:  make(map[string]struct{}),
		Values: make(map[string]struct{}),
	}
}

// Merge folds another expression's usage into this one.
func (u *Usage) Merge(other *Usage) {
	if other == nil {
		return
	}
	for k := range other.Names {
		u.Names[k] = struct{}{}
	}
	for k := range other.Values {
		u.Values[k] = struct{}{}
	}
}

// NewUsage returns an empty usage set, for requests with no expressions.
func NewUsage() *Usage { return newUsage() }

type operandContext int

const (
	// conditionOperands allows size(); update-only functions are rejected.
	conditionOperands operandContext = iota
	// setValueOperands allows if_not_exists() and list_append(); size() is rejected.
	setValueOperands
)

type parser struct {
	tokens []token
	pos    int
	usage  *Usage
}

// ParseCondition parses a condition or filter expression.
func ParseCondition(input string) (ast.Condition, *Usage, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, nil, err
	}
	return cond, p.usage, nil
}

// ParseUpdate parses an update expression's clause list.
func ParseUpdate(input string) (*ast.UpdateExpression, *Usage, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, nil, err
	}
	expr, err := p.parseUpdate()
	if err != nil {
		return nil, nil, err
	}
	return expr, p.usage, nil
}

// ParseProjection parses a comma-separated list of document paths.
func ParseProjection(input string) ([]*ast.Path, *Usage, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, nil, err
	}
	var paths []*ast.Path
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths, path)
		if !p.accept(tokComma) {
			break
		}
	}
	if err := p.expectEOF(); err != nil {
		return nil, nil, err
	}
	return paths, p.usage, nil
}

func newParser(input string) (*parser, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	return &parser{tokens: tokens, usage: newUsage()}, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %s", what, t)
	}
	return t, nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return fmt.Errorf("unexpected %s after end of expression", t)
	}
	return nil
}

// Conditions, precedence OR < AND < NOT < primary.

func (p *parser) parseOr() (ast.Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.OrCondition{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Condition, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.AndCondition{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Condition, error) {
	if p.peek().keyword("NOT") {
		p.next()
		cond, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.NotCondition{Cond: cond}, nil
	}
	return p.parsePrimaryCondition()
}

func (p *parser) parsePrimaryCondition() (ast.Condition, error) {
	t := p.peek()

	if t.kind == tokLParen {
		p.next()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return cond, nil
	}

	if t.kind == tokIdent && p.tokens[p.pos+1].kind == tokLParen {
		if cond, ok, err := p.parseFunctionCondition(t.text); ok || err != nil {
			return cond, err
		}
	}

	left, err := p.parseOperand(conditionOperands)
	if err != nil {
		return nil, err
	}

	next := p.next()
	switch next.kind {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		right, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, err
		}
		return &ast.CompareCondition{Comp: comparatorFor(next.kind), Left: left, Right: right}, nil
	}

	if next.keyword("BETWEEN") {
		lower, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, err
		}
		if !p.peek().keyword("AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN, got %s", p.peek())
		}
		p.next()
		upper, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, err
		}
		return &ast.BetweenCondition{Operand: left, Lower: lower, Upper: upper}, nil
	}

	if next.keyword("IN") {
		if _, err := p.expect(tokLParen, "'(' after IN"); err != nil {
			return nil, err
		}
		var members []ast.Operand
		for {
			member, err := p.parseOperand(conditionOperands)
			if err != nil {
				return nil, err
			}
			members = append(members, member)
			if !p.accept(tokComma) {
				break
			}
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		if len(members) > 100 {
			return nil, fmt.Errorf("IN supports at most 100 operands, got %d", len(members))
		}
		return &ast.InCondition{Operand: left, Members: members}, nil
	}

	return nil, fmt.Errorf("expected comparator, BETWEEN or IN, got %s", next)
}

// parseFunctionCondition handles the boolean-valued functions. The bool result
// reports whether name was recognized; size() is value-producing and left to
// the operand parser.
func (p *parser) parseFunctionCondition(name string) (ast.Condition, bool, error) {
	switch name {
	case "attribute_exists", "attribute_not_exists":
		p.next() // name
		p.next() // (
		path, err := p.parsePath()
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, true, err
		}
		return &ast.AttributeExistsCondition{Path: path, Negate: name == "attribute_not_exists"}, true, nil

	case "attribute_type":
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, true, err
		}
		typ, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, true, err
		}
		return &ast.AttributeTypeCondition{Path: path, Type: typ}, true, nil

	case "begins_with":
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, true, err
		}
		prefix, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, true, err
		}
		return &ast.BeginsWithCondition{Path: path, Prefix: prefix}, true, nil

	case "contains":
		p.next()
		p.next()
		hay, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, true, err
		}
		needle, err := p.parseOperand(conditionOperands)
		if err != nil {
			return nil, true, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, true, err
		}
		return &ast.ContainsCondition{Haystack: hay, Needle: needle}, true, nil
	}
	return nil, false, nil
}

// Operands.

func (p *parser) parseOperand(ctx operandContext) (ast.Operand, error) {
	t := p.peek()

	if t.kind == tokValueRef {
		p.next()
		p.usage.Values[t.text] = struct{}{}
		return &ast.ValueOperand{Ref: t.text}, nil
	}

	if t.kind == tokIdent && p.tokens[p.pos+1].kind == tokLParen {
		switch t.text {
		case "size":
			if ctx != conditionOperands {
				return nil, fmt.Errorf("size() is not allowed here")
			}
			p.next()
			p.next()
			arg, err := p.parseOperand(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &ast.SizeOperand{Arg: arg}, nil

		case "if_not_exists":
			if ctx != setValueOperands {
				return nil, fmt.Errorf("if_not_exists() is only allowed in SET values")
			}
			p.next()
			p.next()
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, "','"); err != nil {
				return nil, err
			}
			def, err := p.parseOperand(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &ast.IfNotExistsOperand{Path: path, Default: def}, nil

		case "list_append":
			if ctx != setValueOperands {
				return nil, fmt.Errorf("list_append() is only allowed in SET values")
			}
			p.next()
			p.next()
			left, err := p.parseOperand(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, "','"); err != nil {
				return nil, err
			}
			right, err := p.parseOperand(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &ast.ListAppendOperand{Left: left, Right: right}, nil

		default:
			return nil, fmt.Errorf("unknown function %q", t.text)
		}
	}

	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return &ast.PathOperand{Path: path}, nil
}

// parsePath parses ident/#name with .field and [index] suffixes.
func (p *parser) parsePath() (*ast.Path, error) {
	t := p.next()
	var parts []ast.PathPart
	switch t.kind {
	case tokIdent:
		if isReserved(t.text) {
			return nil, fmt.Errorf("attribute name %q is a reserved keyword; use an expression attribute name", t.text)
		}
		parts = append(parts, ast.PathPart{Identifier: t.text})
	case tokNameRef:
		p.usage.Names[t.text] = struct{}{}
		parts = append(parts, ast.PathPart{NameRef: t.text})
	default:
		return nil, fmt.Errorf("expected attribute name, got %s", t)
	}

	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			t := p.next()
			switch t.kind {
			case tokIdent:
				if isReserved(t.text) {
					return nil, fmt.Errorf("attribute name %q is a reserved keyword; use an expression attribute name", t.text)
				}
				parts = append(parts, ast.PathPart{Identifier: t.text})
			case tokNameRef:
				p.usage.Names[t.text] = struct{}{}
				parts = append(parts, ast.PathPart{NameRef: t.text})
			default:
				return nil, fmt.Errorf("expected attribute name after '.', got %s", t)
			}
		case tokLBracket:
			p.next()
			num, err := p.expect(tokNumber, "list index")
			if err != nil {
				return nil, err
			}
			idx, err := parseIndex(num.text)
			if err != nil {
				return nil, fmt.Errorf("list index %q: %w", num.text, err)
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			parts = append(parts, ast.PathPart{Index: idx, IsIndex: true})
		default:
			return &ast.Path{Parts: parts}, nil
		}
	}
}

// Update expressions.

func (p *parser) parseUpdate() (*ast.UpdateExpression, error) {
	expr := &ast.UpdateExpression{}
	seen := map[string]bool{}
	for {
		t := p.peek()
		if t.kind == tokEOF {
			break
		}
		var clause string
		switch {
		case t.keyword("SET"):
			clause = "SET"
		case t.keyword("REMOVE"):
			clause = "REMOVE"
		case t.keyword("ADD"):
			clause = "ADD"
		case t.keyword("DELETE"):
			clause = "DELETE"
		default:
			return nil, fmt.Errorf("expected update clause keyword, got %s", t)
		}
		if seen[clause] {
			return nil, fmt.Errorf("duplicate %s clause", clause)
		}
		seen[clause] = true
		p.next()

		for {
			switch clause {
			case "SET":
				action, err := p.parseSetAction()
				if err != nil {
					return nil, err
				}
				expr.SetActions = append(expr.SetActions, action)
			case "REMOVE":
				path, err := p.parsePath()
				if err != nil {
					return nil, err
				}
				expr.RemoveActions = append(expr.RemoveActions, ast.RemoveAction{Path: path})
			case "ADD":
				path, err := p.parsePath()
				if err != nil {
					return nil, err
				}
				val, err := p.parseOperand(conditionOperands)
				if err != nil {
					return nil, err
				}
				expr.AddActions = append(expr.AddActions, ast.AddAction{Path: path, Value: val})
			case "DELETE":
				path, err := p.parsePath()
				if err != nil {
					return nil, err
				}
				val, err := p.parseOperand(conditionOperands)
				if err != nil {
					return nil, err
				}
				expr.DeleteActions = append(expr.DeleteActions, ast.DeleteAction{Path: path, Value: val})
			}
			if !p.accept(tokComma) {
				break
			}
		}
	}
	if len(expr.SetActions)+len(expr.RemoveActions)+len(expr.AddActions)+len(expr.DeleteActions) == 0 {
		return nil, fmt.Errorf("empty update expression")
	}
	return expr, nil
}

func (p *parser) parseSetAction() (ast.SetAction, error) {
	path, err := p.parsePath()
	if err != nil {
		return ast.SetAction{}, err
	}
	if _, err := p.expect(tokEq, "'='"); err != nil {
		return ast.SetAction{}, err
	}
	left, err := p.parseOperand(setValueOperands)
	if err != nil {
		return ast.SetAction{}, err
	}
	switch p.peek().kind {
	case tokPlus, tokMinus:
		op := p.next()
		right, err := p.parseOperand(setValueOperands)
		if err != nil {
			return ast.SetAction{}, err
		}
		return ast.SetAction{
			Path:  path,
			Value: &ast.ArithmeticValue{Plus: op.kind == tokPlus, Left: left, Right: right},
		}, nil
	}
	return ast.SetAction{Path: path, Value: &ast.OperandValue{Operand: left}}, nil
}

func comparatorFor(kind tokenKind) ast.Comparator {
	switch kind {
	case tokEq:
		return ast.Equal
	case tokNe:
		return ast.NotEqual
	case tokLt:
		return ast.LessThan
	case tokLe:
		return ast.LessOrEqual
	case tokGt:
		return ast.GreaterThan
	case tokGe:
		return ast.GreaterOrEqual
	}
	return ""
}
