package kql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expr is a node of the parsed query.
type Expr interface{ expr() }

// Comparison is `field <op> value` or `field in (v1, v2, ...)`.
type Comparison struct {
	Field  string
	Op     string // ==, !=, contains, startswith, endswith, has, in, >, >=, <, <=
	Value  interface{}
	Values []interface{} // for "in"
}

// BoolExpr combines sub-expressions with "and" or "or".
type BoolExpr struct {
	Op    string // "and" | "or"
	Exprs []Expr
}

// NotExpr negates its sub-expression.
type NotExpr struct {
	Expr Expr
}

// MatchAllExpr is the bare `*` query.
type MatchAllExpr struct{}

func (*Comparison) expr()   {}
func (*BoolExpr) expr()     {}
func (*NotExpr) expr()      {}
func (*MatchAllExpr) expr() {}

// tablePrefix strips an optional leading `<Table> | where` before parsing.
var tablePrefix = regexp.MustCompile(`^\s*[A-Za-z_][A-Za-z0-9_]*\s*\|\s*where\s+`)

type parser struct {
	lex  *lexer
	tok  token
	next token
}

// Parse parses a KQL-lite expression into an AST.
func Parse(input string) (Expr, error) {
	input = tablePrefix.ReplaceAllString(input, "")
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if strings.TrimSpace(input) == "*" {
		return &MatchAllExpr{}, nil
	}

	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q at offset %d", p.tok.text, p.tok.pos)
	}
	return expr, nil
}

func (p *parser) advance() error {
	p.tok = p.next
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.next = tok
	return nil
}

// parseOr handles the lowest-precedence operator.
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	exprs := []Expr{left}
	for p.tok.kind == tokenKeyword && p.tok.text == "or" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, right)
	}
	if len(exprs) == 1 {
		return left, nil
	}
	return &BoolExpr{Op: "or", Exprs: exprs}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	exprs := []Expr{left}
	for p.tok.kind == tokenKeyword && p.tok.text == "and" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, right)
	}
	if len(exprs) == 1 {
		return left, nil
	}
	return &BoolExpr{Op: "and", Exprs: exprs}, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.kind == tokenKeyword && p.tok.text == "not" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// not not x == x
		if n, ok := inner.(*NotExpr); ok {
			return n.Expr, nil
		}
		return &NotExpr{Expr: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.tok.kind {
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at offset %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenStar:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &MatchAllExpr{}, nil
	case tokenField:
		return p.parseComparison()
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", p.tok.text, p.tok.pos)
}

func (p *parser) parseComparison() (Expr, error) {
	field := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.tok.kind == tokenOperator:
		op = p.tok.text
	case p.tok.kind == tokenKeyword:
		switch p.tok.text {
		case "contains", "startswith", "endswith", "has", "in":
			op = p.tok.text
		default:
			return nil, fmt.Errorf("unexpected keyword %q after field %q", p.tok.text, field)
		}
	default:
		return nil, fmt.Errorf("expected operator after field %q at offset %d", field, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if op == "in" {
		return p.parseInList(field)
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: field, Op: op, Value: value}, nil
}

func (p *parser) parseInList(field string) (Expr, error) {
	if p.tok.kind != tokenLParen {
		return nil, fmt.Errorf("expected '(' after 'in' at offset %d", p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var values []interface{}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.tok.kind == tokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.tok.kind != tokenRParen {
		return nil, fmt.Errorf("expected ')' closing 'in' list at offset %d", p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("'in' list for field %q is empty", field)
	}
	return &Comparison{Field: field, Op: "in", Values: values}, nil
}

func (p *parser) parseValue() (interface{}, error) {
	switch p.tok.kind {
	case tokenString:
		v := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil
	case tokenNumber:
		text := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", text)
		}
		return n, nil
	case tokenField:
		// Bare word value, e.g. event_type == login
		v := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("expected value at offset %d, got %q", p.tok.pos, p.tok.text)
}
