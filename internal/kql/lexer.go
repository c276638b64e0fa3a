// Package kql parses the KQL-lite query dialect used in rule queries and
// saved searches, and translates it to search DSL.
package kql

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenField
	tokenString
	tokenNumber
	tokenOperator // ==, !=, >, >=, <, <=
	tokenKeyword  // and, or, not, contains, startswith, endswith, has, in
	tokenLParen
	tokenRParen
	tokenComma
	tokenStar
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

var keywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {},
	"contains": {}, "startswith": {}, "endswith": {}, "has": {}, "in": {},
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokenComma, text: ",", pos: start}, nil
	case '*':
		l.pos++
		return token{kind: tokenStar, text: "*", pos: start}, nil
	case '"', '\'':
		return l.lexString(c)
	case '=':
		if strings.HasPrefix(l.input[l.pos:], "==") {
			l.pos += 2
			return token{kind: tokenOperator, text: "==", pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected '=' at offset %d (did you mean '==')", start)
	case '!':
		if strings.HasPrefix(l.input[l.pos:], "!=") {
			l.pos += 2
			return token{kind: tokenOperator, text: "!=", pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected '!' at offset %d", start)
	case '>', '<':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokenOperator, text: l.input[start : start+2], pos: start}, nil
		}
		l.pos++
		return token{kind: tokenOperator, text: string(c), pos: start}, nil
	}

	if c >= '0' && c <= '9' || c == '-' && l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9' || l.input[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
	}

	if isFieldStart(rune(c)) {
		l.pos++
		for l.pos < len(l.input) && isFieldChar(rune(l.input[l.pos])) {
			l.pos++
		}
		text := l.input[start:l.pos]
		if _, ok := keywords[strings.ToLower(text)]; ok {
			return token{kind: tokenKeyword, text: strings.ToLower(text), pos: start}, nil
		}
		return token{kind: tokenField, text: text, pos: start}, nil
	}

	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		if c == quote {
			l.pos++
			return token{kind: tokenString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("unterminated string starting at offset %d", start)
}

func isFieldStart(r rune) bool {
	return r == '@' || r == '_' || unicode.IsLetter(r)
}

func isFieldChar(r rune) bool {
	return r == '@' || r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
