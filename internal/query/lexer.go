package query

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokString
	tokColon  // :
	tokNeq    // !=
	tokTilde  // ~
	tokGte    // >=
	tokLParen // (
	tokRParen // )
	tokAnd
	tokOr
	tokNot
	tokIllegal
)

var tokenNames = [...]string{
	tokEOF:     "end of query",
	tokIdent:   "identifier",
	tokString:  "string",
	tokColon:   "':'",
	tokNeq:     "'!='",
	tokTilde:   "'~'",
	tokGte:     "'>='",
	tokLParen:  "'('",
	tokRParen:  "')'",
	tokAnd:     "AND",
	tokOr:      "OR",
	tokNot:     "NOT",
	tokIllegal: "illegal character",
}

func (t tokenType) String() string {
	return tokenNames[t]
}

type token struct {
	typ tokenType
	val string
	pos int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() token {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return token{typ: tokEOF, pos: start}
	}

	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	switch two {
	case "!=":
		l.pos += 2
		return token{typ: tokNeq, val: two, pos: start}
	case ">=":
		l.pos += 2
		return token{typ: tokGte, val: two, pos: start}
	}

	ch, size := utf8.DecodeRuneInString(l.input[l.pos:])
	switch {
	case ch == ':':
		l.pos++
		return token{typ: tokColon, val: ":", pos: start}
	case ch == '~':
		l.pos++
		return token{typ: tokTilde, val: "~", pos: start}
	case ch == '(':
		l.pos++
		return token{typ: tokLParen, val: "(", pos: start}
	case ch == ')':
		l.pos++
		return token{typ: tokRParen, val: ")", pos: start}
	case ch == '"':
		return l.readString()
	case isIdentChar(ch):
		return l.readIdent()
	default:
		l.pos += size
		return token{typ: tokIllegal, val: string(ch), pos: start}
	}
}

// readString reads a double quoted string; \" and \\ are unescaped.
func (l *lexer) readString() token {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos++
		}
		b.WriteByte(l.input[l.pos])
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{typ: tokIllegal, val: "unterminated string", pos: start}
	}
	l.pos++
	return token{typ: tokString, val: b.String(), pos: start}
}

func (l *lexer) readIdent() token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !isIdentChar(r) {
			break
		}
		l.pos += size
	}
	val := l.input[start:l.pos]
	switch strings.ToUpper(val) {
	case "AND":
		return token{typ: tokAnd, val: "AND", pos: start}
	case "OR":
		return token{typ: tokOr, val: "OR", pos: start}
	case "NOT":
		return token{typ: tokNot, val: "NOT", pos: start}
	}
	return token{typ: tokIdent, val: val, pos: start}
}

func isIdentChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) ||
		r == '_' || r == '-' || r == '.' || r == '*' || r == '/'
}
