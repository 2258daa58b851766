// Package query implements the filter language used to select log entries:
//
//	level>=WARN AND NOT msg~"health check"
//	service:checkout OR attrs.job:nightly
//	timeout
//
// key:value is a case-insensitive equality (a trailing * matches a prefix),
// key!=value its negation, key~value a substring match and level>=LEVEL a
// severity threshold. A bare word or quoted string searches every field.
// Adjacent terms are joined with AND.
package query

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrSyntax marks query parse errors.
var ErrSyntax = errors.New("query syntax error")

type node interface {
	match(Fields) bool
}

type binaryNode struct {
	or          bool
	left, right node
}

type notNode struct {
	expr node
}

type matchNode struct {
	key   string
	value string
	op    tokenType
}

type textNode struct {
	value string
}

// Filter is a compiled query. The zero and nil Filter match everything.
type Filter struct {
	src  string
	root node
}

// Compile parses q. An empty or blank q yields a filter matching everything.
func Compile(q string) (*Filter, error) {
	p := &parser{lex: lexer{input: q}}
	p.advance()
	if p.cur.typ == tokEOF {
		return &Filter{src: q}, nil
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokEOF {
		return nil, p.errorf("unexpected %s", p.cur.typ)
	}
	return &Filter{src: q, root: root}, nil
}

// String returns the source query.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

type parser struct {
	lex lexer
	cur token
}

func (p *parser) advance() {
	p.cur = p.lex.next()
}

func (p *parser) errorf(format string, args ...any) error {
	return errors.Mark(errors.Newf("at offset %d: "+format, append([]any{p.cur.pos}, args...)...), ErrSyntax)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{or: true, left: left, right: right}
	}
	return left, nil
}

// parseAnd also joins adjacent terms: "a b" means "a AND b".
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.typ {
		case tokAnd:
			p.advance()
		case tokIdent, tokString, tokNot, tokLParen:
		default:
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryNode{left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if p.cur.typ == tokNot {
		p.advance()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	switch p.cur.typ {
	case tokLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.typ != tokRParen {
			return nil, p.errorf("expected ')', got %s", p.cur.typ)
		}
		p.advance()
		return expr, nil

	case tokString:
		v := p.cur.val
		p.advance()
		return textNode{value: strings.ToLower(v)}, nil

	case tokIdent:
		key := p.cur.val
		p.advance()
		switch op := p.cur.typ; op {
		case tokColon, tokNeq, tokTilde, tokGte:
			p.advance()
			return p.parseValue(key, op)
		}
		return textNode{value: strings.ToLower(key)}, nil

	case tokIllegal:
		return nil, p.errorf("%s %q", p.cur.typ, p.cur.val)

	default:
		return nil, p.errorf("unexpected %s", p.cur.typ)
	}
}

func (p *parser) parseValue(key string, op tokenType) (node, error) {
	if p.cur.typ != tokIdent && p.cur.typ != tokString {
		return nil, p.errorf("expected value after %s, got %s", key, p.cur.typ)
	}
	value := p.cur.val
	p.advance()

	key = canonicalKey(key)
	if op == tokGte {
		if key != "level" {
			return nil, p.errorf(">= only applies to level, not %q", key)
		}
		if levelRank(value) < 0 {
			return nil, p.errorf("unknown level %q", value)
		}
	}
	return matchNode{key: key, value: value, op: op}, nil
}
