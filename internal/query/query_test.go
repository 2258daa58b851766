package query

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logserver/internal/logline"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input string
		want  []tokenType
	}{
		{"service:order", []tokenType{tokIdent, tokColon, tokIdent, tokEOF}},
		{`level:"ERROR"`, []tokenType{tokIdent, tokColon, tokString, tokEOF}},
		{"a AND b", []tokenType{tokIdent, tokAnd, tokIdent, tokEOF}},
		{"a or b", []tokenType{tokIdent, tokOr, tokIdent, tokEOF}},
		{"NOT a", []tokenType{tokNot, tokIdent, tokEOF}},
		{"(a)", []tokenType{tokLParen, tokIdent, tokRParen, tokEOF}},
		{`key!="value"`, []tokenType{tokIdent, tokNeq, tokString, tokEOF}},
		{"msg~time level>=warn", []tokenType{tokIdent, tokTilde, tokIdent, tokIdent, tokGte, tokIdent, tokEOF}},
		{`"open`, []tokenType{tokIllegal, tokEOF}},
		{"a & b", []tokenType{tokIdent, tokIllegal, tokIdent, tokEOF}},
		{"café", []tokenType{tokIdent, tokEOF}},
		{"上传失败 AND 任务:夜间", []tokenType{tokIdent, tokAnd, tokIdent, tokColon, tokIdent, tokEOF}},
		{"a\u3000b", []tokenType{tokIdent, tokIdent, tokEOF}},
		{"a → b", []tokenType{tokIdent, tokIllegal, tokIdent, tokEOF}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l := lexer{input: tt.input}
			var got []tokenType
			for {
				tok := l.next()
				got = append(got, tok.typ)
				if tok.typ == tokEOF {
					break
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLexerUnescapesStrings(t *testing.T) {
	l := lexer{input: `"say \"hi\" \\ bye"`}
	tok := l.next()
	require.Equal(t, tokString, tok.typ)
	assert.Equal(t, `say "hi" \ bye`, tok.val)
}

func TestLexerReadsWholeRunes(t *testing.T) {
	l := lexer{input: "上传失败 café"}
	tok := l.next()
	require.Equal(t, tokIdent, tok.typ)
	assert.Equal(t, "上传失败", tok.val)
	tok = l.next()
	require.Equal(t, tokIdent, tok.typ)
	assert.Equal(t, "café", tok.val)
	assert.Equal(t, len("上传失败 "), tok.pos)
}

func TestMatchNonASCII(t *testing.T) {
	rec := entry("ERROR", "日志上传失败 café closed", map[string]string{"任务": "夜间"})
	for _, q := range []string{"上传失败", "café", "任务:夜间", "attrs.任务:夜*", `msg~"上传"`} {
		t.Run(q, func(t *testing.T) {
			f, err := Compile(q)
			require.NoError(t, err)
			assert.True(t, f.Match(rec))
		})
	}
	f, err := Compile("任务:白天")
	require.NoError(t, err)
	assert.False(t, f.Match(rec))
}

func TestMatchAttrKeyKeepsCase(t *testing.T) {
	rec := entry("INFO", "login", map[string]string{"userID": "42"})
	for _, q := range []string{"userID:42", "attrs.userID:42", "USERID!=42 OR userID:42"} {
		t.Run(q, func(t *testing.T) {
			f, err := Compile(q)
			require.NoError(t, err)
			assert.True(t, f.Match(rec))
		})
	}
}

func entry(level, msg string, attrs map[string]string) EntryFields {
	return EntryFields(logline.Entry{
		Time:    time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		Level:   level,
		Message: msg,
		Attrs:   attrs,
	})
}

func TestMatch(t *testing.T) {
	rows := map[string]EntryFields{
		"boot":    entry("INFO", "device booted", map[string]string{"job": "startup"}),
		"timeout": entry("ERROR", "upload timeout after 3 attempts", map[string]string{"job": "nightly"}),
		"slow":    entry("WARN", "slow disk", nil),
		"debug":   entry("DEBUG", "health check", nil),
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"boot", "timeout", "slow", "debug"}},
		{"level:error", []string{"timeout"}},
		{"level>=WARN", []string{"timeout", "slow"}},
		{"lvl!=INFO", []string{"timeout", "slow", "debug"}},
		{"timeout", []string{"timeout"}},
		{`"HEALTH CHECK"`, []string{"debug"}},
		{"msg~disk OR job:startup", []string{"boot", "slow"}},
		{"attrs.job:night*", []string{"timeout"}},
		{"job!=nightly", []string{"boot", "slow", "debug"}},
		{"NOT (level>=warn) AND NOT debug", []string{"boot"}},
		{"upload attempts", []string{"timeout"}},
		{"ts:2026-10-19*", []string{"boot", "timeout", "slow", "debug"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f, err := Compile(tt.query)
			require.NoError(t, err)
			var got []string
			for _, name := range []string{"boot", "timeout", "slow", "debug"} {
				if f.Match(rows[name]) {
					got = append(got, name)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNilFilterMatchesAll(t *testing.T) {
	var f *Filter
	assert.True(t, f.Match(entry("INFO", "x", nil)))
	assert.Empty(t, f.String())
}

func TestCompileErrors(t *testing.T) {
	for _, q := range []string{
		"(level:error",
		"level:",
		"msg>=x",
		"level>=LOUD",
		`"unterminated`,
		"a ) b",
		"OR b",
	} {
		t.Run(q, func(t *testing.T) {
			_, err := Compile(q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax))
		})
	}
}
