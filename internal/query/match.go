package query

import (
	"strings"
	"time"

	"github.com/coffersTech/logserver/internal/logline"
)

// Fields is what a filter inspects.
type Fields interface {
	// Field returns the value of a named field; see canonicalKey for names.
	// Attributes are addressed as "attrs.<name>".
	Field(key string) (string, bool)
	// Text returns every value searched by bare terms.
	Text() []string
}

// Match reports whether f selects rec.
func (f *Filter) Match(rec Fields) bool {
	if f == nil || f.root == nil {
		return true
	}
	return f.root.match(rec)
}

func (n binaryNode) match(rec Fields) bool {
	if n.or {
		return n.left.match(rec) || n.right.match(rec)
	}
	return n.left.match(rec) && n.right.match(rec)
}

func (n notNode) match(rec Fields) bool {
	return !n.expr.match(rec)
}

func (n textNode) match(rec Fields) bool {
	for _, v := range rec.Text() {
		if strings.Contains(strings.ToLower(v), n.value) {
			return true
		}
	}
	return false
}

func (n matchNode) match(rec Fields) bool {
	v, ok := rec.Field(n.key)
	switch n.op {
	case tokNeq:
		return !ok || !equalFold(v, n.value)
	case tokTilde:
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(n.value))
	case tokGte:
		return ok && levelRank(v) >= levelRank(n.value)
	default:
		return ok && equalFold(v, n.value)
	}
}

// equalFold compares case-insensitively; a trailing * in pattern matches any
// suffix.
func equalFold(v, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return len(v) >= len(prefix) && strings.EqualFold(v[:len(prefix)], prefix)
	}
	return strings.EqualFold(v, pattern)
}

var levels = map[string]int{
	"TRACE":   0,
	"DEBUG":   1,
	"INFO":    2,
	"WARN":    3,
	"WARNING": 3,
	"ERROR":   4,
	"FATAL":   5,
	"PANIC":   5,
}

func levelRank(level string) int {
	if r, ok := levels[strings.ToUpper(level)]; ok {
		return r
	}
	return -1
}

func canonicalKey(key string) string {
	switch k := strings.ToLower(key); k {
	case "msg", "message":
		return "msg"
	case "lvl", "level":
		return "level"
	case "svc", "service":
		return "service"
	case "ts", "time", "timestamp":
		return "ts"
	case "instance":
		return "instance"
	default:
		if strings.HasPrefix(k, "attrs.") {
			return "attrs." + key[len("attrs."):]
		}
		// Attribute names keep their case.
		return key
	}
}

// EntryFields exposes a stored entry to filters.
type EntryFields logline.Entry

// Field implements Fields.
func (e EntryFields) Field(key string) (string, bool) {
	switch key {
	case "msg":
		return e.Message, true
	case "level":
		return e.Level, true
	case "ts":
		return e.Time.Format(time.RFC3339Nano), true
	}
	if name, ok := strings.CutPrefix(key, "attrs."); ok {
		v, ok := e.Attrs[name]
		return v, ok
	}
	v, ok := e.Attrs[key]
	return v, ok
}

// Text implements Fields.
func (e EntryFields) Text() []string {
	out := make([]string, 0, 2+len(e.Attrs))
	out = append(out, e.Message, e.Level)
	for _, v := range e.Attrs {
		out = append(out, v)
	}
	return out
}
