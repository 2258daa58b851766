// Package logline defines the on-disk and on-wire form of a log entry: one
// JSON object per line.
package logline

import (
	"bytes"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/encoding/json"
	"github.com/valyala/fastjson"
)

// DefaultLevel is used for entries emitted without a severity.
const DefaultLevel = "INFO"

// Entry is one timestamped unit of log text.
type Entry struct {
	Time    time.Time         `json:"ts"`
	Level   string            `json:"level"`
	Message string            `json:"msg"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// ErrMalformed is returned for lines that are not a log entry object.
var ErrMalformed = errors.New("malformed log line")

// Encode renders e as a single newline-terminated line.
func Encode(e Entry) ([]byte, error) {
	if e.Level == "" {
		e.Level = DefaultLevel
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encode log entry")
	}
	return append(data, '\n'), nil
}

// Decode parses one line with p. Besides the native fields it accepts the
// collector's legacy shape: "timestamp" in unix nanos and "message".
func Decode(p *fastjson.Parser, line []byte) (Entry, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return Entry{}, errors.Mark(errors.Wrap(err, "parse log line"), ErrMalformed)
	}
	return FromValue(v)
}

// FromValue converts an already parsed JSON object into an Entry.
func FromValue(v *fastjson.Value) (Entry, error) {
	if v.Type() != fastjson.TypeObject {
		return Entry{}, errors.Wrapf(ErrMalformed, "expected object, got %s", v.Type())
	}

	var e Entry
	switch ts := v.Get("ts"); {
	case ts != nil && ts.Type() == fastjson.TypeString:
		t, err := time.Parse(time.RFC3339Nano, string(ts.GetStringBytes()))
		if err != nil {
			return Entry{}, errors.Mark(errors.Wrap(err, "parse ts"), ErrMalformed)
		}
		e.Time = t
	case v.Exists("timestamp"):
		e.Time = time.Unix(0, v.GetInt64("timestamp"))
	}

	e.Level = strings.ToUpper(string(v.GetStringBytes("level")))
	if e.Level == "" {
		e.Level = DefaultLevel
	}

	e.Message = string(v.GetStringBytes("msg"))
	if e.Message == "" {
		e.Message = string(v.GetStringBytes("message"))
	}

	if attrs := v.GetObject("attrs"); attrs != nil && attrs.Len() > 0 {
		e.Attrs = make(map[string]string, attrs.Len())
		attrs.Visit(func(key []byte, av *fastjson.Value) {
			if av.Type() == fastjson.TypeString {
				e.Attrs[string(key)] = string(av.GetStringBytes())
				return
			}
			e.Attrs[string(key)] = av.String()
		})
	}
	return e, nil
}

// Lines calls fn for every non-empty line in data. A final line without a
// terminating newline is passed too; callers that must reject torn writes
// trim data first (see Complete).
func Lines(data []byte, fn func(line []byte) error) error {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		var line []byte
		if idx < 0 {
			line, data = data, nil
		} else {
			line, data = data[:idx], data[idx+1:]
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return nil
}

// Complete returns the prefix of data that ends with a newline, dropping a
// partially written last line.
func Complete(data []byte) []byte {
	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil
	}
	return data[:idx+1]
}

// Count returns the number of entries in data.
func Count(data []byte) int {
	n := 0
	_ = Lines(data, func([]byte) error {
		n++
		return nil
	})
	return n
}

// DecodeAll parses every line in data.
func DecodeAll(data []byte) ([]Entry, error) {
	var p fastjson.Parser
	var out []Entry
	err := Lines(data, func(line []byte) error {
		e, err := Decode(&p, line)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
