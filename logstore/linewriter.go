package logstore

import (
	"bytes"
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// MaxLineBytes caps a buffered line. Output without newlines is cut into
// entries of at most this size.
const MaxLineBytes = 64 << 10

// LineWriter is an io.WriteCloser that turns arbitrary output, such as a
// redirected stderr or a child process, into one entry per line. Writes are
// best effort: a storage failure never fails the producer, it is logged and
// kept for Err.
type LineWriter struct {
	store *Store
	level string
	attrs map[string]string

	maxLine int

	mu      sync.Mutex
	buf     []byte
	lastErr error
}

// NewLineWriter returns a writer appending each complete line to s at level.
func (s *Store) NewLineWriter(level string, attrs map[string]string) *LineWriter {
	return &LineWriter{store: s, level: level, attrs: attrs, maxLine: MaxLineBytes}
}

// Write buffers p and appends every complete line.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := w.buf[:idx]
		w.emit(line)
		w.buf = w.buf[idx+1:]
	}
	for len(w.buf) > w.maxLine {
		cut := w.maxLine
		for cut > 0 && !utf8.RuneStart(w.buf[cut]) {
			cut--
		}
		if cut == 0 {
			cut = w.maxLine
		}
		w.emit(w.buf[:cut])
		w.buf = w.buf[cut:]
	}
	return len(p), nil
}

// Close appends a trailing line left without a newline.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

// Err returns the last storage error seen, if any.
func (w *LineWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	err := w.store.Append(context.Background(), Entry{
		Time:    time.Now(),
		Level:   w.level,
		Message: string(line),
		Attrs:   w.attrs,
	})
	if err != nil && !errors.Is(err, ErrNotCapturing) {
		w.lastErr = err
		w.store.log.Warn("dropped captured line", "err", err)
	}
}
