package logstore

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Handler is an slog.Handler that persists records into a Store while
// capture is active. When capture is off it reports itself disabled, so
// records cost nothing.
type Handler struct {
	store  *Store
	level  slog.Leveler
	attrs  map[string]string
	prefix string
}

var _ slog.Handler = (*Handler)(nil)

// Handler returns an slog.Handler backed by s. A nil level means slog.LevelInfo.
func (s *Store) Handler(level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{store: s, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.store.Capturing() && level >= h.level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		e.Attrs = make(map[string]string, len(h.attrs)+r.NumAttrs())
		for k, v := range h.attrs {
			e.Attrs[k] = v
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(e.Attrs, h.prefix, a)
			return true
		})
	}

	// A record outlives its request; only LockTimeout bounds the wait.
	err := h.store.Append(context.WithoutCancel(ctx), e)
	if errors.Is(err, ErrNotCapturing) {
		// Capture stopped between Enabled and Handle.
		return nil
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make(map[string]string, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		h2.attrs[k] = v
	}
	for _, a := range attrs {
		flatten(h2.attrs, h.prefix, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// flatten stores a into dst, joining group names with dots.
func flatten(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			flatten(dst, groupPrefix, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = v.String()
}
