package logstore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerCapturesOnlyWhileActive(t *testing.T) {
	s := newTestStore(t)
	logger := slog.New(s.Handler(slog.LevelInfo))

	logger.Info("before capture")

	require.NoError(t, s.WriteLog(context.Background()))
	logger.Debug("below level")
	logger.Info("order placed", "order_id", 42, slog.Group("user", "id", "u-1"))
	logger.With("svc", "billing").WithGroup("req").Warn("slow", "ms", 950)

	entries, err := s.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "order placed", entries[0].Message)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, map[string]string{"order_id": "42", "user.id": "u-1"}, entries[0].Attrs)

	assert.Equal(t, "slow", entries[1].Message)
	assert.Equal(t, "WARN", entries[1].Level)
	assert.Equal(t, map[string]string{"svc": "billing", "req.ms": "950"}, entries[1].Attrs)
}

func TestHandlerEnabled(t *testing.T) {
	s := newTestStore(t)
	h := s.Handler(nil)

	assert.False(t, h.Enabled(context.Background(), slog.LevelError))
	require.NoError(t, s.WriteLog(context.Background()))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestHandlerIgnoresCallerCancellation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteLog(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slog.New(s.Handler(slog.LevelInfo)).InfoContext(ctx, "request finished")

	assert.Equal(t, []string{"request finished"}, storedMessages(t, s))
}
