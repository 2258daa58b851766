package logstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriterSplitsLines(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteLog(context.Background()))

	w := s.NewLineWriter("WARN", map[string]string{"stream": "stderr"})
	_, err := fmt.Fprint(w, "first\r\nsec")
	require.NoError(t, err)
	_, err = fmt.Fprint(w, "ond\n\nthird")
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, storedMessages(t, s))

	require.NoError(t, w.Close())
	entries, err := s.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[2].Message)
	assert.Equal(t, "WARN", entries[2].Level)
	assert.Equal(t, "stderr", entries[2].Attrs["stream"])
	assert.NoError(t, w.Err())
}

func TestLineWriterDropsWhenNotCapturing(t *testing.T) {
	s := newTestStore(t)
	w := s.NewLineWriter("", nil)

	n, err := w.Write([]byte("ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.NoError(t, w.Err())
	assert.Empty(t, storedMessages(t, s))
}

func TestLineWriterCutsOverlongLines(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteLog(context.Background()))

	w := s.NewLineWriter("", nil)
	w.maxLine = 8
	_, err := w.Write([]byte("0123456789abcdefXY"))
	require.NoError(t, err)
	assert.Equal(t, []string{"01234567", "89abcdef"}, storedMessages(t, s))
	assert.LessOrEqual(t, len(w.buf), w.maxLine)

	// Multi-byte runes are not split.
	_, err = w.Write([]byte("é界\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"01234567", "89abcdef", "XYé界"}, storedMessages(t, s))

	_, err = w.Write([]byte("abcdef界界"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, []string{"01234567", "89abcdef", "XYé界", "abcdef", "界界"}, storedMessages(t, s))
}
