package collector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveWriteRead(t *testing.T) {
	a, err := NewArchiver(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)

	t0 := time.Unix(0, 1735230000000000000)
	recs := []Record{
		testRecord("second", t0.Add(time.Second)),
		testRecord("first", t0),
	}
	path, err := a.Write(recs)
	require.NoError(t, err)
	assert.Equal(t, "batch_1735230000000000000_1735230001000000000.ndjson.zst", filepath.Base(path))

	got, err := a.Read(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Message)
	assert.Equal(t, "inst-1", got[1].Instance)

	// Same range again does not overwrite.
	path2, err := a.Write(recs)
	require.NoError(t, err)
	assert.NotEqual(t, path, path2)
	maxTs, err := extractMaxTs(filepath.Base(path2))
	require.NoError(t, err)
	assert.Equal(t, int64(1735230001000000000), maxTs)

	names, err := a.List()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestArchiveWriteEmpty(t *testing.T) {
	a, err := NewArchiver(t.TempDir())
	require.NoError(t, err)
	path, err := a.Write(nil)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestExtractMaxTs(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"batch_1_2.ndjson.zst", 2, false},
		{"batch_1_2-3.ndjson.zst", 2, false},
		{"batch_-9_-5.ndjson.zst", -5, false},
		{"batch_-9_-5-1.ndjson.zst", -5, false},
		{"batch_-9_5-12.ndjson.zst", 5, false},
		{"batch_1.ndjson.zst", 0, true},
		{"log_1_2.nano", 0, true},
		{"batch_a_b.ndjson.zst", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractMaxTs(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPurgeExpired(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchiver(dir)
	require.NoError(t, err)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	old, err := a.Write([]Record{testRecord("old", now.Add(-48*time.Hour))})
	require.NoError(t, err)
	fresh, err := a.Write([]Record{testRecord("fresh", now.Add(-time.Hour))})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	removed, err := a.PurgeExpired(0, now)
	require.NoError(t, err)
	assert.Empty(t, removed, "zero retention keeps everything")

	removed, err = a.PurgeExpired(24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(old)}, removed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestPurgeExpiredPreEpoch(t *testing.T) {
	a, err := NewArchiver(t.TempDir())
	require.NoError(t, err)

	ancient := time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC)
	path, err := a.Write([]Record{testRecord("ancient", ancient)})
	require.NoError(t, err)
	dup, err := a.Write([]Record{testRecord("ancient", ancient)})
	require.NoError(t, err)
	require.NotEqual(t, path, dup)

	removed, err := a.PurgeExpired(24*time.Hour, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Base(path), filepath.Base(dup)}, removed)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, dup)
}
