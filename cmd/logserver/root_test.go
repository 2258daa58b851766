package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logserver/internal/collector"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newTestCollector(t *testing.T) *collector.Server {
	t.Helper()
	srv, err := collector.New(collector.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	t.Setenv("LOGSERVER_UPLOAD_URL", ts.URL)
	return srv
}

func TestCaptureUploadClear(t *testing.T) {
	chdir(t, t.TempDir())
	storeDir := filepath.Join(t.TempDir(), "store")
	t.Setenv("LOGSERVER_STORE_DIR", storeDir)
	t.Setenv("LOGSERVER_UPLOAD_SERVICE", "cli-test")
	srv := newTestCollector(t)

	_, err := run(t, "", "write", "--attr", "step=boot", "device", "booted")
	require.NoError(t, err)
	_, err = run(t, "line one\r\nline two\n\npartial", "write", "--level", "WARN")
	require.NoError(t, err)

	out, err := run(t, "", "show")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "INFO  device booted step=\"boot\"")
	assert.Contains(t, lines[1], "WARN  line one")
	assert.Contains(t, lines[3], "partial")

	out, err = run(t, "", "show", "--json", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"msg":"partial"`)

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "dir:      "+storeDir)
	assert.Contains(t, out, "segments: 1")

	out, err = run(t, "", "upload", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded 4 entries")

	n, err := srv.Flush()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.Len(t, srv.Registry().List(), 1)
	assert.Equal(t, "cli-test", srv.Registry().List()[0].ServiceName)

	out, err = run(t, "", "show")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestUploadEmptyStore(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOGSERVER_STORE_DIR", t.TempDir())
	srv := newTestCollector(t)

	out, err := run(t, "", "upload")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded 0 entries")

	n, err := srv.Flush()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearCommand(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOGSERVER_STORE_DIR", t.TempDir())

	_, err := run(t, "", "write", "hello")
	require.NoError(t, err)
	out, err := run(t, "", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "segments: 0")
}

func TestWriteRejectsBadAttr(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOGSERVER_STORE_DIR", t.TempDir())
	_, err := run(t, "", "write", "--attr", "novalue", "x")
	assert.ErrorContains(t, err, "invalid attribute")
}

func TestHashKey(t *testing.T) {
	chdir(t, t.TempDir())
	out, err := run(t, "", "hash-key")
	require.NoError(t, err)
	assert.Contains(t, out, "key:  sk-")
	assert.Contains(t, out, "hash: $2a$")

	out, err = run(t, "", "hash-key", "my-key")
	require.NoError(t, err)
	assert.NotContains(t, out, "key:")
}

func TestShowQuery(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOGSERVER_STORE_DIR", t.TempDir())

	_, err := run(t, "", "write", "cache warmed")
	require.NoError(t, err)
	_, err = run(t, "", "write", "--level", "ERROR", "--attr", "job=sync", "sync timeout")
	require.NoError(t, err)

	out, err := run(t, "", "show", "-q", "level>=WARN")
	require.NoError(t, err)
	assert.Contains(t, out, "sync timeout")
	assert.NotContains(t, out, "cache warmed")

	out, err = run(t, "", "show", "--query", "job:sync OR cache", "--since", "1h")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))

	_, err = run(t, "", "show", "-q", "(broken")
	assert.Error(t, err)
}
