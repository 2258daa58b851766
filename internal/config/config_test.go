package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "app", cfg.Store.Name)
	assert.Equal(t, 10, cfg.Store.MaxSizeMB)
	assert.Equal(t, 5*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, SinkHTTP, cfg.Upload.Sink)
	assert.Equal(t, ":8088", cfg.Collector.Addr)
	assert.Equal(t, 168*time.Hour, cfg.Collector.Retention)
	assert.Empty(t, cfg.Collector.APIKeyHashes)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "logserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
store:
  dir: /var/lib/app/logs
  max_size_mb: 2
upload:
  sink: s3
  s3:
    bucket: device-logs
    use_ssl: true
collector:
  retention: 72h
  api_key_hashes: ["$2a$10$abc"]
`), 0o644))

	t.Setenv("LOGSERVER_UPLOAD_API_KEY", "sk-env")
	t.Setenv("LOGSERVER_COLLECTOR_RETENTION", "24h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/app/logs", cfg.Store.Dir)
	assert.Equal(t, 2, cfg.Store.MaxSizeMB)
	assert.Equal(t, SinkS3, cfg.Upload.Sink)
	assert.Equal(t, "device-logs", cfg.Upload.S3.Bucket)
	assert.True(t, cfg.Upload.S3.UseSSL)
	assert.Equal(t, "sk-env", cfg.Upload.APIKey)
	assert.Equal(t, 24*time.Hour, cfg.Collector.Retention, "env wins over file")
	assert.Equal(t, []string{"$2a$10$abc"}, cfg.Collector.APIKeyHashes)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"LOGSERVER_UPLOAD_URL=http://collector:9000\nLOGSERVER_STORE_MAX_BACKUPS=9\nOTHER=1\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://collector:9000", cfg.Upload.URL)
	assert.Equal(t, 9, cfg.Store.MaxBackups)
}

func TestLoadErrors(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("LOGSERVER_UPLOAD_SINK", "ftp")
	_, err = Load("")
	assert.ErrorContains(t, err, "upload.sink")
}
