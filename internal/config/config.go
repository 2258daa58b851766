// Package config loads logserver settings from defaults, an optional config
// file, a .env file and LOGSERVER_* environment variables, in increasing
// order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LOGSERVER_UPLOAD_URL
// sets upload.url.
const EnvPrefix = "LOGSERVER"

// Config is the full logserver configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Store     StoreConfig     `mapstructure:"store"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Collector CollectorConfig `mapstructure:"collector"`
}

// StoreConfig configures local capture. Empty values fall back to the store
// defaults.
type StoreConfig struct {
	Dir            string        `mapstructure:"dir"`
	Name           string        `mapstructure:"name"`
	MaxSizeMB      int           `mapstructure:"max_size_mb"`
	MaxBackups     int           `mapstructure:"max_backups"`
	MaxAgeDays     int           `mapstructure:"max_age_days"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	UploadAttempts int           `mapstructure:"upload_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// Sink kinds.
const (
	SinkHTTP = "http"
	SinkS3   = "s3"
)

// UploadConfig selects and configures the remote sink.
type UploadConfig struct {
	Sink    string        `mapstructure:"sink"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Service string        `mapstructure:"service"`
	Timeout time.Duration `mapstructure:"timeout"`
	S3      S3Config      `mapstructure:"s3"`
}

// S3Config configures the object storage sink.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// CollectorConfig configures `logserver serve`.
type CollectorConfig struct {
	Addr            string        `mapstructure:"addr"`
	DataDir         string        `mapstructure:"data_dir"`
	APIKeyHashes    []string      `mapstructure:"api_key_hashes"`
	Retention       time.Duration `mapstructure:"retention"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	CleanInterval   time.Duration `mapstructure:"clean_interval"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	InstanceTimeout time.Duration `mapstructure:"instance_timeout"`
	MaxBodyMB       int           `mapstructure:"max_body_mb"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("store.dir", "")
	v.SetDefault("store.name", "app")
	v.SetDefault("store.max_size_mb", 10)
	v.SetDefault("store.max_backups", 5)
	v.SetDefault("store.max_age_days", 0)
	v.SetDefault("store.lock_timeout", 5*time.Second)
	v.SetDefault("store.upload_attempts", 3)
	v.SetDefault("store.retry_backoff", 500*time.Millisecond)

	v.SetDefault("upload.sink", SinkHTTP)
	v.SetDefault("upload.url", "http://localhost:8088")
	v.SetDefault("upload.api_key", "")
	v.SetDefault("upload.service", "default")
	v.SetDefault("upload.timeout", 10*time.Second)
	v.SetDefault("upload.s3.endpoint", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.bucket", "logs")
	v.SetDefault("upload.s3.prefix", "")
	v.SetDefault("upload.s3.use_ssl", false)

	v.SetDefault("collector.addr", ":8088")
	v.SetDefault("collector.data_dir", "./data")
	v.SetDefault("collector.api_key_hashes", []string{})
	v.SetDefault("collector.retention", 168*time.Hour)
	v.SetDefault("collector.flush_interval", 10*time.Second)
	v.SetDefault("collector.clean_interval", time.Hour)
	v.SetDefault("collector.rate_limit", 50.0)
	v.SetDefault("collector.rate_burst", 100)
	v.SetDefault("collector.instance_timeout", 10*time.Minute)
	v.SetDefault("collector.max_body_mb", 32)
}

// Load reads configuration. path names an optional YAML/JSON/TOML file; when
// it is empty only defaults, ./.env and the environment are used.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	if err := loadDotEnv(v, ".env"); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}
	return cfg, cfg.Validate()
}

// loadDotEnv applies LOGSERVER_* entries of a .env file that the process
// environment does not already set. Missing files are ignored.
func loadDotEnv(v *viper.Viper, file string) error {
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	ev := viper.New()
	ev.SetConfigFile(file)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read %s", file)
	}

	// Map env names back to dotted keys through the known key set so that
	// keys containing underscores resolve unambiguously.
	byEnv := make(map[string]string)
	for _, key := range v.AllKeys() {
		byEnv[strings.ToLower(EnvPrefix+"_"+strings.ReplaceAll(key, ".", "_"))] = key
	}
	for _, envKey := range ev.AllKeys() {
		key, ok := byEnv[strings.ToLower(envKey)]
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(strings.ToUpper(envKey)); set {
			continue
		}
		v.Set(key, ev.Get(envKey))
	}
	return nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	switch c.Upload.Sink {
	case SinkHTTP, SinkS3, "":
	default:
		return errors.Newf("upload.sink must be %q or %q, got %q", SinkHTTP, SinkS3, c.Upload.Sink)
	}
	if c.Store.MaxSizeMB < 0 || c.Store.MaxBackups < 0 || c.Store.MaxAgeDays < 0 {
		return errors.New("store size and retention limits must not be negative")
	}
	if c.Collector.Retention < 0 {
		return errors.New("collector.retention must not be negative")
	}
	if c.Collector.RateLimit < 0 {
		return errors.New("collector.rate_limit must not be negative")
	}
	return nil
}
