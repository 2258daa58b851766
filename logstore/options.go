package logstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/logserver/internal/logging"
)

// Options configures a Store. Zero fields take the defaults of DefaultOptions.
type Options struct {
	// Dir is the local storage directory.
	Dir string
	// Name is the segment base name inside Dir.
	Name string
	// MaxSizeMB rotates the active segment at this size.
	MaxSizeMB int
	// MaxBackups caps the number of rotated segments kept; 0 keeps all.
	MaxBackups int
	// MaxAgeDays drops rotated segments older than this; 0 keeps all.
	MaxAgeDays int

	// LockTimeout bounds how long an operation waits for local storage.
	LockTimeout time.Duration
	// StorageAttempts is how many times a storage open, read or clear is tried.
	StorageAttempts int
	// UploadAttempts is how many times a snapshot is sent before giving up.
	UploadAttempts int
	// RetryBackoff is the first retry delay; it doubles up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// Sink receives uploads. It can also be set later with SetSink.
	Sink Sink
	// OnUpload, when set, is called once per upload after it finishes.
	OnUpload func(UploadResult, error)

	// Logger receives the store's own diagnostics. Defaults to discard.
	Logger *log.Logger
	// Registerer, when set, receives the store's metrics.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the options used by Shared.
func DefaultOptions() Options {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return Options{
		Dir:             filepath.Join(base, "logserver"),
		Name:            "app",
		MaxSizeMB:       10,
		MaxBackups:      5,
		LockTimeout:     5 * time.Second,
		StorageAttempts: 3,
		UploadAttempts:  3,
		RetryBackoff:    500 * time.Millisecond,
		MaxRetryBackoff: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Dir == "" {
		o.Dir = def.Dir
	}
	if o.Name == "" {
		o.Name = def.Name
	}
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = def.MaxSizeMB
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = def.LockTimeout
	}
	if o.StorageAttempts <= 0 {
		o.StorageAttempts = def.StorageAttempts
	}
	if o.UploadAttempts <= 0 {
		o.UploadAttempts = def.UploadAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = def.RetryBackoff
	}
	if o.MaxRetryBackoff < o.RetryBackoff {
		o.MaxRetryBackoff = def.MaxRetryBackoff
		if o.MaxRetryBackoff < o.RetryBackoff {
			o.MaxRetryBackoff = o.RetryBackoff
		}
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}
