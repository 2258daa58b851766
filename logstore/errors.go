package logstore

import "github.com/cockroachdb/errors"

var (
	// ErrStorage marks failures to create, append to, read or delete local
	// storage. Use errors.Is to detect it; the cause is wrapped inside.
	ErrStorage = errors.New("log storage unavailable")
	// ErrNotCapturing is returned by Append when WriteLog has not armed capture.
	ErrNotCapturing = errors.New("log capture is not active")
	// ErrNoSink is reported by an upload started without a sink.
	ErrNoSink = errors.New("no upload sink configured")
	// ErrLockTimeout is returned when local storage stayed busy longer than
	// Options.LockTimeout.
	ErrLockTimeout = errors.New("timed out waiting for log storage")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("log store is closed")
	// ErrRejected marks sink errors that retrying cannot fix, such as a
	// collector refusing the payload or the credentials.
	ErrRejected = errors.New("upload rejected by remote")
)
