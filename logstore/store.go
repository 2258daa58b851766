// Package logstore captures application logs to local storage, uploads them
// to a remote sink in the background and clears them on demand.
//
// A Store is normally built once by the host's composition root with New and
// passed to whoever logs. Shared returns a lazily built process-wide store for
// callers that cannot be handed one.
package logstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/coffersTech/logserver/internal/journal"
	"github.com/coffersTech/logserver/internal/logline"
)

// Entry is one timestamped unit of log text.
type Entry = logline.Entry

// Status describes local storage at a point in time.
type Status struct {
	Capturing bool
	Dir       string
	Segments  int
	Bytes     int64
}

// Store owns local log storage. All methods are safe for concurrent use;
// appends, snapshots and clears are serialized against the storage.
type Store struct {
	opts    Options
	log     *log.Logger
	journal *journal.Journal
	metrics *metrics

	// sem is the storage lock. A channel lets acquisition honour contexts
	// and LockTimeout.
	sem       chan struct{}
	capturing atomic.Bool

	// uploadMu keeps at most one upload talking to the sink.
	uploadMu sync.Mutex

	sinkMu sync.RWMutex
	sink   Sink

	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// New builds a store. It does not touch the disk; WriteLog creates storage.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		opts: opts,
		log:  opts.Logger,
		journal: journal.New(journal.Config{
			Dir:        opts.Dir,
			Name:       opts.Name,
			MaxSizeMB:  opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAgeDays: opts.MaxAgeDays,
		}),
		metrics: newMetrics(opts.Registerer),
		sem:     make(chan struct{}, 1),
		sink:    opts.Sink,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dir returns the local storage directory.
func (s *Store) Dir() string {
	return s.opts.Dir
}

// SetSink replaces the sink used by uploads started afterwards.
func (s *Store) SetSink(sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

func (s *Store) currentSink() Sink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

func (s *Store) isClosed() bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	return s.closed
}

// acquire takes the storage lock, waiting at most LockTimeout.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()

	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrLockTimeout, "after %s", s.opts.LockTimeout)
		}
		return nil, ctx.Err()
	}
}

// WriteLog creates local storage if needed and starts capturing: from now on
// Append, the slog handler and line writers persist entries. Calling it while
// already capturing is a no-op.
func (s *Store) WriteLog(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	// Close may have run while we waited for the lock.
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.retryStorage(ctx, "open log storage", s.journal.Open); err != nil {
		s.log.Error("cannot open log storage", "dir", s.opts.Dir, "err", err)
		return err
	}
	if !s.capturing.Swap(true) {
		s.log.Info("log capture started", "path", s.journal.ActivePath())
	}
	return nil
}

// StopLog stops capturing and releases the active segment. Stored entries
// are kept.
func (s *Store) StopLog(ctx context.Context) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.capturing.Swap(false) {
		s.log.Info("log capture stopped")
	}
	return errors.Mark(s.journal.Close(), ErrStorage)
}

// Capturing reports whether WriteLog armed capture.
func (s *Store) Capturing() bool {
	return s.capturing.Load()
}

// Append persists one entry. It fails with ErrNotCapturing unless WriteLog
// was called. The entry is written with a single write under the storage
// lock, so it is either fully stored or not at all.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if !s.capturing.Load() {
		if s.isClosed() {
			return ErrClosed
		}
		return ErrNotCapturing
	}
	line, err := logline.Encode(e)
	if err != nil {
		return err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	// StopLog or Close may have won the lock first.
	if !s.capturing.Load() {
		if s.isClosed() {
			return ErrClosed
		}
		return ErrNotCapturing
	}
	if err := s.journal.Append(line); err != nil {
		s.metrics.appendErrors.Inc()
		return errors.Mark(err, ErrStorage)
	}
	s.metrics.appended.Inc()
	return nil
}

// Log appends msg at the default level.
func (s *Store) Log(ctx context.Context, msg string) error {
	return s.Append(ctx, Entry{Time: time.Now(), Message: msg})
}

// snapshot reads every stored line at a quiescent point.
func (s *Store) snapshot(ctx context.Context) ([]byte, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var data []byte
	err = s.retryStorage(ctx, "read log storage", func() error {
		var rerr error
		data, rerr = s.journal.Snapshot()
		return rerr
	})
	return data, err
}

// Entries returns the stored entries, oldest first.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	data, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := logline.DecodeAll(data)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode local storage"), ErrStorage)
	}
	return entries, nil
}

// Stat reports the capture state and the size of local storage.
func (s *Store) Stat(ctx context.Context) (Status, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return Status{}, err
	}
	defer release()

	size, segments, err := s.journal.Size()
	if err != nil {
		return Status{}, errors.Mark(err, ErrStorage)
	}
	return Status{
		Capturing: s.capturing.Load(),
		Dir:       s.opts.Dir,
		Segments:  segments,
		Bytes:     size,
	}, nil
}

// ClearLog deletes all local entries. Capture keeps its state: if it was
// active, the next entry starts a fresh segment.
func (s *Store) ClearLog(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.isClosed() {
		return ErrClosed
	}
	if err := s.retryStorage(ctx, "clear log storage", s.journal.Clear); err != nil {
		s.log.Error("cannot clear log storage", "dir", s.opts.Dir, "err", err)
		return err
	}
	s.metrics.clears.Inc()
	s.log.Info("local logs cleared", "dir", s.opts.Dir)
	return nil
}

// Close stops capture, cancels running uploads and waits for them. Local
// storage is left as it is.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.capturing.Store(false)
	s.cancel()
	s.wg.Wait()

	if release, err := s.acquire(context.Background()); err == nil {
		defer release()
	}
	// A WriteLog that held the lock across the flag above re-armed capture.
	s.capturing.Store(false)
	return errors.Mark(s.journal.Close(), ErrStorage)
}
