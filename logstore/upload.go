package logstore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/coffersTech/logserver/internal/logline"
)

// UploadResult summarizes one upload.
type UploadResult struct {
	// Entries and Bytes describe the snapshot that was sent.
	Entries int
	Bytes   int
	// Attempts counts calls to the sink.
	Attempts int
	Duration time.Duration
}

// Upload is the handle of a background upload.
type Upload struct {
	done chan struct{}
	res  UploadResult
	err  error
}

func newUpload() *Upload {
	return &Upload{done: make(chan struct{})}
}

func (u *Upload) finish(res UploadResult, err error) {
	u.res, u.err = res, err
	close(u.done)
}

// Done is closed when the upload finished, successfully or not.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the upload finishes or ctx ends. A ctx ending only stops
// the wait; the upload itself carries on under the context it was started
// with.
func (u *Upload) Wait(ctx context.Context) (UploadResult, error) {
	select {
	case <-u.done:
		return u.res, u.err
	case <-ctx.Done():
		return UploadResult{}, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while running.
func (u *Upload) Result() (res UploadResult, ok bool) {
	select {
	case <-u.done:
		return u.res, true
	default:
		return UploadResult{}, false
	}
}

// Err returns the upload error, or nil while running or on success.
func (u *Upload) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}

// UploadLog sends the current local entries to the sink in the background and
// returns immediately. Local storage is never modified by an upload: a failed
// upload can be retried and a successful one is followed by ClearLog when the
// caller wants the entries gone. The upload stops when ctx ends or the store
// is closed.
func (s *Store) UploadLog(ctx context.Context) *Upload {
	u := newUpload()

	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		u.finish(UploadResult{}, ErrClosed)
		return u
	}
	s.wg.Add(1)
	s.closeMu.RUnlock()

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()

		res, err := s.upload(ctx)
		s.metrics.observeUpload(res, err)
		if err != nil {
			s.log.Warn("log upload failed", "entries", res.Entries, "attempts", res.Attempts, "err", err)
		} else {
			s.log.Info("log upload finished", "entries", res.Entries, "bytes", res.Bytes, "duration", res.Duration)
		}
		if s.opts.OnUpload != nil {
			s.opts.OnUpload(res, err)
		}
		u.finish(res, err)
	}()
	return u
}

func (s *Store) upload(ctx context.Context) (res UploadResult, err error) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	sink := s.currentSink()
	if sink == nil {
		return res, ErrNoSink
	}

	payload, err := s.snapshot(ctx)
	if err != nil {
		return res, err
	}
	res.Entries = logline.Count(payload)
	res.Bytes = len(payload)
	if res.Entries == 0 {
		return res, nil
	}

	delay := s.opts.RetryBackoff
	for {
		res.Attempts++
		err = sink.Send(ctx, payload)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrRejected) || res.Attempts >= s.opts.UploadAttempts || ctx.Err() != nil {
			return res, errors.Wrapf(err, "upload %d entries", res.Entries)
		}
		s.log.Debug("upload attempt failed, retrying",
			"attempt", res.Attempts, "retry_delay", delay, "err", err)
		if serr := sleepCtx(ctx, delay); serr != nil {
			return res, errors.WithSecondaryError(
				errors.Wrapf(serr, "upload cancelled after %d attempts", res.Attempts), err)
		}
		delay = nextBackoff(delay, s.opts.MaxRetryBackoff)
	}
}
