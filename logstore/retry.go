package logstore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// retryStorage runs fn up to StorageAttempts times with doubling delays.
func (s *Store) retryStorage(ctx context.Context, op string, fn func() error) error {
	delay := s.opts.RetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= s.opts.StorageAttempts {
			break
		}
		s.log.Warn("storage operation failed, retrying",
			"op", op, "attempt", attempt, "retry_delay", delay, "err", err)
		if serr := sleepCtx(ctx, delay); serr != nil {
			return errors.Mark(errors.WithSecondaryError(serr, err), ErrStorage)
		}
		delay = nextBackoff(delay, s.opts.MaxRetryBackoff)
	}
	return errors.Mark(errors.Wrapf(err, "%s after %d attempts", op, s.opts.StorageAttempts), ErrStorage)
}

func nextBackoff(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		return max
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
