package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/domain"
)

// ReadFunc reads the current view of a record.
type ReadFunc func(ctx context.Context) (*domain.Record, error)

// Poll re-reads a record every interval until it is terminal or timeout
// elapses. Read errors are logged and retried on the next tick; they never
// end the wait on their own. No lock is held between reads.
//
// On timeout the last record seen (possibly nil) is returned together with
// domain.ErrTimeout. The record itself is never modified.
func Poll(ctx context.Context, read ReadFunc, timeout, interval time.Duration, logger *zap.Logger) (*domain.Record, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	deadline := time.Now().Add(timeout)
	var last *domain.Record

	for attempt := 1; ; attempt++ {
		rec, err := read(ctx)
		switch {
		case err == nil:
			last = rec
			if rec.Ready() {
				return rec, nil
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return last, err
		default:
			logger.Warn("transient result store read failure",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last, domain.ErrTimeout
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			return last, domain.ErrTimeout
		}
	}
}

// Reader adapts a plain Get into a ReadFunc.
func Reader(get func(ctx context.Context, id string) (*domain.Record, error), id string) ReadFunc {
	return func(ctx context.Context) (*domain.Record, error) {
		return get(ctx, id)
	}
}
