package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// casBackOff is a short exponential backoff for optimistic write conflicts.
func casBackOff(ctx context.Context, retries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

const (
	// settledRetries bounds retries of writes that follow a successful
	// ledger settlement. Those writes must land, so they get a wider budget
	// and ignore caller cancellation.
	settledRetries = 64

	// transientRetries bounds how often a settled write is retried after a
	// store error that is not a version conflict.
	transientRetries = 4
)

// withCAS runs op until it succeeds, fails with anything other than
// domain.ErrStaleState, or runs out of retries. Exhausted retries surface
// as domain.ErrInvalidState.
func (e *Engine) withCAS(ctx context.Context, op func() error) error {
	return e.retry(ctx, e.cfg.CASRetries, 0, op)
}

// retrySettled retries version conflicts with the settled budget and also
// retries transient store failures a few times.
func (e *Engine) retrySettled(ctx context.Context, op func() error) error {
	return e.retry(ctx, settledRetries, transientRetries, op)
}

func (e *Engine) retry(ctx context.Context, retries uint64, transient int, op func() error) error {
	failures := 0
	err := backoff.Retry(func() error {
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrStaleState):
			e.metrics.casConflict()
			return err
		case failures < transient && !isFinal(err):
			failures++
			e.logger.Warn("retrying store write", "attempt", failures, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, casBackOff(ctx, retries))

	if errors.Is(err, domain.ErrStaleState) {
		return fmt.Errorf("%w: order changed concurrently, retries exhausted", domain.ErrInvalidState)
	}
	return err
}

// isFinal reports errors that no retry can fix.
func isFinal(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrDuplicateTrade) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, context.Canceled)
}
