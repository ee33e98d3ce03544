package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dtroode/moodist-server/internal/metrics"
	"github.com/dtroode/moodist-server/internal/model"
)

// Store writes are attempted at most maxRetries+1 times.
const (
	maxRetries = 2
	retryDelay = 25 * time.Millisecond
)

// permanentError stops retries for an error that is otherwise retryable.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func retryReason(err error) (string, bool) {
	switch {
	case errors.Is(err, model.ErrRevisionConflict):
		return "revision_conflict", true
	case errors.Is(err, model.ErrIdentifierTaken):
		return "identifier_taken", true
	case errors.Is(err, model.ErrExhaustedAttempts):
		return "exhausted_attempts", true
	}
	return "", false
}

// withRetry runs fn, re-running it from scratch after revision conflicts and
// identifier collisions. fn must re-read every document it writes.
func withRetry(ctx context.Context, m *metrics.Metrics, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewConstant(retryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}

		if reason, ok := retryReason(err); ok {
			m.StoreRetry(reason)
			return retry.RetryableError(err)
		}
		return err
	})
}
