package llm

import (
	"context"
	"errors"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
)

// retryPolicy repeats rate-limited and server-failed requests with
// exponential backoff. It never sleeps past the caller's context.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if !errors.As(lastErr, &apiErr) || !apiErr.Retryable() {
			return lastErr
		}
	}
	return lastErr
}
