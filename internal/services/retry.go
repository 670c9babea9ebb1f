package services

import (
	"context"
	"time"

	"supportdraft/internal/domain"
)

// withRetry runs op once plus up to retries more times while it fails with a
// retryable error, waiting backoff, 2*backoff, ... between attempts
func withRetry(ctx context.Context, retries int, backoff time.Duration, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil || !domain.IsRetryable(err) || attempt >= retries {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * backoff):
		}
	}
}
