package s3

import (
	"context"
	"time"
)

// withRetry runs fn up to c.attempts times. Failures are classified; only
// retryable ones are tried again, after a context-aware sleep of
// 2^attempt backoff units (1s then 2s with the defaults).
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				c.logger.Debug("retry succeeded", "op", op, "attempt", attempt+1)
			}
			return nil
		}

		lastErr = classify(op, err)
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == c.attempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * c.backoffUnit
		c.logger.Warn("transient remote failure, backing off",
			"op", op, "attempt", attempt+1, "backoff", backoff, "err", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
