package cache

import (
	"context"
	"errors"
	"time"
)

// fetchWithRetry calls the fetcher up to maxRetries times. Only transport
// failures are retried, after a backoff that starts at baseBackoff and
// doubles per attempt. Any other error returns immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, key string, maxRetries int) ([]byte, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxRetries; attempt++ {
		attempts = attempt
		o.network.Add(1)
		body, err := o.fetcher.Fetch(ctx, key)
		if err == nil {
			return body, nil
		}

		var te *TransportError
		if !errors.As(err, &te) {
			o.logger.WarnContext(ctx, "cache: fetch failed", "key", key, "attempt", attempt, "error", err)
			return nil, err
		}
		lastErr = err

		if attempt < maxRetries {
			wait := o.baseBackoff * (1 << uint(attempt-1))
			o.retries.Add(1)
			o.logger.WarnContext(ctx, "cache: retrying fetch",
				"key", key,
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			if err := o.sleep(ctx, wait); err != nil {
				break
			}
		}
	}

	var te *TransportError
	if errors.As(lastErr, &te) {
		return nil, &TransportError{URL: te.URL, Attempts: attempts, Err: te.Err}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
