package fetcher

import (
	"context"
	"time"

	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// withRetry runs fn up to attempts times with exponential backoff from
// base between attempts. Only transient network failures are retried;
// blocked, timeout, and validation outcomes return immediately so the
// escalation ladder, not this helper, decides what happens next.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() (*models.FetchResult, error)) (*models.FetchResult, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := base << (i - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, models.NewFetchError(models.ErrCodeTimeout, "deadline reached during retry backoff", ctx.Err())
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		switch models.CodeOf(err) {
		case models.ErrCodeNetwork:
			lastErr = err
		default:
			return nil, err
		}
	}
	return nil, lastErr
}
