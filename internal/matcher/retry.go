// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"
	"fmt"
	"time"
)

type retryConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries:     2,
	initialBackoff: 100 * time.Millisecond,
	maxBackoff:     1 * time.Second,
}

func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	backoff := cfg.initialBackoff

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.maxRetries, lastErr)
}
