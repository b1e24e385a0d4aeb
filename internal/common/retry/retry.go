// internal/common/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"time"

	"placement-broker/internal/common/logger"
)

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// WithBackoff runs operation until it succeeds, returns a non-retryable error,
// runs out of attempts or ctx is done. The delay doubles after each failure.
func WithBackoff(ctx context.Context, p Policy, log logger.Logger, operationName string, operation func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = operation(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		if log != nil {
			log.Warn(fmt.Sprintf("%s failed, retrying", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     attempt,
				"maxAttempts": p.MaxAttempts,
				"nextRetryIn": delay.String(),
			})
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, ctx.Err())
			case <-timer.C:
			}
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, p.MaxAttempts, err)
}
