package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"aidesk/internal/logging"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int           // Retries after the first attempt
	BaseDelay    time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap for exponential growth; 0 disables the cap
	Exponential  bool          // Double the delay after every attempt
	JitterFactor float64       // ±fraction of randomization applied to each delay
}

// FixedRetryConfig waits the same delay between a bounded number of attempts.
func FixedRetryConfig(attempts int, delay time.Duration) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: delay}
}

// RetryWithResult runs fn until it succeeds, fails permanently, the attempts
// are exhausted or ctx is done. Only transient errors are retried.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context, attempt int) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)

	var lastErr error
	var zeroValue T

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zeroValue, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		logger.Debug("Attempt %d/%d failed: %v", attempt+1, config.MaxAttempts+1, err)

		if !IsTransient(err) {
			return zeroValue, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("Max retries (%d) exhausted", config.MaxAttempts+1)
			break
		}

		delay := calculateBackoff(attempt, config)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zeroValue, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zeroValue, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Retry is RetryWithResult for functions without a result.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error, logger logging.Logger) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := config.BaseDelay
	if config.Exponential {
		delay = time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
