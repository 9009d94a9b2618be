package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff with jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the grown delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// JitterFraction randomizes each delay by up to this fraction in
	// either direction.
	JitterFraction float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the tuning used for LLM provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     20 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// DoVal runs fn until it succeeds, the error is permanent, the context
// ends, or attempts run out. The last error is returned on failure.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) || attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, backoff(attempt, cfg)) {
			break
		}
	}
	return zero, lastErr
}

// RetryLogger returns an OnRetry hook that logs each attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if max := float64(cfg.MaxBackoff); cfg.MaxBackoff > 0 && delay > max {
		delay = max
	}
	if cfg.JitterFraction > 0 {
		delay += delay * cfg.JitterFraction * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
