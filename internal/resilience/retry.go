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
	// MaxAttempts includes the first try. Default 3.
	MaxAttempts int
	// InitialBackoff is the first delay. Default 250ms.
	InitialBackoff time.Duration
	// MaxBackoff caps any single delay. Default 5s.
	MaxBackoff time.Duration
	// Jitter is a fraction of the delay applied in both directions. Default 0.2.
	Jitter float64
	// Retryable decides whether err warrants another attempt. Default: IsTransient.
	Retryable func(err error) bool
	// Label names the operation in retry logs.
	Label string
}

// DefaultRetryConfig returns the defaults for provider lookups.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         0.2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Retryable == nil {
		c.Retryable = IsTransient
	}
	return c
}

// DoVal runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done. The last error is returned unchanged.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		var val T
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !cfg.Retryable(err) || attempt == cfg.MaxAttempts-1 {
			return zero, err
		}

		delay := backoff(attempt, cfg)
		zap.L().Debug("resilience: retrying",
			zap.String("operation", cfg.Label),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

// Do is DoVal for calls without a result.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.Jitter
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// FromSettings builds retry and breaker configs from the resilience config
// section. Zero values keep the defaults.
func FromSettings(maxAttempts, initialBackoffMs, failureThreshold, resetTimeoutSecs int) (RetryConfig, BreakerConfig) {
	rc := DefaultRetryConfig()
	if maxAttempts > 0 {
		rc.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	bc := DefaultBreakerConfig()
	if failureThreshold > 0 {
		bc.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		bc.Cooldown = time.Duration(resetTimeoutSecs) * time.Second
	}
	return rc, bc
}
