// Package retry retries transient operations with capped, jittered backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

// BackoffStrategy defines how the wait grows between attempts.
type BackoffStrategy int

const (
	// BackoffExponential waits base * 2^(attempt-1).
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear waits base * attempt.
	BackoffLinear

	// BackoffConstant always waits base.
	BackoffConstant
)

// BackoffConfig configures the backoff behavior.
type BackoffConfig struct {
	Strategy BackoffStrategy

	// BaseInterval is the wait after the first failed attempt.
	BaseInterval time.Duration

	// MaxInterval caps a single wait. Zero means no cap.
	MaxInterval time.Duration

	// Jitter in [0, 1] spreads each wait by +/- that fraction.
	Jitter float64
}

// DefaultBackoffConfig suits content downloads: 1s, 2s, 4s... capped at 30s.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Strategy:     BackoffExponential,
		BaseInterval: time.Second,
		MaxInterval:  30 * time.Second,
		Jitter:       0.1,
	}
}

// Interval returns the wait after the given failed attempt (1-based).
func (c *BackoffConfig) Interval(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	var interval time.Duration
	switch c.Strategy {
	case BackoffLinear:
		interval = c.BaseInterval * time.Duration(attempts)
	case BackoffConstant:
		interval = c.BaseInterval
	default:
		multiplier := math.Pow(2, float64(attempts-1))
		interval = time.Duration(float64(c.BaseInterval) * multiplier)
	}

	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	return c.applyJitter(interval)
}

func (c *BackoffConfig) applyJitter(interval time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return interval
	}
	jitter := math.Min(c.Jitter, 1)
	jitterRange := float64(interval) * jitter
	return time.Duration(float64(interval) + (rand.Float64()*2-1)*jitterRange)
}

// Do calls fn up to attempts times. It stops early when fn succeeds, when
// the error is not retryable per errors.IsRetryable, or when ctx ends.
// The last error is returned.
func Do(ctx context.Context, cfg *BackoffConfig, attempts int, fn func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultBackoffConfig()
	}
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !sgerrors.IsRetryable(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(cfg.Interval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
