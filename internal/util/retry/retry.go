package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds retry configuration.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// WithExponentialBackoff executes the operation with exponential backoff retry.
// It retries the operation up to MaxRetries times, with exponentially increasing
// delays between attempts. Context cancellation is respected throughout.
//
// Errors wrapped with Fatal() are not retried.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, cfg))

	switch {
	case err == nil:
		return nil
	case IsFatal(err):
		return fmt.Errorf("fatal error (not retrying): %w", err)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("context cancelled after %d attempts: %w", attempts, err)
	default:
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
	}
}

func newBackOff(ctx context.Context, cfg *Config) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialDelay
	exp.MaxInterval = cfg.MaxDelay
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = cfg.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if cfg.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(exp, uint64(cfg.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// WithMaxRetries sets the maximum number of retries. A negative value retries
// until the context ends.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithInitialDelay sets the initial delay between retries.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		c.InitialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDelay = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		c.Multiplier = m
	}
}

// WithJitter randomizes each delay by up to the given fraction.
func WithJitter(f float64) Option {
	return func(c *Config) {
		c.Jitter = f
	}
}

// FatalError wraps an error to mark it as fatal (non-retryable).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as fatal (non-retryable).
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal checks if an error is fatal (non-retryable).
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
