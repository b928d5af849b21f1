// Package retry runs operations with exponential backoff and bounded jitter.
//
// The delay before retry k (k starting at 0) is
//
//	InitialDelay * BackoffFactor^k + U[0, MaxJitter)
//
// Sleeping goes through a Sleeper so tests can observe delays without waiting.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Defaults shared by the transport and the orchestrator.
const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = 1 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultMaxJitter     = 500 * time.Millisecond
)

// Policy describes how many times and how long to back off.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// BackoffFactor multiplies the delay on every further retry.
	BackoffFactor float64

	// MaxJitter bounds the uniform random delay added to every backoff.
	MaxJitter time.Duration
}

// DefaultPolicy returns a Policy with 3 retries, 1s initial delay, factor 2
// and up to 500ms jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		InitialDelay:  DefaultInitialDelay,
		BackoffFactor: DefaultBackoffFactor,
		MaxJitter:     DefaultMaxJitter,
	}
}

// BaseDelay returns the jitter-free delay before retry attempt.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(attempt)))
}

// Delay returns BaseDelay(attempt) plus uniform jitter in [0, MaxJitter).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay(attempt)
	if p.MaxJitter > 0 {
		d += rand.N(p.MaxJitter) //nolint:gosec // jitter does not need a CSPRNG
	}
	return d
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// permanentError wraps an error so Do stops retrying.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{ErrPermanent, e.err}
}

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// options holds the optional Do parameters.
type options struct {
	sleep   Sleeper
	logger  *slog.Logger
	onRetry func(attempt int, delay time.Duration, err error)
	label   string
}

// Option configures Do.
type Option func(*options)

// WithSleeper replaces the timer-based sleep.
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithLogger logs every retry at warn level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLabel adds a "url" attribute to retry log lines.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// OnRetry is called after a failed attempt, before sleeping.
func OnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do calls fn until it succeeds, returns a Permanent error, the context ends,
// or MaxRetries retries have been used. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	o := options{sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) || ctx.Err() != nil || attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		if o.logger != nil {
			o.logger.WarnContext(ctx, "retrying operation",
				"url", o.label,
				"attempt", attempt+1,
				"max_retries", p.MaxRetries,
				"delay", delay,
				"error", err,
			)
		}
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}
