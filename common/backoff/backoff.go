// common/backoff/backoff.go
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/feedbridge/common/logger"
)

// -----------------------------------------------------------------------------
// Metrics & service label
// -----------------------------------------------------------------------------

var (
	serviceLabel = "unknown"

	// outcome: "ok", "retry", "exhausted", "permanent".
	attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedbridge", Subsystem: "backoff", Name: "attempts_total",
			Help: "Back-off attempts by outcome",
		},
		[]string{"service", "outcome"},
	)
	delays = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedbridge", Subsystem: "backoff", Name: "retry_delay_seconds",
			Help:    "Delay scheduled before the next attempt (seconds)",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)
)

// SetServiceLabel must be called once from common.InitServiceName(..)
// before the first Execute(..).
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config contains tunables for exponential back-off.
//
// All zero values are treated as “use reasonable default”.
type Config struct {
	// InitialInterval is the first delay before retrying.
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// RandomizationFactor adds ±jitter to each delay.
	// Accepted range: 0.0 ≤ f ≤ 1.0
	RandomizationFactor float64 `mapstructure:"randomization_factor"`

	// Multiplier multiplies the previous delay to get the next one
	// ( e.g. 2 → doubles on every retry ).
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxInterval caps each individual delay.
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// MaxElapsedTime is the total time allowed for all retries
	// before giving up.  Zero → unlimited.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// PerAttemptTimeout limits the execution time of every single
	// user function call.  Zero → no per-attempt timeout.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`

	// MaxAttempts caps the number of calls, the first one included.
	// Zero → limited by MaxElapsedTime only.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// applyDefaults fills cfg with safe defaults in-place.
func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

// validate performs cheap sanity checks.
func (c Config) validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: RandomizationFactor must be in [0,1]")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: Multiplier must be ≥ 1")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("backoff: MaxAttempts must be ≥ 0")
	}
	return nil
}

// RetryableFunc is a unit of work that may be re-executed until it
// succeeds or the back-off strategy gives up.
type RetryableFunc func(ctx context.Context) error

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrMaxRetries is returned from Execute(..) when the function was still
// failing after all retries were exhausted.
type ErrMaxRetries struct {
	Err      error // last error returned by fn
	Attempts int   // number of attempts performed
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// -----------------------------------------------------------------------------
// Core
// -----------------------------------------------------------------------------

// Execute runs fn() with an exponential back-off defined by cfg, emitting
// Prometheus metrics and structured logs via log. Errors wrapped with
// Permanent stop the loop immediately; the unwrapped cause is returned
// inside ErrMaxRetries.
func Execute(ctx context.Context, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = cfg.MaxElapsedTime // 0 → без ограничения
	var strategy backoff.BackOff = bo
	if cfg.MaxAttempts > 0 {
		strategy = backoff.WithMaxRetries(strategy, uint64(cfg.MaxAttempts-1))
	}
	strategy = backoff.WithContext(strategy, ctx)

	n := 0
	permanent := false
	operation := func() error {
		n++
		callCtx := ctx
		if cfg.PerAttemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
		}
		err := fn(callCtx)
		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return err
	}
	notify := func(err error, delay time.Duration) {
		attempts.WithLabelValues(serviceLabel, "retry").Inc()
		delays.WithLabelValues(serviceLabel).Observe(delay.Seconds())
		log.WithContext(ctx).Warn("back-off retry",
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, strategy, notify)
	switch {
	case err == nil:
		attempts.WithLabelValues(serviceLabel, "ok").Inc()
		return nil
	case permanent:
		attempts.WithLabelValues(serviceLabel, "permanent").Inc()
		log.WithContext(ctx).Warn("back-off stopped on permanent error",
			zap.Int("attempts", n),
			zap.Error(err),
		)
	default:
		attempts.WithLabelValues(serviceLabel, "exhausted").Inc()
		log.WithContext(ctx).Error("back-off give-up",
			zap.Int("attempts", n),
			zap.Error(err),
		)
	}
	return &ErrMaxRetries{Err: err, Attempts: n}
}
