// Package retry wraps cloud calls with classifier-driven backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/metrics"
)

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Config controls retry behavior. Zero values fall back to the defaults used
// across the fleet manager: 4 attempts, 1.5s base delay doubling per attempt,
// capped at 15s.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 1500 * time.Millisecond
	defaultMaxDelay    = 15 * time.Second
)

// Executor retries operations whose failures a Classifier marks transient.
// Non-transient errors and retry exhaustion propagate the final error
// unchanged.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs an Executor, applying defaults for unset Config fields.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Do runs op, retrying while transient reports the error as retryable. The
// label only decorates retry logs.
func (e *Executor) Do(ctx context.Context, label string, transient Classifier, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= e.cfg.MaxAttempts || transient == nil || !transient(err) {
			return err
		}
		delay := e.Backoff(attempt)
		metrics.ObserveRetry(label)
		e.logger.Warn("transient failure, retrying",
			zap.String("op", label),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: retry wait canceled: %w", label, ctx.Err())
		}
	}
}

// Backoff returns the wait before the attempt+1-th try: the base delay doubled
// per completed attempt, capped at MaxDelay.
func (e *Executor) Backoff(attempt int) time.Duration {
	delay := e.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if delay > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return delay
}

// Do runs a value-returning operation through the executor.
func Do[T any](ctx context.Context, e *Executor, label string, transient Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, label, transient, func(ctx context.Context) error {
		value, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
