// Package retry drives a unit of work against the brokerage with a bounded
// attempt budget. Before each attempt the session is checked; a transient
// failure invalidates the session and restarts the work from its beginning.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/logger"
)

// Session is the part of the session manager the controller needs.
type Session interface {
	EnsureAuthenticated(ctx context.Context) error
	Invalidate()
}

// Outcome labels one attempt or one whole run.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeTransient     Outcome = "transient"
	OutcomeAuthFailed    Outcome = "auth_failed"
	OutcomePermanent     Outcome = "permanent"
	OutcomeConfiguration Outcome = "configuration"
	OutcomeExhausted     Outcome = "exhausted"
	OutcomeCancelled     Outcome = "cancelled"
)

// Observer receives attempt and run outcomes, e.g. for metrics.
type Observer interface {
	ObserveAttempt(op string, outcome Outcome)
	ObserveRun(op string, outcome Outcome, attempts int, elapsed time.Duration)
}

type Config struct {
	// MaxAttempts is the default budget for Do.
	MaxAttempts int
	// Pause is waited between attempts. Zero retries immediately.
	Pause time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3}
}

type Controller struct {
	session  Session
	cfg      Config
	observer Observer
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func New(session Session, cfg Config, opts ...Option) *Controller {
	c := &Controller{session: session, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// Do runs work with the configured default budget.
func (c *Controller) Do(ctx context.Context, op string, work func(ctx context.Context) error) error {
	_, err := Run(ctx, c, op, c.cfg.MaxAttempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}

// Run executes work at most maxAttempts times.
//
// nil error completes the run. A transient error invalidates the session and
// starts the next attempt from scratch. Permanent, configuration and
// unclassified errors end the run and are returned untouched. A failed login
// consumes one attempt. When the budget runs out an exhausted error wrapping
// the last transient failure is returned.
//
// ctx is only consulted between attempts; a started attempt runs to
// completion and its transport owns the timeout.
func Run[T any](ctx context.Context, c *Controller, op string, maxAttempts int, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		return zero, brokererr.Configuration(op, fmt.Sprintf("attempt budget must be positive, got %d", maxAttempts))
	}

	opID := uuid.NewString()
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && c.cfg.Pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.Pause):
			}
		}
		if err := ctx.Err(); err != nil {
			c.finish(ctx, op, opID, OutcomeCancelled, attempt-1, start)
			return zero, fmt.Errorf("%s cancelled before attempt %d: %w", op, attempt, err)
		}

		if err := c.session.EnsureAuthenticated(ctx); err != nil {
			if brokererr.IsConfiguration(err) {
				c.attempt(ctx, op, opID, attempt, maxAttempts, OutcomeConfiguration, err)
				c.finish(ctx, op, opID, OutcomeConfiguration, attempt, start)
				return zero, err
			}
			c.attempt(ctx, op, opID, attempt, maxAttempts, OutcomeAuthFailed, err)
			c.session.Invalidate()
			lastErr = err
			continue
		}

		result, err := work(ctx)
		if err == nil {
			c.attempt(ctx, op, opID, attempt, maxAttempts, OutcomeCompleted, nil)
			c.finish(ctx, op, opID, OutcomeCompleted, attempt, start)
			return result, nil
		}

		switch brokererr.KindOf(err) {
		case brokererr.KindTransient:
			c.attempt(ctx, op, opID, attempt, maxAttempts, OutcomeTransient, err)
			c.session.Invalidate()
			lastErr = err
		case brokererr.KindConfiguration:
			c.attempt(ctx, op, opID, attempt, maxAttempts, OutcomeConfiguration, err)
			c.finish(ctx, op, opID, OutcomeConfiguration, attempt, start)
			return zero, err
		default:
			c.attempt(ctx, op, opID, attempt, maxAttempts, OutcomePermanent, err)
			c.finish(ctx, op, opID, OutcomePermanent, attempt, start)
			return zero, err
		}
	}

	c.finish(ctx, op, opID, OutcomeExhausted, maxAttempts, start)
	return zero, brokererr.Exhausted(op, maxAttempts, lastErr)
}

func (c *Controller) attempt(ctx context.Context, op, opID string, attempt, budget int, outcome Outcome, err error) {
	if c.observer != nil {
		c.observer.ObserveAttempt(op, outcome)
	}
	if err != nil {
		logger.Attempt(ctx, op, opID, attempt, budget, string(outcome), "reason", brokererr.Reason(err))
		return
	}
	logger.Attempt(ctx, op, opID, attempt, budget, string(outcome))
}

func (c *Controller) finish(ctx context.Context, op, opID string, outcome Outcome, attempts int, start time.Time) {
	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveRun(op, outcome, attempts, elapsed)
	}
	if outcome == OutcomeExhausted {
		logger.Warn(ctx, "Retry budget exhausted", "operation", op, "operation_id", opID, "attempts", attempts)
	}
}
