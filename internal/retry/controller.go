// Package retry runs one search task to a terminal outcome, retrying transient
// failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"jobx-market/internal/classify"
	"jobx-market/internal/model"
	"jobx-market/internal/search"
)

// ErrNoJobs is reported when a search succeeds but returns no rows.
var ErrNoJobs = errors.New("no jobs found")

type SearchFunc func(ctx context.Context, task model.Task) (*search.Table, error)

type Controller struct {
	Search      SearchFunc
	MaxRetries  int
	BaseBackoff time.Duration
	// Jitter is added to every delay. Nil means uniform in [0, DefaultMaxJitter).
	Jitter func() time.Duration
	// Sleep waits between attempts. Nil means SleepContext.
	Sleep   func(ctx context.Context, d time.Duration) error
	Limiter *rate.Limiter
	Logger  *zap.Logger
	Now     func() time.Time
}

// Result carries the final outcome and, on success, the rows behind it.
type Result struct {
	Outcome model.TaskOutcome
	Table   *search.Table
}

func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) maxAttempts() int {
	return max(c.MaxRetries, 1)
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run executes task until it succeeds, fails with no_data, or runs out of attempts.
// It never panics and never returns an error: every fault ends up in the outcome.
func (c *Controller) Run(ctx context.Context, task model.Task) Result {
	base := c.BaseBackoff
	if base <= 0 {
		base = DefaultBase
	}
	jitter := c.Jitter
	if jitter == nil {
		jitter = UniformJitter(DefaultMaxJitter)
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	maxAttempts := c.maxAttempts()
	schedule := NewSearchBackOff(base, jitter, maxAttempts)
	log := c.logger().With(zap.String("task", task.Key()))

	var last model.TaskOutcome
	for attempt := 1; ; attempt++ {
		start := c.now()
		table, err := c.attempt(ctx, task)
		elapsed := c.now().Sub(start).Seconds()

		if err == nil {
			return Result{
				Outcome: model.TaskOutcome{
					Task:            task,
					Success:         true,
					RowCount:        table.Len(),
					SalaryRowCount:  table.SalaryCount(),
					DurationSeconds: model.Seconds(elapsed),
					Attempts:        attempt,
				},
				Table: table,
			}
		}

		msg := err.Error()
		category := classify.Classify(msg)
		last = model.TaskOutcome{
			Task:            task,
			Error:           msg,
			Category:        category,
			DurationSeconds: model.Seconds(elapsed),
			Attempts:        attempt,
		}

		if !classify.Retryable(category) {
			log.Info("search returned no data, not retrying",
				zap.Int("attempt", attempt),
				zap.String("category", string(category)),
			)
			return Result{Outcome: last}
		}
		if attempt >= maxAttempts {
			log.Warn("search failed, retries exhausted",
				zap.Int("attempt", attempt),
				zap.String("category", string(category)),
				zap.String("error", msg),
			)
			return Result{Outcome: last}
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			return Result{Outcome: last}
		}
		log.Warn("search failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.String("category", string(category)),
			zap.Duration("backoff", delay),
			zap.String("error", msg),
		)
		if err := sleep(ctx, delay); err != nil {
			return Result{Outcome: last}
		}
	}
}

func (c *Controller) attempt(ctx context.Context, task model.Task) (table *search.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			table = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if c.Search == nil {
		return nil, errors.New("no search function configured")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	table, err = c.Search(ctx, task)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, ErrNoJobs
	}
	return table, nil
}
