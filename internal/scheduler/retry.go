// Package scheduler runs the periodic background work of a long-lived
// session: re-running registry lookups that were deferred while the Vehicle
// Registry was unavailable.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// DefaultRetryInterval is used when the configured interval is not positive.
const DefaultRetryInterval = time.Minute

const retryJobName = "registry_retry_deferred"

// Retrier is the part of the engine the scheduler drives.
type Retrier interface {
	RetryDeferred(ctx context.Context) (int, error)
	DeferredLookups() int
}

// RetryScheduler periodically drains the deferred lookup queue.
type RetryScheduler struct {
	scheduler gocron.Scheduler
	retrier   Retrier
	interval  time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetryScheduler creates a scheduler that calls r.RetryDeferred every interval.
func NewRetryScheduler(r Retrier, interval time.Duration, logger *slog.Logger) (*RetryScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rs := &RetryScheduler{
		scheduler: s,
		retrier:   r,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(rs.run),
		gocron.WithName(retryJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule %s: %w", retryJobName, err)
	}
	return rs, nil
}

// Start begins running the job.
func (rs *RetryScheduler) Start() {
	rs.scheduler.Start()
	rs.logger.Info("deferred lookup retry scheduled", "interval", rs.interval)
}

// Stop cancels an in-flight retry and waits for the scheduler to exit.
func (rs *RetryScheduler) Stop() error {
	rs.cancel()
	return rs.scheduler.Shutdown()
}

func (rs *RetryScheduler) run() {
	if rs.retrier.DeferredLookups() == 0 {
		return
	}
	resolved, err := rs.retrier.RetryDeferred(rs.ctx)
	switch {
	case err == nil:
		rs.logger.Info("deferred lookups resolved", "resolved", resolved)
	case errors.Is(err, context.Canceled):
		rs.logger.Debug("deferred lookup retry cancelled", "resolved", resolved)
	default:
		rs.logger.Warn("deferred lookup retry incomplete",
			"resolved", resolved, "remaining", rs.retrier.DeferredLookups(), "error", err)
	}
}
