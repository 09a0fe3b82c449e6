package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/merchplan/approvals/pkg/lease"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the scan every five minutes.
const DefaultSchedule = "@every 5m"

// Checker is the scan the scheduler runs.
type Checker interface {
	Check(ctx context.Context) (Result, error)
}

// Scheduler runs a Checker on a cron schedule. Only the holder of the lease
// scans, so several replicas may run a scheduler against the same store.
type Scheduler struct {
	checker  Checker
	schedule string
	lease    lease.Lease
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(checker Checker, schedule string, l lease.Lease, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		return nil, errors.New("sla schedule is required")
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	if l == nil {
		l = lease.Local{}
	}

	return &Scheduler{
		checker:  checker,
		schedule: schedule,
		lease:    l,
		logger:   logger.With("module", "sla_scheduler", "schedule", schedule),
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sla scheduler already started")
	}

	s.logger.InfoContext(ctx, "Starting SLA scheduler")

	logger := cronLogger{s.logger}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		s.cancel()
		s.cron = nil

		return fmt.Errorf("failed to add SLA cron job: %w", err)
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) run() {
	if _, err := s.RunOnce(s.ctx); err != nil {
		s.logger.ErrorContext(s.ctx, "Scheduled SLA check failed", "error", err)
	}
}

// RunOnce scans if the lease can be taken. It reports whether a scan ran.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	acquired, err := s.lease.Acquire(ctx)
	if err != nil {
		return false, err
	}

	if !acquired {
		s.logger.DebugContext(ctx, "SLA lease held elsewhere, skipping scan")

		return false, nil
	}

	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "Failed to release SLA lease", "error", err)
		}
	}()

	_, err = s.checker.Check(ctx)

	return true, err
}

// Stop stops scheduling and waits for a running scan to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping SLA scheduler")

	done := c.Stop()
	cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
