// Package scheduler runs periodic archive maintenance on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts five-field expressions and descriptors such as "@daily".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return nil
}

// Task is one maintenance run. It receives the scheduler's context.
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron schedules. A run still in progress
// when its next slot arrives is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers task under name on the expr schedule.
func (s *Scheduler) Add(name, expr string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() { s.run(name, task) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("scheduled task failed",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("scheduled task finished",
		slog.String("task", name),
		slog.Duration("duration", time.Since(start)),
	)
}

// Start runs the registered tasks in the background until ctx ends or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.cron.Entries())))
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
