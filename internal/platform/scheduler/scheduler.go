// Package scheduler runs the periodic settlement tasks. Each task runs in
// singleton mode with its own per-iteration timeout, so a hung RPC in one task
// never delays the ticks of another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/onchain-casino-settlement/internal/platform/metrics"
)

// Task is one periodic unit of work
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single iteration; defaults to Interval
	Timeout time.Duration
	// RunImmediately fires the first iteration on Start instead of after one Interval
	RunImmediately bool
	Run            func(ctx context.Context) error
}

type Scheduler struct {
	sched   gocron.Scheduler
	logger  *slog.Logger
	metrics *metrics.SettlementMetrics
}

func New(logger *slog.Logger, m *metrics.SettlementMetrics) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		sched:   sched,
		logger:  logger.With("component", "scheduler"),
		metrics: m,
	}, nil
}

// Register adds a task. ctx is the parent of every iteration's context.
func (s *Scheduler) Register(ctx context.Context, task Task) error {
	if task.Name == "" || task.Run == nil {
		return errors.New("task needs a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = task.Interval
	}

	opts := []gocron.JobOption{
		gocron.WithName(task.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if task.RunImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.sched.NewJob(
		gocron.DurationJob(task.Interval),
		gocron.NewTask(func() { s.runOnce(ctx, task, timeout) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register task %s: %w", task.Name, err)
	}
	s.logger.Info("Registered periodic task", "task", task.Name, "interval", task.Interval.String())
	return nil
}

func (s *Scheduler) runOnce(parent context.Context, task Task, timeout time.Duration) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return task.Run(ctx)
	}()
	elapsed := time.Since(start)
	s.metrics.TaskRun(task.Name, elapsed, err)

	if err != nil {
		// deferred to the next tick
		s.logger.Error("Periodic task failed", "task", task.Name, "duration", elapsed.String(), "error", err)
		return
	}
	s.logger.Debug("Periodic task finished", "task", task.Name, "duration", elapsed.String())
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("Scheduler started")
}

// Shutdown stops scheduling and waits for running iterations to return
func (s *Scheduler) Shutdown() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}
