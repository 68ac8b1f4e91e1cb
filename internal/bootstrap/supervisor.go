package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Worker is one supervised long-running role (API, Scheduler, or UI). Run
// blocks until ctx is canceled or the worker fails.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor owns the API/Scheduler/UI workers and restarts any observed
// dead, matching the "check every second, restart if dead" loop in
// original_source's QuickScheduler.run().
type Supervisor struct {
	logger          *slog.Logger
	restartInterval time.Duration
}

// NewSupervisor builds a Supervisor. restartInterval defaults to one
// second when zero, mirroring the original's polling loop.
func NewSupervisor(logger *slog.Logger, restartInterval time.Duration) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if restartInterval <= 0 {
		restartInterval = time.Second
	}
	return &Supervisor{logger: logger, restartInterval: restartInterval}
}

// Run starts every worker and keeps it running until ctx is canceled,
// restarting any worker whose Run function returns. Returns once every
// worker has stopped for good (ctx canceled).
func (s *Supervisor) Run(ctx context.Context, workers []Worker) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			return s.supervise(gctx, w)
		})
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, w Worker) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "worker stopped, restarting", "worker", w.Name, "error", err)
		} else {
			s.logger.WarnContext(ctx, "worker stopped, restarting", "worker", w.Name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.restartInterval):
		}
	}
}
