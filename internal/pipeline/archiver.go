// Package pipeline runs the background loops that move settled markets to
// cold storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Settler archives every market that is ready for cold storage and reports
// how many it archived. service.MarketService satisfies it.
type Settler interface {
	ArchiveSettled(ctx context.Context) (int, error)
}

// Archiver periodically sweeps resolved, fully withdrawn markets into the
// blob store.
type Archiver struct {
	settler Settler
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(settler Settler, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		settler: settler,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// Run executes a single sweep.
func (a *Archiver) Run(ctx context.Context) error {
	start := a.now()
	n, err := a.settler.ArchiveSettled(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: archive sweep: %w", err)
	}
	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.Int("archived", n),
		slog.Duration("took", a.now().Sub(start)),
	)
	return nil
}

// RunInterval sweeps every interval until ctx is cancelled. A failed sweep
// is logged and retried on the next tick.
func (a *Archiver) RunInterval(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: archive interval must be positive, got %s", interval)
	}
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// RunCron sweeps on a 5-field cron schedule ("minute hour day-of-month month
// day-of-week", evaluated in UTC) until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", expr))

	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		wait := next.Sub(a.now())
		a.logger.Debug("archiver waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			a.sweep(ctx)
		}
	}
}

func (a *Archiver) sweep(ctx context.Context) {
	if err := a.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
	}
}
