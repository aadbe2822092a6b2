package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultPruneSchedule = "*/10 * * * *"
	DefaultRunTTL        = 24 * time.Hour
)

// Pruner periodically removes finished runs older than a TTL.
type Pruner struct {
	runs     *Runs
	ttl      time.Duration
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewPruner(runs *Runs, schedule string, ttl time.Duration, logger *slog.Logger) *Pruner {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	if ttl <= 0 {
		ttl = DefaultRunTTL
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pruner{
		runs:     runs,
		ttl:      ttl,
		schedule: schedule,
		logger:   logger.With("module", "pruner"),
	}
}

// Start schedules pruning. Runs already pruning are not overlapped.
func (p *Pruner) Start(ctx context.Context) error {
	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := p.cron.AddFunc(p.schedule, func() {
		if _, err := p.runs.Prune(ctx, p.ttl); err != nil {
			p.logger.ErrorContext(ctx, "Failed to prune runs", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}

	p.logger.InfoContext(ctx, "Scheduled run pruning", "id", id, "schedule", p.schedule, "ttl", p.ttl)
	p.cron.Start()

	return nil
}

// Stop halts the schedule and waits for a running prune to return.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}

	<-p.cron.Stop().Done()
}
