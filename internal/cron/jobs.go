package cron

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotExporter writes all conversations to a file.
type SnapshotExporter interface {
	SaveSnapshotFile(ctx context.Context, path string) (int, error)
}

// Pruner deletes conversations idle for longer than maxIdle.
type Pruner interface {
	Prune(ctx context.Context, maxIdle time.Duration) (int, error)
}

// Sweeper drops expired rate limiter state.
type Sweeper interface {
	Sweep()
}

// SnapshotJob exports the conversation snapshot to Path.
type SnapshotJob struct {
	Exporter     SnapshotExporter
	Path         string
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/5 * * * *"
}

var _ Job = (*SnapshotJob)(nil)

// Name implements Job.
func (j *SnapshotJob) Name() string { return "snapshot" }

// Schedule implements Job.
func (j *SnapshotJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run implements Job.
func (j *SnapshotJob) Run(ctx context.Context) error {
	n, err := j.Exporter.SaveSnapshotFile(ctx, j.Path)
	if err != nil {
		return err
	}
	logger(j.Logger).Info("snapshot exported", "path", j.Path, "conversations", n)
	return nil
}

// PruneJob removes conversations idle longer than MaxIdle.
type PruneJob struct {
	Pruner       Pruner
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/15 * * * *"
}

var _ Job = (*PruneJob)(nil)

// Name implements Job.
func (j *PruneJob) Name() string { return "conversation_prune" }

// Schedule implements Job.
func (j *PruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/15 * * * *"
}

// Run implements Job.
func (j *PruneJob) Run(ctx context.Context) error {
	pruned, err := j.Pruner.Prune(ctx, j.MaxIdle)
	if err != nil {
		return err
	}
	if pruned > 0 {
		logger(j.Logger).Info("pruned idle conversations", "count", pruned, "max_idle", j.MaxIdle)
	}
	return nil
}

// SweepJob periodically sweeps the gateway rate limiter.
type SweepJob struct {
	Sweeper Sweeper
}

var _ Job = (*SweepJob)(nil)

// Name implements Job.
func (j *SweepJob) Name() string { return "ratelimit_sweep" }

// Schedule implements Job.
func (j *SweepJob) Schedule() string { return "@every 1m" }

// Run implements Job.
func (j *SweepJob) Run(context.Context) error {
	j.Sweeper.Sweep()
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
