package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/chairwatch/internal/domain"
)

const sweepInterval = 5 * time.Minute

// SweepOptions configures the idle sweeper.
type SweepOptions struct {
	Interval time.Duration
	// IdleTTL closes monitors of chairs without a reading for this long.
	// Chairs that are occupied or mid task cycle are kept.
	IdleTTL time.Duration
	// RetentionDays prunes reports older than this many days. Zero keeps everything.
	RetentionDays int
}

// RunSweeper periodically closes idle monitors and prunes old reports until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, opts SweepOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = sweepInterval
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	slog.Info("Idle sweeper started", "interval", opts.Interval, "ttl", opts.IdleTTL, "retention_days", opts.RetentionDays)

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx, opts)
		case <-ctx.Done():
			slog.Info("Idle sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one pass of the idle sweeper.
func (m *Manager) Sweep(ctx context.Context, opts SweepOptions) {
	if opts.IdleTTL > 0 {
		m.closeIdle(ctx, opts.IdleTTL)
	}
	if opts.RetentionDays > 0 {
		m.pruneReports(ctx, opts.RetentionDays)
	}
}

func (m *Manager) closeIdle(ctx context.Context, ttl time.Duration) {
	idle, err := m.base.Repo.ListIdleChairs(ctx, ttl)
	if err != nil {
		slog.Error("Idle sweeper failed to list idle chairs", "error", err)
		return
	}

	closed := 0
	for _, id := range idle {
		if mon, ok := m.Get(id); ok && busy(mon.View()) {
			slog.Debug("Idle sweeper kept occupied chair", "chair_id", id)
			continue
		}
		if m.CloseChair(id) {
			slog.Info("Idle sweeper closed chair monitor", "chair_id", id)
			closed++
		}
	}
	if closed > 0 {
		slog.Info("Idle sweeper cleanup completed", "closed", closed)
	}
}

// busy reports whether closing the monitor would cut a session or task cycle short.
func busy(v View) bool {
	return v.State == domain.StateSitting || v.Tasks.Phase != domain.PhaseIdle
}

func (m *Manager) pruneReports(ctx context.Context, days int) {
	now := time.Now()
	if m.base.Clock != nil {
		now = m.base.Clock.Now()
	}
	before := domain.DateKey(now.AddDate(0, 0, -days))
	if m.base.Events != nil {
		before = m.base.Events.DateKey(now.AddDate(0, 0, -days))
	}

	deleted, err := m.base.Repo.PruneReports(ctx, before)
	if err != nil {
		slog.Error("Idle sweeper failed to prune reports", "before", before, "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Idle sweeper pruned old reports", "before", before, "count", deleted)
	}
}
