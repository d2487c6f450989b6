package convo

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventFunc is a callback for publishing retention events.
type EventFunc func(typ, message string)

// RetentionConfig holds retention worker settings.
type RetentionConfig struct {
	Interval time.Duration // how often to prune (default 6h)
	MaxAge   time.Duration // delete conversations idle longer than this (default 30d)
}

// DefaultRetentionConfig returns sensible retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Interval: 6 * time.Hour,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Retention is a background worker that prunes idle conversations so the
// store does not grow without bound.
type Retention struct {
	store    Pruner
	onEvent  EventFunc
	interval time.Duration
	maxAge   time.Duration
}

// NewRetention creates a retention worker. onEvent may be nil.
func NewRetention(store Pruner, onEvent EventFunc, cfg RetentionConfig) *Retention {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	return &Retention{
		store:    store,
		onEvent:  onEvent,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
	}
}

// Run starts the prune loop. Blocks until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	slog.Info("retention worker started", "interval", r.interval, "max_age", r.maxAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention worker stopping")
			return
		case <-ticker.C:
			r.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs a single prune cycle.
func (r *Retention) PruneOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.maxAge)
	n, err := r.store.PruneStale(ctx, cutoff)
	if err != nil {
		slog.Warn("conversation prune failed", "error", err)
		r.emit("error", fmt.Sprintf("conversation prune failed: %v", err))
		return
	}
	if n > 0 {
		slog.Info("pruned idle conversations", "count", n, "cutoff", cutoff.Format(time.RFC3339))
		r.emit("status", fmt.Sprintf("pruned %d idle conversations", n))
	}
}

func (r *Retention) emit(typ, msg string) {
	if r.onEvent != nil {
		r.onEvent(typ, msg)
	}
}
