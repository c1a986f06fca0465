package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/quota/internal/automation"
)

// DueRunner runs one automation pass over every active fund.
type DueRunner interface {
	RunDue(ctx context.Context) ([]automation.RunResult, error)
}

// AfterRefreshHook is called for each fund refreshed by the worker.
type AfterRefreshHook interface {
	Export(ctx context.Context, fundID int64) error
}

// RefreshWorker periodically refreshes the AUM of funds that are due.
type RefreshWorker struct {
	runner   DueRunner
	interval time.Duration
	hook     AfterRefreshHook // optional
}

// NewRefreshWorker creates a new RefreshWorker with an optional post-refresh hook.
func NewRefreshWorker(runner DueRunner, interval time.Duration, hook AfterRefreshHook) *RefreshWorker {
	return &RefreshWorker{
		runner:   runner,
		interval: interval,
		hook:     hook,
	}
}

// runHook calls the post-refresh hook if one is configured.
func (w *RefreshWorker) runHook(ctx context.Context, fundID int64) {
	if w.hook == nil {
		return
	}
	if err := w.hook.Export(ctx, fundID); err != nil {
		slog.Error("RefreshWorker: export hook failed", "fund", fundID, "error", err)
	} else {
		slog.Info("RefreshWorker: export hook completed", "fund", fundID)
	}
}

func (w *RefreshWorker) pass(ctx context.Context) {
	results, err := w.runner.RunDue(ctx)
	if err != nil {
		slog.Error("RefreshWorker: automation pass failed", "error", err)
		return
	}

	refreshed, failed := 0, 0
	for _, r := range results {
		switch {
		case r.Refreshed:
			refreshed++
			w.runHook(ctx, r.FundID)
		case r.Err != nil:
			failed++
		}
	}
	slog.Info("RefreshWorker: pass completed", "funds", len(results), "refreshed", refreshed, "failed", failed)
}

// Run starts the refresh worker loop. It blocks until the context is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) {
	slog.Info("RefreshWorker: starting", "interval", w.interval)

	// Check immediately on startup
	w.pass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("RefreshWorker: shutting down")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}
