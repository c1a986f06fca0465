package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
	"github.com/mtlprog/quota/internal/valuation"
)

// Refresher refreshes a fund's AUM.
type Refresher interface {
	RefreshFundAUM(ctx context.Context, req valuation.RefreshRequest) (valuation.RefreshOutcome, error)
}

// RunResult reports what a pass did for one fund.
type RunResult struct {
	FundID    int64
	Decision  Decision
	Refreshed bool
	Outcome   valuation.RefreshOutcome
	Err       error
	// NextRun is when the fund will next be attempted. Zero when automation is off.
	NextRun time.Time
}

// Runner performs automatic refreshes for every active fund that is due.
type Runner struct {
	store      ledger.Store
	gate       *Gate
	refresher  Refresher
	retryAfter time.Duration
	now        func() time.Time
}

// NewRunner creates a new automation runner. Failed refreshes are retried after retryAfter.
func NewRunner(store ledger.Store, gate *Gate, refresher Refresher, retryAfter time.Duration) *Runner {
	return &Runner{store: store, gate: gate, refresher: refresher, retryAfter: retryAfter, now: time.Now}
}

// RunDue consults the gate for each active fund and refreshes the due ones. Per-fund
// failures are reported in the results; the error covers only listing the funds.
func (r *Runner) RunDue(ctx context.Context) ([]RunResult, error) {
	funds, err := r.store.ListFunds(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing funds: %w", err)
	}

	results := make([]RunResult, 0, len(funds))
	for _, f := range funds {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, r.runFund(ctx, f))
	}
	return results, nil
}

func (r *Runner) runFund(ctx context.Context, f domain.Fund) RunResult {
	now := r.now()
	res := RunResult{FundID: f.ID}

	decision, err := r.gate.ShouldAutoRefresh(ctx, f.ID, now)
	if err != nil {
		res.Err = err
		slog.Error("Automation: gate check failed", "fund", f.ID, "error", err)
		return res
	}
	res.Decision = decision

	if !decision.Enabled || !decision.Due {
		if cfg, err := r.gate.Config(ctx, f.ID); err == nil {
			res.NextRun = r.gate.NextRun(cfg, now)
		}
		return res
	}

	slog.Info("Automation: refreshing AUM", "fund", f.ID, "name", f.Name)
	out, err := r.refresher.RefreshFundAUM(ctx, valuation.RefreshRequest{
		FundID: f.ID,
		Kind:   domain.KindAutomaticUpdate,
	})
	res.Outcome = out
	if err != nil {
		res.Err = err
		res.NextRun = now.Add(r.retryAfter)
		slog.Error("Automation: refresh failed", "fund", f.ID, "error", err, "next_retry", res.NextRun)
		return res
	}
	res.Refreshed = true

	if err := r.store.MarkAutomaticRun(ctx, f.ID, now.In(r.gate.loc)); err != nil {
		res.Err = fmt.Errorf("marking automatic run: %w", err)
		slog.Error("Automation: failed to record run", "fund", f.ID, "error", err)
	}
	if cfg, err := r.gate.Config(ctx, f.ID); err == nil {
		res.NextRun = now.Add(r.gate.interval(cfg))
	}
	slog.Info("Automation: AUM refreshed", "fund", f.ID, "aum", out.AUM, "quota_price", out.QuotaPrice, "next_run", res.NextRun)
	return res
}
