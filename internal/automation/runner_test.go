package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/valuation"
)

type fakeRefresher struct {
	err   error
	calls []valuation.RefreshRequest
}

func (f *fakeRefresher) RefreshFundAUM(_ context.Context, req valuation.RefreshRequest) (valuation.RefreshOutcome, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return valuation.RefreshOutcome{FundID: req.FundID, State: valuation.StateFailed}, f.err
	}
	return valuation.RefreshOutcome{FundID: req.FundID, AUM: decimal.NewFromInt(600), QuotaPrice: decimal.NewFromInt(1), State: valuation.StateDone}, nil
}

func TestRunDueRefreshesAndMarks(t *testing.T) {
	ctx := context.Background()
	store, f := newStoreWithFund(t)
	gate := NewGate(store, time.UTC, 24)
	refresher := &fakeRefresher{}
	runner := NewRunner(store, gate, refresher, 15*time.Minute)
	runner.now = func() time.Time { return testNow }

	results, err := runner.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}
	if len(results) != 1 || !results[0].Refreshed || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if len(refresher.calls) != 1 || refresher.calls[0].Kind != domain.KindAutomaticUpdate {
		t.Errorf("refresh calls = %+v", refresher.calls)
	}
	if !results[0].NextRun.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("NextRun = %v, want now+24h", results[0].NextRun)
	}

	cfg, _ := store.GetAutomationConfig(ctx, f.ID)
	last, ok := ParseLastRun(cfg.LastRun, time.UTC)
	if !ok || !last.Equal(testNow) {
		t.Errorf("LastRun = %q, want %v", cfg.LastRun, testNow)
	}

	// A second pass an hour later finds nothing due.
	runner.now = func() time.Time { return testNow.Add(time.Hour) }
	results, _ = runner.RunDue(ctx)
	if results[0].Refreshed || len(refresher.calls) != 1 {
		t.Errorf("second pass refreshed again: %+v", results)
	}
	if !results[0].NextRun.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("NextRun = %v, want last run + 24h", results[0].NextRun)
	}
}

func TestRunDueFailureKeepsFundDue(t *testing.T) {
	ctx := context.Background()
	store, f := newStoreWithFund(t)
	gate := NewGate(store, time.UTC, 24)
	refresher := &fakeRefresher{err: valuation.ErrUnavailable}
	runner := NewRunner(store, gate, refresher, 15*time.Minute)
	runner.now = func() time.Time { return testNow }

	results, err := runner.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}
	if !errors.Is(results[0].Err, valuation.ErrUnavailable) || results[0].Refreshed {
		t.Errorf("result = %+v", results[0])
	}
	if !results[0].NextRun.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("NextRun = %v, want retry in 15m", results[0].NextRun)
	}

	cfg, _ := store.GetAutomationConfig(ctx, f.ID)
	if cfg.LastRun != "" {
		t.Errorf("LastRun = %q, want unchanged after failure", cfg.LastRun)
	}
	if d, _ := gate.ShouldAutoRefresh(ctx, f.ID, testNow); !d.Due {
		t.Error("fund should still be due after a failed refresh")
	}
}

func TestRunDueSkipsDisabledAndInactive(t *testing.T) {
	ctx := context.Background()
	store, f := newStoreWithFund(t)
	inactive, err := store.CreateFund(ctx, domain.Fund{Name: "Old", InitialQuotaPrice: decimal.NewFromInt(1), Active: false})
	if err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}
	gate := NewGate(store, time.UTC, 24)
	if err := gate.SetEnabled(ctx, f.ID, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	refresher := &fakeRefresher{}
	runner := NewRunner(store, gate, refresher, time.Minute)

	results, err := runner.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue() error = %v", err)
	}
	if len(results) != 1 || results[0].FundID != f.ID {
		t.Fatalf("results = %+v, want only the active fund", results)
	}
	if results[0].Decision.Enabled || !results[0].NextRun.IsZero() {
		t.Errorf("result = %+v", results[0])
	}
	if len(refresher.calls) != 0 {
		t.Errorf("refresher called for disabled fund")
	}
	if _, err := store.GetAutomationConfig(ctx, inactive.ID); err == nil {
		t.Error("inactive fund should not be touched")
	}
}
