package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fund"
	"github.com/mtlprog/quota/internal/ledger"
)

type captureWriter struct {
	reports []Report
	err     error
}

func (c *captureWriter) Write(_ context.Context, r Report) error {
	c.reports = append(c.reports, r)
	return c.err
}

type fakePerformance struct {
	perf fund.Performance
	err  error
}

func (f fakePerformance) Performance(_ context.Context, _ int64) (fund.Performance, error) {
	return f.perf, f.err
}

func seedLedger(t *testing.T) (*ledger.MemoryStore, domain.Fund) {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	f, err := store.CreateFund(ctx, domain.Fund{
		Name:              "Alpha",
		InceptionDate:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		InitialQuotaPrice: decimal.NewFromInt(1),
		Active:            true,
	})
	if err != nil {
		t.Fatalf("CreateFund() error = %v", err)
	}
	for i, price := range []string{"1.0", "1.1", "1.2"} {
		err := store.UpsertSnapshot(ctx, domain.AumSnapshot{
			FundID:     f.ID,
			Date:       time.Date(2025, 3, 1+i, 0, 0, 0, 0, time.UTC),
			TotalAUM:   decimal.NewFromInt(int64(500 + 50*i)),
			QuotaPrice: decimal.RequireFromString(price),
			Source:     domain.SourceExternalAPI,
		})
		if err != nil {
			t.Fatalf("UpsertSnapshot() error = %v", err)
		}
	}
	aum := decimal.NewFromInt(600)
	if _, err := store.AppendLog(ctx, domain.OperationLog{
		FundID: f.ID, Kind: domain.KindAutomaticUpdate, Source: domain.LogSourceOctav,
		Value: &aum, Status: domain.StatusSuccess, Detail: "AUM updated",
	}); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	return store, f
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	store, f := seedLedger(t)
	writer := &captureWriter{}
	svc := NewService(store, fakePerformance{err: errors.New("boom")}, writer)

	if err := svc.Export(ctx, f.ID); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(writer.reports) != 1 {
		t.Fatalf("writer called %d times", len(writer.reports))
	}
	r := writer.reports[0]
	if r.Fund.ID != f.ID || len(r.Snapshots) != 3 || len(r.Logs) != 1 {
		t.Errorf("report = %+v", r)
	}
	if r.Performance != nil {
		t.Error("performance should be dropped when it fails")
	}

	writer.err = errors.New("quota exceeded")
	if err := svc.Export(ctx, f.ID); err == nil {
		t.Error("expected writer error")
	}
	if err := svc.Export(ctx, 99); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Export(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestBuildHistoryRowsOldestFirst(t *testing.T) {
	store, f := seedLedger(t)
	snaps, _ := store.ListSnapshots(context.Background(), f.ID, time.Time{}, 0)

	rows := buildHistoryRows(snaps)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[1][0] != "2025-03-01" || rows[3][0] != "2025-03-03" {
		t.Errorf("dates = %v .. %v", rows[1][0], rows[3][0])
	}
	if rows[3][4] != 1.2 || rows[3][5] != "external-api" {
		t.Errorf("last row = %v", rows[3])
	}
	if snaps[0].Date.Day() != 3 {
		t.Error("buildHistoryRows must not reorder its input")
	}
}

func TestWorkbookWriter(t *testing.T) {
	ctx := context.Background()
	store, f := seedLedger(t)
	seven := decimal.NewFromInt(20)
	var buf bytes.Buffer
	svc := NewService(store, fakePerformance{perf: fund.Performance{
		Periods: []fund.PeriodChange{{Days: 7, ChangePct: &seven}},
	}}, NewWorkbookWriter(&buf))

	if err := svc.Export(ctx, f.ID); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	wb, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer wb.Close()

	if got := wb.GetSheetList(); len(got) != 3 || got[0] != summarySheet {
		t.Errorf("sheets = %v", got)
	}

	history, err := wb.GetRows(historySheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(history) != 4 || history[0][0] != "Date" || history[1][0] != "2025-03-01" {
		t.Errorf("history rows = %v", history)
	}

	logs, _ := wb.GetRows(logSheet)
	if len(logs) != 2 || logs[1][1] != "automatic-update" {
		t.Errorf("log rows = %v", logs)
	}

	summary, _ := wb.GetRows(summarySheet)
	if len(summary) == 0 || summary[0][0] != "Fund" || summary[0][1] != "Alpha" {
		t.Errorf("summary rows = %v", summary)
	}
}
