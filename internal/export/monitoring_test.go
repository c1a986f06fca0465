package export

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fund"
)

func TestBuildMonitoringRow(t *testing.T) {
	week := decimal.RequireFromString("2.5")
	r := Report{
		Fund: domain.Fund{ID: 3, Name: "Alpha"},
		Snapshots: []domain.AumSnapshot{
			{Date: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), TotalAUM: decimal.NewFromInt(600), QuotaPrice: decimal.RequireFromString("1.2"), Expenses: decimal.NewFromInt(10)},
			{Date: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), TotalAUM: decimal.NewFromInt(500), QuotaPrice: decimal.NewFromInt(1)},
		},
		Performance: &fund.Performance{Periods: []fund.PeriodChange{{Days: 7, ChangePct: &week}, {Days: 30}}},
	}

	row := buildMonitoringRow(r)
	if len(row) != len(monitoringHeader) {
		t.Fatalf("row has %d columns, want %d", len(row), len(monitoringHeader))
	}
	if row[0] != "10.03.2025" {
		t.Errorf("date = %v, want 10.03.2025", row[0])
	}
	if row[1] != 600.0 || row[2] != 1.2 || row[3] != 10.0 {
		t.Errorf("values = %v", row[1:4])
	}
	if row[4] != 2.5 {
		t.Errorf("week change = %v, want 2.5", row[4])
	}
	for i := 5; i < 8; i++ {
		if row[i] != nil {
			t.Errorf("column %d = %v, want nil", i, row[i])
		}
	}

	if got := buildMonitoringRow(Report{Fund: domain.Fund{ID: 3}}); got != nil {
		t.Errorf("row without snapshots = %v, want nil", got)
	}
}

func TestSheetTitle(t *testing.T) {
	if got := sheetTitle(12, "AUM"); got != "F12_AUM" {
		t.Errorf("sheetTitle() = %q", got)
	}
}
