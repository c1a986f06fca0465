package export

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	historyHeader    = []any{"Date", "AUM", "Expenses", "Net AUM", "Quota Price", "Source"}
	logHeader        = []any{"Timestamp", "Kind", "Source", "Value", "Status", "Detail", "Error"}
	monitoringHeader = []any{"Date", "AUM", "Quota Price", "Expenses", "Week", "Month", "Quarter", "Year"}
)

// buildHistoryRows builds the AUM history table, oldest first.
// Columns: Date | AUM | Expenses | Net AUM | Quota Price | Source
func buildHistoryRows(snaps []domain.AumSnapshot) [][]any {
	ordered := slices.Clone(snaps)
	slices.Reverse(ordered)

	data := make([][]any, 0, len(ordered)+1)
	data = append(data, historyHeader)
	for _, s := range ordered {
		data = append(data, []any{
			s.Date.Format(domain.DateLayout),
			toFloat(s.TotalAUM),
			toFloat(s.Expenses),
			toFloat(s.TotalAUM.Sub(s.Expenses)),
			toFloat(s.QuotaPrice),
			string(s.Source),
		})
	}
	return data
}

// buildLogRows builds the operation log table, newest first.
// Columns: Timestamp | Kind | Source | Value | Status | Detail | Error
func buildLogRows(logs []domain.OperationLog) [][]any {
	data := make([][]any, 0, len(logs)+1)
	data = append(data, logHeader)
	for _, l := range logs {
		data = append(data, []any{
			l.Timestamp.UTC().Format(timestampLayout),
			string(l.Kind),
			l.Source,
			ptrFloat(l.Value),
			string(l.Status),
			l.Detail,
			l.Error,
		})
	}
	return data
}

// buildSummaryRows builds a two-column key/value summary of the fund.
func buildSummaryRows(r Report) [][]any {
	f := r.Fund
	data := [][]any{
		{"Fund", f.Name},
		{"Description", f.Description},
		{"Inception", f.InceptionDate.Format(domain.DateLayout)},
		{"Initial Quota Price", toFloat(f.InitialQuotaPrice)},
		{"Generated", r.GeneratedAt.Format(timestampLayout)},
	}
	if len(r.Snapshots) > 0 {
		latest := r.Snapshots[0]
		data = append(data,
			[]any{"Latest Valuation", latest.Date.Format(domain.DateLayout)},
			[]any{"AUM", toFloat(latest.TotalAUM)},
			[]any{"Quota Price", toFloat(latest.QuotaPrice)},
		)
	}
	if p := r.Performance; p != nil {
		for _, pc := range p.Periods {
			data = append(data, []any{fmt.Sprintf("Change %dd (%%)", pc.Days), ptrFloat(pc.ChangePct)})
		}
		data = append(data,
			[]any{"Daily Volatility (%)", toFloat(p.DailyVolatility)},
			[]any{"Annual Volatility (%)", toFloat(p.AnnualVolatility)},
		)
	}
	return data
}

// buildMonitoringRow builds the row appended to the monitoring sheet after a refresh.
// Columns follow monitoringHeader. It returns nil when the fund has no snapshot.
func buildMonitoringRow(r Report) []any {
	if len(r.Snapshots) == 0 {
		return nil
	}
	latest := r.Snapshots[0]
	row := []any{
		latest.Date.Format("02.01.2006"),
		toFloat(latest.TotalAUM),
		toFloat(latest.QuotaPrice),
		toFloat(latest.Expenses),
	}
	changes := make(map[int]*decimal.Decimal)
	if r.Performance != nil {
		for _, pc := range r.Performance.Periods {
			changes[pc.Days] = pc.ChangePct
		}
	}
	for _, days := range []int{7, 30, 90, 365} {
		row = append(row, ptrFloat(changes[days]))
	}
	return row
}

func sheetTitle(fundID int64, name string) string {
	return fmt.Sprintf("F%d_%s", fundID, name)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func ptrFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return f
}
