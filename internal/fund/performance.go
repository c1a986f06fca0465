package fund

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

// PerformanceWindows are the look-back periods, in days, reported by Performance.
var PerformanceWindows = []int{7, 30, 90, 365}

const tradingDaysPerYear = 365

// PeriodChange is the quota price change over a look-back window. ChangePct is nil when the
// history does not reach back far enough.
type PeriodChange struct {
	Days      int              `json:"days"`
	BaseDate  *time.Time       `json:"baseDate,omitempty"`
	ChangePct *decimal.Decimal `json:"changePct"`
}

// Performance summarizes the quota price history of a fund.
type Performance struct {
	FundID           int64           `json:"fundId"`
	AsOf             time.Time       `json:"asOf"`
	QuotaPrice       decimal.Decimal `json:"quotaPrice"`
	Periods          []PeriodChange  `json:"periods"`
	DailyVolatility  decimal.Decimal `json:"dailyVolatilityPct"`
	AnnualVolatility decimal.Decimal `json:"annualVolatilityPct"`
	Observations     int             `json:"observations"`
}

// Performance computes period changes and volatility from the fund's snapshots.
// A fund without snapshots reports its initial price and no periods.
func (s *Service) Performance(ctx context.Context, fundID int64) (Performance, error) {
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return Performance{}, fmt.Errorf("loading fund: %w", err)
	}
	snaps, err := s.store.ListSnapshots(ctx, fundID, time.Time{}, 0)
	if err != nil {
		return Performance{}, fmt.Errorf("listing snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return Performance{FundID: fundID, QuotaPrice: f.InitialQuotaPrice, Periods: []PeriodChange{}}, nil
	}

	// oldest first
	slices.Reverse(snaps)
	latest := snaps[len(snaps)-1]

	perf := Performance{
		FundID:       fundID,
		AsOf:         latest.Date,
		QuotaPrice:   latest.QuotaPrice,
		Observations: len(snaps),
	}
	for _, days := range PerformanceWindows {
		perf.Periods = append(perf.Periods, periodChange(snaps, latest, days))
	}

	cutoff := latest.Date.AddDate(0, 0, -tradingDaysPerYear)
	var returns []decimal.Decimal
	for i := 1; i < len(snaps); i++ {
		prev, cur := snaps[i-1], snaps[i]
		if cur.Date.Before(cutoff) || !prev.QuotaPrice.IsPositive() {
			continue
		}
		returns = append(returns, domain.Divide(cur.QuotaPrice, prev.QuotaPrice).Sub(decimal.NewFromInt(1)))
	}
	if len(returns) >= 2 {
		daily := StdDev(returns).Mul(hundred)
		perf.DailyVolatility = daily.Round(4)
		perf.AnnualVolatility = daily.Mul(decimal.NewFromFloat(math.Sqrt(tradingDaysPerYear))).Round(4)
	}
	return perf, nil
}

// periodChange compares latest against the newest snapshot dated at least days earlier.
func periodChange(snaps []domain.AumSnapshot, latest domain.AumSnapshot, days int) PeriodChange {
	pc := PeriodChange{Days: days}
	target := latest.Date.AddDate(0, 0, -days)
	for i := len(snaps) - 1; i >= 0; i-- {
		base := snaps[i]
		if base.Date.After(target) {
			continue
		}
		if !base.QuotaPrice.IsPositive() {
			return pc
		}
		change := domain.Divide(latest.QuotaPrice, base.QuotaPrice).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(4)
		date := base.Date
		pc.BaseDate = &date
		pc.ChangePct = &change
		return pc
	}
	return pc
}
