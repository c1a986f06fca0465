package fund

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

// Position is a client's holding in one fund.
type Position struct {
	FundID     int64           `json:"fundId"`
	FundName   string          `json:"fundName"`
	Quotas     decimal.Decimal `json:"quotas"`
	Invested   decimal.Decimal `json:"invested"`
	QuotaPrice decimal.Decimal `json:"quotaPrice"`
	Value      decimal.Decimal `json:"value"`
	ReturnPct  decimal.Decimal `json:"returnPct"`
}

// Portfolio is a client's positions across every active fund plus totals.
type Portfolio struct {
	ClientID      int64           `json:"clientId"`
	Positions     []Position      `json:"positions"`
	TotalInvested decimal.Decimal `json:"totalInvested"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalReturn   decimal.Decimal `json:"totalReturnPct"`
}

// HistoryPoint is the running position right after one movement.
type HistoryPoint struct {
	MovementID         int64            `json:"movementId"`
	Date               time.Time        `json:"date"`
	Direction          domain.Direction `json:"direction"`
	CashAmount         decimal.Decimal  `json:"cashAmount"`
	QuotaAmount        decimal.Decimal  `json:"quotaAmount"`
	QuotaPrice         decimal.Decimal  `json:"quotaPrice"`
	CumulativeQuotas   decimal.Decimal  `json:"cumulativeQuotas"`
	CumulativeInvested decimal.Decimal  `json:"cumulativeInvested"`
	PositionValue      decimal.Decimal  `json:"positionValue"`
}

// returnPct is the gain of value over invested in percent, zero when nothing is invested.
func returnPct(value, invested decimal.Decimal) decimal.Decimal {
	if !invested.IsPositive() {
		return decimal.Zero
	}
	return domain.Divide(value.Sub(invested), invested).Mul(hundred).Round(2)
}

// ClientPositions lists the client's positive positions in active funds, valued at each
// fund's current quota price.
func (s *Service) ClientPositions(ctx context.Context, clientID int64) (Portfolio, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return Portfolio{}, fmt.Errorf("loading client: %w", err)
	}
	funds, err := s.store.ListFunds(ctx, true)
	if err != nil {
		return Portfolio{}, fmt.Errorf("listing funds: %w", err)
	}

	p := Portfolio{ClientID: clientID, Positions: []Position{}}
	for _, f := range funds {
		movements, err := s.store.ListMovements(ctx, ledger.MovementFilter{FundID: f.ID, ClientID: clientID})
		if err != nil {
			return Portfolio{}, fmt.Errorf("listing movements of fund %d: %w", f.ID, err)
		}
		quotas := lo.Reduce(movements, func(acc decimal.Decimal, m domain.Movement, _ int) decimal.Decimal {
			return acc.Add(m.QuotaAmount)
		}, decimal.Zero)
		if quotas.LessThanOrEqual(domain.ConsistencyTolerance) {
			continue
		}
		invested := lo.Reduce(movements, func(acc decimal.Decimal, m domain.Movement, _ int) decimal.Decimal {
			return acc.Add(m.SignedCash())
		}, decimal.Zero)

		price, err := s.prices.CurrentPrice(ctx, f.ID)
		if err != nil {
			return Portfolio{}, fmt.Errorf("pricing fund %d: %w", f.ID, err)
		}
		value := quotas.Mul(price).Round(2)

		p.Positions = append(p.Positions, Position{
			FundID:     f.ID,
			FundName:   f.Name,
			Quotas:     quotas,
			Invested:   invested,
			QuotaPrice: price,
			Value:      value,
			ReturnPct:  returnPct(value, invested),
		})
	}

	p.TotalInvested = lo.Reduce(p.Positions, func(acc decimal.Decimal, pos Position, _ int) decimal.Decimal {
		return acc.Add(pos.Invested)
	}, decimal.Zero)
	p.TotalValue = lo.Reduce(p.Positions, func(acc decimal.Decimal, pos Position, _ int) decimal.Decimal {
		return acc.Add(pos.Value)
	}, decimal.Zero)
	p.TotalReturn = returnPct(p.TotalValue, p.TotalInvested)
	return p, nil
}

// ClientHistory returns the client's movements in a fund with running totals. Each point is
// valued at the price of its own movement.
func (s *Service) ClientHistory(ctx context.Context, clientID, fundID int64) ([]HistoryPoint, error) {
	movements, err := s.store.ListMovements(ctx, ledger.MovementFilter{FundID: fundID, ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("listing movements: %w", err)
	}

	points := make([]HistoryPoint, 0, len(movements))
	quotas, invested := decimal.Zero, decimal.Zero
	for _, m := range movements {
		quotas = quotas.Add(m.QuotaAmount)
		invested = invested.Add(m.SignedCash())
		points = append(points, HistoryPoint{
			MovementID:         m.ID,
			Date:               m.EffectiveDate,
			Direction:          m.Direction,
			CashAmount:         m.CashAmount,
			QuotaAmount:        m.QuotaAmount,
			QuotaPrice:         m.QuotaPrice,
			CumulativeQuotas:   quotas,
			CumulativeInvested: invested,
			PositionValue:      quotas.Mul(m.QuotaPrice).Round(2),
		})
	}
	return points, nil
}
