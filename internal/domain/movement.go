package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the cash flow direction of a movement.
type Direction string

const (
	DirectionIn  Direction = "IN"  // contribution, creates quotas
	DirectionOut Direction = "OUT" // withdrawal, burns quotas
)

// ParseDirection accepts IN/OUT in any case, plus the legacy ENTRADA/SAIDA labels.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN", "ENTRADA":
		return DirectionIn, nil
	case "OUT", "SAIDA", "SAÍDA":
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("unknown movement direction %q", s)
	}
}

// Valid reports whether d is IN or OUT.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Sign returns +1 for IN and -1 for OUT.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionOut {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the direction that cancels d.
func (d Direction) Opposite() Direction {
	if d == DirectionOut {
		return DirectionIn
	}
	return DirectionOut
}

// Movement is an immutable cash contribution or withdrawal converted into quotas.
// QuotaAmount is signed: positive for IN, negative for OUT.
type Movement struct {
	ID            int64           `json:"id"`
	FundID        int64           `json:"fundId"`
	ClientID      int64           `json:"clientId"`
	Direction     Direction       `json:"direction"`
	CashAmount    decimal.Decimal `json:"cashAmount"`
	QuotaAmount   decimal.Decimal `json:"quotaAmount"`
	QuotaPrice    decimal.Decimal `json:"quotaPrice"`
	EffectiveDate time.Time       `json:"effectiveDate"`
	Note          string          `json:"note,omitempty"`
	ReversesID    *int64          `json:"reversesId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SignedCash returns the cash amount signed by direction.
func (m Movement) SignedCash() decimal.Decimal {
	return m.CashAmount.Mul(m.Direction.Sign())
}

// IsReversal reports whether the movement cancels another one.
func (m Movement) IsReversal() bool {
	return m.ReversesID != nil
}
