// Package quota converts cash movements into quota units and derives quota prices from AUM.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

var (
	// ErrInvalidAmount indicates a non-positive cash amount.
	ErrInvalidAmount = errors.New("cash amount must be positive")
	// ErrInvalidDirection indicates a direction other than IN or OUT.
	ErrInvalidDirection = errors.New("invalid movement direction")
	// ErrInsufficientQuotas indicates a withdrawal larger than the client's position.
	ErrInsufficientQuotas = errors.New("insufficient quotas")
	// ErrNotReversible indicates an attempt to reverse a reversal movement.
	ErrNotReversible = errors.New("reversal movements cannot be reversed")
	// ErrFundInactive indicates a movement against a deactivated fund.
	ErrFundInactive = errors.New("fund is inactive")
)

// Quote is the quota conversion of a cash amount at the fund's current price.
type Quote struct {
	QuotaDelta decimal.Decimal `json:"quotaDelta"`
	QuotaPrice decimal.Decimal `json:"quotaPrice"`
}

// QuotaDelta converts cash into a signed quota amount at price.
func QuotaDelta(cash, price decimal.Decimal, dir domain.Direction) (decimal.Decimal, error) {
	if !cash.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !dir.Valid() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("quota price %s is not positive", price)
	}
	return domain.Divide(cash, price).Mul(dir.Sign()), nil
}

// PriceFromNAV derives the quota price from net assets. With no circulating quotas the
// fund's initial price applies; otherwise the price never falls below domain.MinQuotaPrice.
func PriceFromNAV(net, circulating, initial decimal.Decimal) decimal.Decimal {
	if !circulating.IsPositive() {
		return initial
	}
	return decimal.Max(domain.Divide(net, circulating), domain.MinQuotaPrice)
}

// Engine applies quota math against the ledger.
type Engine struct {
	store ledger.Store
	now   func() time.Time
}

// NewEngine creates a new quota engine.
func NewEngine(store ledger.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// CirculatingQuotas returns the signed sum of every quota amount recorded for the fund.
func (e *Engine) CirculatingQuotas(ctx context.Context, fundID int64) (decimal.Decimal, error) {
	total, err := e.store.SumQuotas(ctx, ledger.MovementFilter{FundID: fundID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("computing circulating quotas: %w", err)
	}
	return total, nil
}

// CurrentPrice returns the quota price of the latest snapshot, or the fund's initial price.
func (e *Engine) CurrentPrice(ctx context.Context, fundID int64) (decimal.Decimal, error) {
	return currentPrice(ctx, e.store, fundID)
}

func currentPrice(ctx context.Context, s ledger.Store, fundID int64) (decimal.Decimal, error) {
	snap, err := s.LatestSnapshot(ctx, fundID)
	if err == nil {
		return snap.QuotaPrice, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("loading latest snapshot: %w", err)
	}
	f, err := s.GetFund(ctx, fundID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("loading fund: %w", err)
	}
	return f.InitialQuotaPrice, nil
}

// QuoteMovement prices a prospective movement without recording it.
func (e *Engine) QuoteMovement(ctx context.Context, fundID int64, cash decimal.Decimal, dir domain.Direction) (Quote, error) {
	return quote(ctx, e.store, fundID, cash, dir)
}

func quote(ctx context.Context, s ledger.Store, fundID int64, cash decimal.Decimal, dir domain.Direction) (Quote, error) {
	if !cash.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}
	if !dir.Valid() {
		return Quote{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	price, err := currentPrice(ctx, s, fundID)
	if err != nil {
		return Quote{}, err
	}
	delta, err := QuotaDelta(cash, price, dir)
	if err != nil {
		return Quote{}, err
	}
	return Quote{QuotaDelta: delta, QuotaPrice: price}, nil
}

// Reprice computes the quota price for a valuation of totalAUM net of expenses.
func (e *Engine) Reprice(ctx context.Context, fundID int64, totalAUM, expenses decimal.Decimal) (decimal.Decimal, error) {
	f, err := e.store.GetFund(ctx, fundID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("loading fund: %w", err)
	}
	circulating, err := e.CirculatingQuotas(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}
	return PriceFromNAV(totalAUM.Sub(expenses), circulating, f.InitialQuotaPrice), nil
}

// MovementRequest describes a cash movement to register.
type MovementRequest struct {
	FundID        int64
	ClientID      int64
	Direction     domain.Direction
	Cash          decimal.Decimal
	EffectiveDate time.Time
	Note          string
}

// RegisterMovement quotes the movement at the current price and records it in one transaction.
// Withdrawals may not exceed the client's quota position in the fund.
func (e *Engine) RegisterMovement(ctx context.Context, req MovementRequest) (domain.Movement, error) {
	if req.EffectiveDate.IsZero() {
		req.EffectiveDate = e.now()
	}

	var created domain.Movement
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		f, err := tx.GetFund(ctx, req.FundID)
		if err != nil {
			return fmt.Errorf("loading fund: %w", err)
		}
		if !f.Active {
			return ErrFundInactive
		}

		q, err := quote(ctx, tx, req.FundID, req.Cash, req.Direction)
		if err != nil {
			return err
		}
		if req.Direction == domain.DirectionOut {
			if err := ensurePosition(ctx, tx, req.FundID, req.ClientID, q.QuotaDelta.Neg()); err != nil {
				return err
			}
		}

		created, err = tx.InsertMovement(ctx, domain.Movement{
			FundID:        req.FundID,
			ClientID:      req.ClientID,
			Direction:     req.Direction,
			CashAmount:    req.Cash,
			QuotaAmount:   q.QuotaDelta,
			QuotaPrice:    q.QuotaPrice,
			EffectiveDate: domain.DateOf(req.EffectiveDate),
			Note:          req.Note,
		})
		if err != nil {
			return fmt.Errorf("recording movement: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Movement{}, err
	}
	return created, nil
}

// ReverseMovement cancels a movement by appending its exact opposite. A movement can be
// reversed once; reversals themselves cannot be reversed.
func (e *Engine) ReverseMovement(ctx context.Context, movementID int64, note string) (domain.Movement, error) {
	var created domain.Movement
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		orig, err := tx.GetMovement(ctx, movementID)
		if err != nil {
			return fmt.Errorf("loading movement: %w", err)
		}
		if orig.IsReversal() {
			return ErrNotReversible
		}
		if orig.Direction == domain.DirectionIn {
			if err := ensurePosition(ctx, tx, orig.FundID, orig.ClientID, orig.QuotaAmount); err != nil {
				return err
			}
		}

		if note == "" {
			note = fmt.Sprintf("reversal of movement %d", orig.ID)
		}
		created, err = tx.InsertMovement(ctx, domain.Movement{
			FundID:        orig.FundID,
			ClientID:      orig.ClientID,
			Direction:     orig.Direction.Opposite(),
			CashAmount:    orig.CashAmount,
			QuotaAmount:   orig.QuotaAmount.Neg(),
			QuotaPrice:    orig.QuotaPrice,
			EffectiveDate: domain.DateOf(e.now()),
			Note:          note,
			ReversesID:    &orig.ID,
		})
		if err != nil {
			return fmt.Errorf("recording reversal: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Movement{}, err
	}
	return created, nil
}

// ensurePosition fails unless the client holds at least quotas in the fund.
func ensurePosition(ctx context.Context, s ledger.Store, fundID, clientID int64, quotas decimal.Decimal) error {
	held, err := s.SumQuotas(ctx, ledger.MovementFilter{FundID: fundID, ClientID: clientID})
	if err != nil {
		return fmt.Errorf("loading client position: %w", err)
	}
	if held.Add(domain.ConsistencyTolerance).LessThan(quotas) {
		return fmt.Errorf("%w: holds %s, needs %s", ErrInsufficientQuotas, held, quotas)
	}
	return nil
}
