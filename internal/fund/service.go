// Package fund administers funds, their expenses and the derived client positions.
package fund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

var (
	// ErrInvalidFund indicates fund settings that cannot be stored.
	ErrInvalidFund = errors.New("invalid fund")
	// ErrInvalidExpense indicates an expense that cannot be recorded.
	ErrInvalidExpense = errors.New("invalid expense")
)

// PriceSource returns a fund's current quota price.
type PriceSource interface {
	CurrentPrice(ctx context.Context, fundID int64) (decimal.Decimal, error)
}

// Service manages funds and answers position queries.
type Service struct {
	store         ledger.Store
	prices        PriceSource
	intervalHours int
	now           func() time.Time
}

// NewService creates a new fund Service. New funds get automation configs with intervalHours.
func NewService(store ledger.Store, prices PriceSource, intervalHours int) *Service {
	if store == nil {
		panic("fund.NewService: store is nil")
	}
	if prices == nil {
		panic("fund.NewService: prices is nil")
	}
	if intervalHours <= 0 {
		intervalHours = domain.DefaultIntervalHours
	}
	return &Service{store: store, prices: prices, intervalHours: intervalHours, now: time.Now}
}

func validateFund(f domain.Fund) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFund)
	}
	if !f.InitialQuotaPrice.IsPositive() {
		return fmt.Errorf("%w: initial quota price must be positive", ErrInvalidFund)
	}
	return nil
}

// CreateFund stores a new active fund together with its default automation config.
func (s *Service) CreateFund(ctx context.Context, f domain.Fund) (domain.Fund, error) {
	f.Name = strings.TrimSpace(f.Name)
	if err := validateFund(f); err != nil {
		return domain.Fund{}, err
	}
	if f.InceptionDate.IsZero() {
		f.InceptionDate = s.now()
	}
	f.Active = true

	var created domain.Fund
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		created, err = tx.CreateFund(ctx, f)
		if err != nil {
			return fmt.Errorf("creating fund: %w", err)
		}
		_, _, err = tx.EnsureAutomationConfig(ctx, domain.AutomationConfig{
			FundID:        created.ID,
			Enabled:       true,
			IntervalHours: s.intervalHours,
		})
		if err != nil {
			return fmt.Errorf("creating automation config: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Fund{}, err
	}

	slog.Info("fund created", "fund", created.ID, "name", created.Name, "initial_price", created.InitialQuotaPrice)
	return created, nil
}

// UpdateFund changes a fund's descriptive settings and initial quota price.
// Recorded movements and snapshots are never repriced.
func (s *Service) UpdateFund(ctx context.Context, f domain.Fund) error {
	f.Name = strings.TrimSpace(f.Name)
	if err := validateFund(f); err != nil {
		return err
	}
	if err := s.store.UpdateFund(ctx, f); err != nil {
		return fmt.Errorf("updating fund %d: %w", f.ID, err)
	}
	return nil
}

// Deactivate soft-deletes a fund. Its history stays readable.
func (s *Service) Deactivate(ctx context.Context, fundID int64) error {
	if err := s.store.SetFundActive(ctx, fundID, false); err != nil {
		return fmt.Errorf("deactivating fund %d: %w", fundID, err)
	}
	slog.Info("fund deactivated", "fund", fundID)
	return nil
}

func (s *Service) GetFund(ctx context.Context, fundID int64) (domain.Fund, error) {
	return s.store.GetFund(ctx, fundID)
}

func (s *Service) ListFunds(ctx context.Context, activeOnly bool) ([]domain.Fund, error) {
	return s.store.ListFunds(ctx, activeOnly)
}

// SetValuationSource stores the provider token and monitored wallet of a fund.
func (s *Service) SetValuationSource(ctx context.Context, fundID int64, token, wallet string) error {
	if _, err := s.store.GetFund(ctx, fundID); err != nil {
		return fmt.Errorf("loading fund: %w", err)
	}
	src := domain.ValuationSource{
		FundID:        fundID,
		APIToken:      strings.TrimSpace(token),
		WalletAddress: strings.TrimSpace(wallet),
	}
	if err := s.store.SetValuationSource(ctx, src); err != nil {
		return fmt.Errorf("saving valuation source: %w", err)
	}
	return nil
}

// ValuationSource returns the fund's provider settings. A fund without settings gets an
// empty, unconfigured source.
func (s *Service) ValuationSource(ctx context.Context, fundID int64) (domain.ValuationSource, error) {
	src, err := s.store.GetValuationSource(ctx, fundID)
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.ValuationSource{FundID: fundID}, nil
	}
	return src, err
}

// AddExpense records an expense. The date defaults to today and the category to "Geral".
func (s *Service) AddExpense(ctx context.Context, e domain.Expense) (domain.Expense, error) {
	if !e.Amount.IsPositive() {
		return domain.Expense{}, fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	}
	e.Description = strings.TrimSpace(e.Description)
	if e.Description == "" {
		return domain.Expense{}, fmt.Errorf("%w: description is required", ErrInvalidExpense)
	}
	e.Category = strings.TrimSpace(e.Category)
	if e.Category == "" {
		e.Category = domain.DefaultExpenseCategory
	}
	if e.Date.IsZero() {
		e.Date = s.now()
	}
	e.Date = domain.DateOf(e.Date)

	if _, err := s.store.GetFund(ctx, e.FundID); err != nil {
		return domain.Expense{}, fmt.Errorf("loading fund: %w", err)
	}
	created, err := s.store.AddExpense(ctx, e)
	if err != nil {
		return domain.Expense{}, fmt.Errorf("recording expense: %w", err)
	}
	return created, nil
}

func (s *Service) ListExpenses(ctx context.Context, fundID int64, limit int) ([]domain.Expense, error) {
	return s.store.ListExpenses(ctx, fundID, limit)
}

func (s *Service) ExpensesByCategory(ctx context.Context, fundID int64) ([]domain.CategoryTotal, error) {
	return s.store.ExpensesByCategory(ctx, fundID)
}
