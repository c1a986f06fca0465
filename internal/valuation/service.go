// Package valuation refreshes fund AUM from the valuation provider, reprices quotas and
// keeps the valuation audit trail.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/external"
	"github.com/mtlprog/quota/internal/ledger"
)

var (
	// ErrUnavailable indicates the provider could not be reached or returned an error.
	ErrUnavailable = errors.New("valuation unavailable")
	// ErrInvalidValue indicates the provider response held no usable networth.
	ErrInvalidValue = errors.New("invalid valuation value")
	// ErrPersistFailure indicates the snapshot and its log could not be committed.
	ErrPersistFailure = errors.New("persisting valuation failed")
	// ErrFundUnavailable indicates a missing or inactive fund.
	ErrFundUnavailable = errors.New("fund unavailable")
)

// Operation log details.
const (
	detailNoResponse      = "no response"
	detailInvalidNetworth = "invalid networth"
	detailPersistFailed   = "persist failed"
)

// Fetcher returns a wallet's networth from the valuation provider.
type Fetcher interface {
	FetchNetworth(ctx context.Context, src domain.ValuationSource, req external.FetchRequest) (decimal.Decimal, error)
}

// Repricer derives the quota price of a fund valuation.
type Repricer interface {
	Reprice(ctx context.Context, fundID int64, totalAUM, expenses decimal.Decimal) (decimal.Decimal, error)
}

// RefreshRequest parameterizes one AUM refresh.
type RefreshRequest struct {
	FundID int64
	// AsOf is the valuation date. Zero means today in the service location.
	AsOf time.Time
	// ManualExpenses are added to the stored expenses dated on or before AsOf.
	ManualExpenses decimal.Decimal
	PreferCurrent  bool
	// Kind tags the success log. Zero means manual-update.
	Kind domain.OperationKind
}

// RefreshOutcome describes a refresh. State is StateDone on success; on failure it is
// StateFailed and Stage names the step that failed.
type RefreshOutcome struct {
	FundID          int64                 `json:"fundId"`
	AUM             decimal.Decimal       `json:"aum"`
	QuotaPrice      decimal.Decimal       `json:"quotaPrice"`
	ExpensesApplied decimal.Decimal       `json:"expensesApplied"`
	AsOf            time.Time             `json:"asOf"`
	Source          domain.SnapshotSource `json:"source"`
	State           State                 `json:"-"`
	Stage           State                 `json:"-"`
}

// Service runs the valuation refresh workflow.
type Service struct {
	store   ledger.Store
	fetcher Fetcher
	pricer  Repricer
	loc     *time.Location
	now     func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService creates a new valuation service. Calendar dates are taken in loc.
func NewService(store ledger.Store, fetcher Fetcher, pricer Repricer, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:   store,
		fetcher: fetcher,
		pricer:  pricer,
		loc:     loc,
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Today returns the current calendar date in the service location.
func (s *Service) Today() time.Time {
	return domain.Today(s.now(), s.loc)
}

func (s *Service) lockFund(fundID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[fundID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[fundID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) activeFund(ctx context.Context, fundID int64) (domain.Fund, error) {
	f, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		return domain.Fund{}, fmt.Errorf("%w: %w", ErrFundUnavailable, err)
	}
	if !f.Active {
		return domain.Fund{}, fmt.Errorf("%w: fund %d is inactive", ErrFundUnavailable, fundID)
	}
	return f, nil
}

// RefreshFundAUM fetches the fund's networth, reprices its quotas and stores the snapshot
// together with a success log. Every failure after the fund lookup appends one error log.
func (s *Service) RefreshFundAUM(ctx context.Context, req RefreshRequest) (RefreshOutcome, error) {
	unlock := s.lockFund(req.FundID)
	defer unlock()

	out := RefreshOutcome{FundID: req.FundID, Source: domain.SourceExternalAPI, State: StateIdle}
	if _, err := s.activeFund(ctx, req.FundID); err != nil {
		return s.fail(out, StateIdle), err
	}
	if req.Kind == "" {
		req.Kind = domain.KindManualUpdate
	}
	out.AsOf = s.valuationDate(req.AsOf)
	logger := slog.With("fund", req.FundID, "date", out.AsOf.Format(domain.DateLayout), "kind", req.Kind)

	s.transition(logger, &out, StateFetching)
	src, err := s.store.GetValuationSource(ctx, req.FundID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return s.fail(out, StateFetching), fmt.Errorf("loading valuation source: %w", err)
	}
	src.FundID = req.FundID

	networth, err := s.fetcher.FetchNetworth(ctx, src, external.FetchRequest{Date: out.AsOf, PreferCurrent: req.PreferCurrent})
	if err != nil {
		if errors.Is(err, external.ErrInvalidValue) || errors.Is(err, external.ErrUnrecognizedShape) {
			s.transition(logger, &out, StateExtracting)
			s.logFailure(ctx, req.FundID, detailInvalidNetworth, err)
			logger.Warn("valuation returned no usable networth", "error", err)
			return s.fail(out, StateExtracting), fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		s.logFailure(ctx, req.FundID, detailNoResponse, err)
		logger.Warn("valuation provider unavailable", "error", err)
		return s.fail(out, StateFetching), fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.transition(logger, &out, StateExtracting)
	out.AUM = networth

	return s.priceAndPersist(ctx, logger, out, req.ManualExpenses, domain.LogSourceOctav, req.Kind)
}

// ManualAUMRequest records an operator-supplied AUM.
type ManualAUMRequest struct {
	FundID         int64
	Date           time.Time
	TotalAUM       decimal.Decimal
	ManualExpenses decimal.Decimal
}

// RecordManualAUM prices and stores an AUM figure entered by an operator.
func (s *Service) RecordManualAUM(ctx context.Context, req ManualAUMRequest) (RefreshOutcome, error) {
	unlock := s.lockFund(req.FundID)
	defer unlock()

	out := RefreshOutcome{FundID: req.FundID, Source: domain.SourceManual, AUM: req.TotalAUM, State: StateIdle}
	if _, err := s.activeFund(ctx, req.FundID); err != nil {
		return s.fail(out, StateIdle), err
	}
	if !req.TotalAUM.IsPositive() {
		return s.fail(out, StateIdle), fmt.Errorf("%w: AUM must be positive, got %s", ErrInvalidValue, req.TotalAUM)
	}
	out.AsOf = s.valuationDate(req.Date)
	logger := slog.With("fund", req.FundID, "date", out.AsOf.Format(domain.DateLayout), "kind", domain.KindManualUpdate)

	return s.priceAndPersist(ctx, logger, out, req.ManualExpenses, domain.LogSourceManual, domain.KindManualUpdate)
}

func (s *Service) priceAndPersist(ctx context.Context, logger *slog.Logger, out RefreshOutcome, manual decimal.Decimal, logSource string, kind domain.OperationKind) (RefreshOutcome, error) {
	s.transition(logger, &out, StateRepricing)
	stored, err := s.store.SumExpenses(ctx, out.FundID, out.AsOf)
	if err != nil {
		s.logFailureFrom(ctx, out.FundID, logSource, detailPersistFailed, err)
		return s.fail(out, StateRepricing), fmt.Errorf("%w: loading expenses: %w", ErrPersistFailure, err)
	}
	out.ExpensesApplied = stored.Add(manual)

	price, err := s.pricer.Reprice(ctx, out.FundID, out.AUM, out.ExpensesApplied)
	if err != nil {
		s.logFailureFrom(ctx, out.FundID, logSource, detailPersistFailed, err)
		return s.fail(out, StateRepricing), fmt.Errorf("%w: repricing: %w", ErrPersistFailure, err)
	}
	out.QuotaPrice = price

	s.transition(logger, &out, StatePersisting)
	aum := out.AUM
	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.UpsertSnapshot(ctx, domain.AumSnapshot{
			FundID:     out.FundID,
			Date:       out.AsOf,
			TotalAUM:   out.AUM,
			QuotaPrice: out.QuotaPrice,
			Expenses:   out.ExpensesApplied,
			Source:     out.Source,
		}); err != nil {
			return err
		}
		_, err := tx.AppendLog(ctx, domain.OperationLog{
			FundID:    out.FundID,
			Timestamp: s.now().UTC(),
			Kind:      kind,
			Source:    logSource,
			Value:     &aum,
			Status:    domain.StatusSuccess,
			Detail:    successDetail(logSource, out.AUM, out.QuotaPrice),
		})
		return err
	})
	if err != nil {
		s.logFailureFrom(ctx, out.FundID, logSource, detailPersistFailed, err)
		logger.Error("failed to persist valuation", "error", err)
		return s.fail(out, StatePersisting), fmt.Errorf("%w: %w", ErrPersistFailure, err)
	}

	s.transition(logger, &out, StateDone)
	logger.Info("AUM updated", "aum", out.AUM, "quota_price", out.QuotaPrice, "expenses", out.ExpensesApplied)
	return out, nil
}

func successDetail(logSource string, aum, price decimal.Decimal) string {
	via := "Octav API"
	if logSource == domain.LogSourceManual {
		via = "manual entry"
	}
	return fmt.Sprintf("AUM updated via %s: %s | quota price: $%s", via, domain.FormatUSD(aum), price.StringFixed(6))
}

func (s *Service) valuationDate(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.Today()
	}
	return domain.DateOf(asOf)
}

func (s *Service) transition(logger *slog.Logger, out *RefreshOutcome, next State) {
	logger.Debug("valuation state", "from", out.State, "to", next)
	out.State = next
}

func (s *Service) fail(out RefreshOutcome, stage State) RefreshOutcome {
	out.Stage = stage
	out.State = StateFailed
	return out
}

func (s *Service) logFailure(ctx context.Context, fundID int64, detail string, cause error) {
	s.logFailureFrom(ctx, fundID, domain.LogSourceOctav, detail, cause)
}

// logFailureFrom appends an error log outside of any transaction. A failure to write it is
// only reported to the process log.
func (s *Service) logFailureFrom(ctx context.Context, fundID int64, source, detail string, cause error) {
	_, err := s.store.AppendLog(ctx, domain.OperationLog{
		FundID:    fundID,
		Timestamp: s.now().UTC(),
		Kind:      domain.KindError,
		Source:    source,
		Status:    domain.StatusError,
		Detail:    detail,
		Error:     cause.Error(),
	})
	if err != nil {
		slog.Error("failed to append operation log", "fund", fundID, "detail", detail, "error", err)
	}
}

// IsAUMCurrentForToday reports whether the fund already has a snapshot dated today.
func (s *Service) IsAUMCurrentForToday(ctx context.Context, fundID int64) (bool, error) {
	_, err := s.store.SnapshotByDate(ctx, fundID, s.Today())
	if errors.Is(err, ledger.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking today's snapshot: %w", err)
	}
	return true, nil
}

// LatestSnapshot returns the most recent AUM snapshot of the fund.
func (s *Service) LatestSnapshot(ctx context.Context, fundID int64) (domain.AumSnapshot, error) {
	return s.store.LatestSnapshot(ctx, fundID)
}

// ListSnapshots returns the fund's AUM history for the last days days, newest first.
// A non-positive days returns the whole history.
func (s *Service) ListSnapshots(ctx context.Context, fundID int64, days, limit int) ([]domain.AumSnapshot, error) {
	var since time.Time
	if days > 0 {
		since = s.Today().AddDate(0, 0, -days)
	}
	return s.store.ListSnapshots(ctx, fundID, since, limit)
}

// ListOperationLogs returns the fund's most recent operation logs.
func (s *Service) ListOperationLogs(ctx context.Context, fundID int64, limit int) ([]domain.OperationLog, error) {
	return s.store.ListLogs(ctx, fundID, limit)
}

// LatestOperationLog returns the fund's most recent operation log.
func (s *Service) LatestOperationLog(ctx context.Context, fundID int64) (domain.OperationLog, error) {
	return s.store.LatestLog(ctx, fundID)
}
