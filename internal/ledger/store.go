// Package ledger persists funds, clients, movements, AUM snapshots, expenses, automation
// settings and the valuation audit trail.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation indicates a uniqueness, check or reference constraint failure.
	ErrConstraintViolation = errors.New("constraint violation")
)

// MovementFilter narrows movement queries. Zero values mean "any".
type MovementFilter struct {
	FundID   int64
	ClientID int64
	Limit    int
}

// FundRepository stores funds.
type FundRepository interface {
	CreateFund(ctx context.Context, f domain.Fund) (domain.Fund, error)
	GetFund(ctx context.Context, id int64) (domain.Fund, error)
	ListFunds(ctx context.Context, activeOnly bool) ([]domain.Fund, error)
	UpdateFund(ctx context.Context, f domain.Fund) error
	SetFundActive(ctx context.Context, id int64, active bool) error
}

// ClientRepository stores clients.
type ClientRepository interface {
	CreateClient(ctx context.Context, c domain.Client) (domain.Client, error)
	GetClient(ctx context.Context, id int64) (domain.Client, error)
	GetClientByEmail(ctx context.Context, email string) (domain.Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]domain.Client, error)
}

// MovementRepository stores immutable cash movements.
type MovementRepository interface {
	InsertMovement(ctx context.Context, m domain.Movement) (domain.Movement, error)
	GetMovement(ctx context.Context, id int64) (domain.Movement, error)
	// ListMovements returns movements ordered by effective date, then id.
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.Movement, error)
	// SumQuotas returns the signed sum of quota amounts matching the filter (Limit is ignored).
	SumQuotas(ctx context.Context, filter MovementFilter) (decimal.Decimal, error)
}

// SnapshotRepository stores one AUM snapshot per fund and date.
type SnapshotRepository interface {
	// UpsertSnapshot writes the snapshot, replacing any existing one for the same fund and date.
	UpsertSnapshot(ctx context.Context, s domain.AumSnapshot) error
	LatestSnapshot(ctx context.Context, fundID int64) (domain.AumSnapshot, error)
	SnapshotByDate(ctx context.Context, fundID int64, date time.Time) (domain.AumSnapshot, error)
	// ListSnapshots returns snapshots dated on or after since (zero = all), newest first.
	// A non-positive limit returns every match.
	ListSnapshots(ctx context.Context, fundID int64, since time.Time, limit int) ([]domain.AumSnapshot, error)
}

// ExpenseRepository stores append-only fund expenses.
type ExpenseRepository interface {
	AddExpense(ctx context.Context, e domain.Expense) (domain.Expense, error)
	// SumExpenses totals expenses dated on or before upTo.
	SumExpenses(ctx context.Context, fundID int64, upTo time.Time) (decimal.Decimal, error)
	ListExpenses(ctx context.Context, fundID int64, limit int) ([]domain.Expense, error)
	ExpensesByCategory(ctx context.Context, fundID int64) ([]domain.CategoryTotal, error)
}

// AutomationRepository stores per-fund automation settings.
type AutomationRepository interface {
	GetAutomationConfig(ctx context.Context, fundID int64) (domain.AutomationConfig, error)
	// EnsureAutomationConfig inserts cfg unless a config already exists for the fund.
	// It returns the stored config and whether it was created by this call.
	EnsureAutomationConfig(ctx context.Context, cfg domain.AutomationConfig) (domain.AutomationConfig, bool, error)
	SetAutomationEnabled(ctx context.Context, fundID int64, enabled bool) error
	SetAutomationInterval(ctx context.Context, fundID int64, hours int) error
	MarkAutomaticRun(ctx context.Context, fundID int64, at time.Time) error
}

// ValuationSourceRepository stores provider credentials per fund.
type ValuationSourceRepository interface {
	GetValuationSource(ctx context.Context, fundID int64) (domain.ValuationSource, error)
	SetValuationSource(ctx context.Context, src domain.ValuationSource) error
}

// OperationLogRepository stores the append-only valuation audit trail.
type OperationLogRepository interface {
	AppendLog(ctx context.Context, l domain.OperationLog) (domain.OperationLog, error)
	// ListLogs returns the most recent entries first. A non-positive limit defaults to 50.
	ListLogs(ctx context.Context, fundID int64, limit int) ([]domain.OperationLog, error)
	LatestLog(ctx context.Context, fundID int64) (domain.OperationLog, error)
}

// Store is the full ledger. WithTx runs fn against a transactional view of the store;
// every write made through tx is committed together or not at all.
type Store interface {
	FundRepository
	ClientRepository
	MovementRepository
	SnapshotRepository
	ExpenseRepository
	AutomationRepository
	ValuationSourceRepository
	OperationLogRepository

	WithTx(ctx context.Context, fn func(tx Store) error) error
}

const defaultLogLimit = 50

// RFC3339Micro is the layout used to persist automation run timestamps.
const RFC3339Micro = "2006-01-02T15:04:05.000000Z07:00"
