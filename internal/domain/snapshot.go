package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotSource tags where an AUM figure came from.
type SnapshotSource string

const (
	SourceManual      SnapshotSource = "manual"
	SourceExternalAPI SnapshotSource = "external-api"
)

// AumSnapshot is the dated AUM and quota price of a fund. There is at most one per fund and date.
type AumSnapshot struct {
	FundID     int64           `json:"fundId"`
	Date       time.Time       `json:"date"`
	TotalAUM   decimal.Decimal `json:"totalAum"`
	QuotaPrice decimal.Decimal `json:"quotaPrice"`
	Expenses   decimal.Decimal `json:"expenses"`
	Source     SnapshotSource  `json:"source"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Expense is an append-only cost charged to a fund. It lowers the net AUM of every valuation
// performed on or after its date.
type Expense struct {
	ID          int64           `json:"id"`
	FundID      int64           `json:"fundId"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// DefaultExpenseCategory is used when an expense is recorded without a category.
const DefaultExpenseCategory = "Geral"

// CategoryTotal is the sum of expenses for one category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}
