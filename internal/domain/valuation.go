package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuationSource holds the provider credentials used to value a fund's wallet.
type ValuationSource struct {
	FundID        int64  `json:"fundId"`
	APIToken      string `json:"-"`
	WalletAddress string `json:"walletAddress"`
}

// Configured reports whether both the token and the wallet are set.
func (v ValuationSource) Configured() bool {
	return v.APIToken != "" && v.WalletAddress != ""
}

// DefaultIntervalHours is the refresh interval given to newly materialized automation configs.
const DefaultIntervalHours = 24

// AutomationConfig controls automatic AUM refreshes for one fund.
// LastRun is kept as stored text: rows imported from older installations may hold
// empty or malformed timestamps, which the scheduler treats as "due".
type AutomationConfig struct {
	FundID        int64  `json:"fundId"`
	Enabled       bool   `json:"enabled"`
	LastRun       string `json:"lastRun"`
	IntervalHours int    `json:"intervalHours"`
}

// Interval returns the refresh interval as a duration.
func (c AutomationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// OperationKind classifies an operation log entry.
type OperationKind string

const (
	KindManualUpdate    OperationKind = "manual-update"
	KindAutomaticUpdate OperationKind = "automatic-update"
	KindError           OperationKind = "error"
)

// OperationStatus is the outcome recorded in an operation log entry.
type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusError   OperationStatus = "error"
)

// Data sources recorded in operation logs.
const (
	LogSourceOctav  = "octav"
	LogSourceManual = "manual"
)

// OperationLog is one append-only audit entry of a valuation event.
type OperationLog struct {
	ID        int64            `json:"id"`
	FundID    int64            `json:"fundId"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      OperationKind    `json:"kind"`
	Source    string           `json:"source"`
	Value     *decimal.Decimal `json:"value,omitempty"`
	Status    OperationStatus  `json:"status"`
	Detail    string           `json:"detail"`
	Error     string           `json:"error,omitempty"`
}
