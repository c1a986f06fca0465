// Package automation decides when funds are due for an automatic AUM refresh and runs
// the refreshes that are due.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

// ErrInvalidInterval indicates a non-positive refresh interval.
var ErrInvalidInterval = errors.New("interval must be at least one hour")

// Decision is the gate's answer for one fund.
type Decision struct {
	Enabled bool `json:"enabled"`
	Due     bool `json:"due"`
}

// Gate reads per-fund automation settings.
type Gate struct {
	store           ledger.Store
	loc             *time.Location
	defaultInterval int
}

// NewGate creates a new automation gate. Timestamps stored without a zone are read in loc.
func NewGate(store ledger.Store, loc *time.Location, defaultIntervalHours int) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	if defaultIntervalHours <= 0 {
		defaultIntervalHours = domain.DefaultIntervalHours
	}
	return &Gate{store: store, loc: loc, defaultInterval: defaultIntervalHours}
}

// ShouldAutoRefresh reports whether automation is enabled for the fund and whether a refresh
// is due at now. A fund without settings gets enabled defaults and is due immediately.
// A missing or unreadable last-run timestamp also counts as due.
func (g *Gate) ShouldAutoRefresh(ctx context.Context, fundID int64, now time.Time) (Decision, error) {
	cfg, created, err := g.config(ctx, fundID)
	if err != nil {
		return Decision{}, err
	}
	if created {
		return Decision{Enabled: true, Due: true}, nil
	}
	if !cfg.Enabled {
		return Decision{}, nil
	}

	last, ok := ParseLastRun(cfg.LastRun, g.loc)
	if !ok {
		return Decision{Enabled: true, Due: true}, nil
	}
	return Decision{Enabled: true, Due: now.Sub(last) >= g.interval(cfg)}, nil
}

// Config returns the fund's automation settings, creating the defaults when missing.
func (g *Gate) Config(ctx context.Context, fundID int64) (domain.AutomationConfig, error) {
	cfg, _, err := g.config(ctx, fundID)
	return cfg, err
}

func (g *Gate) config(ctx context.Context, fundID int64) (domain.AutomationConfig, bool, error) {
	cfg, err := g.store.GetAutomationConfig(ctx, fundID)
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return domain.AutomationConfig{}, false, fmt.Errorf("loading automation config: %w", err)
	}
	cfg, created, err := g.store.EnsureAutomationConfig(ctx, domain.AutomationConfig{
		FundID:        fundID,
		Enabled:       true,
		IntervalHours: g.defaultInterval,
	})
	if err != nil {
		return domain.AutomationConfig{}, false, fmt.Errorf("creating automation config: %w", err)
	}
	return cfg, created, nil
}

// SetEnabled turns automatic refreshes on or off for the fund.
func (g *Gate) SetEnabled(ctx context.Context, fundID int64, enabled bool) error {
	if _, err := g.Config(ctx, fundID); err != nil {
		return err
	}
	if err := g.store.SetAutomationEnabled(ctx, fundID, enabled); err != nil {
		return fmt.Errorf("setting automation status: %w", err)
	}
	return nil
}

// SetInterval changes the minimum number of hours between automatic refreshes.
func (g *Gate) SetInterval(ctx context.Context, fundID int64, hours int) error {
	if hours <= 0 {
		return ErrInvalidInterval
	}
	if _, err := g.Config(ctx, fundID); err != nil {
		return err
	}
	if err := g.store.SetAutomationInterval(ctx, fundID, hours); err != nil {
		return fmt.Errorf("setting automation interval: %w", err)
	}
	return nil
}

// NextRun returns when the fund becomes due, or the zero time when automation is off.
// Funds without a readable last run are due now.
func (g *Gate) NextRun(cfg domain.AutomationConfig, now time.Time) time.Time {
	if !cfg.Enabled {
		return time.Time{}
	}
	last, ok := ParseLastRun(cfg.LastRun, g.loc)
	if !ok {
		return now
	}
	next := last.Add(g.interval(cfg))
	if next.Before(now) {
		return now
	}
	return next
}

func (g *Gate) interval(cfg domain.AutomationConfig) time.Duration {
	if cfg.IntervalHours <= 0 {
		return time.Duration(g.defaultInterval) * time.Hour
	}
	return cfg.Interval()
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseLastRun reads a stored last-run timestamp. Zoned values use RFC 3339; values without
// a zone are interpreted in loc.
func ParseLastRun(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
