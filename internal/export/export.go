// Package export publishes a fund's AUM history, operation log and performance summary.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/fund"
)

const defaultLogRows = 200

// Report is everything exported for one fund. Snapshots and Logs are newest first.
type Report struct {
	Fund        domain.Fund
	Snapshots   []domain.AumSnapshot
	Logs        []domain.OperationLog
	Performance *fund.Performance
	GeneratedAt time.Time
}

// Writer writes a report to a spreadsheet destination.
type Writer interface {
	Write(ctx context.Context, r Report) error
}

// Source reads the ledger data a report is built from.
type Source interface {
	GetFund(ctx context.Context, id int64) (domain.Fund, error)
	ListSnapshots(ctx context.Context, fundID int64, since time.Time, limit int) ([]domain.AumSnapshot, error)
	ListLogs(ctx context.Context, fundID int64, limit int) ([]domain.OperationLog, error)
}

// PerformanceSource computes fund performance.
type PerformanceSource interface {
	Performance(ctx context.Context, fundID int64) (fund.Performance, error)
}

// Service builds reports and delegates writing to a Writer.
type Service struct {
	source  Source
	perf    PerformanceSource
	writer  Writer
	logRows int
	now     func() time.Time
}

// NewService creates a new export Service. perf may be nil.
func NewService(source Source, perf PerformanceSource, writer Writer) *Service {
	return &Service{
		source:  source,
		perf:    perf,
		writer:  writer,
		logRows: defaultLogRows,
		now:     time.Now,
	}
}

// Build collects the report for a fund. A performance failure only drops the summary.
func (s *Service) Build(ctx context.Context, fundID int64) (Report, error) {
	f, err := s.source.GetFund(ctx, fundID)
	if err != nil {
		return Report{}, fmt.Errorf("loading fund: %w", err)
	}
	snaps, err := s.source.ListSnapshots(ctx, fundID, time.Time{}, 0)
	if err != nil {
		return Report{}, fmt.Errorf("listing snapshots: %w", err)
	}
	logs, err := s.source.ListLogs(ctx, fundID, s.logRows)
	if err != nil {
		return Report{}, fmt.Errorf("listing operation logs: %w", err)
	}

	r := Report{Fund: f, Snapshots: snaps, Logs: logs, GeneratedAt: s.now().UTC()}
	if s.perf != nil {
		perf, err := s.perf.Performance(ctx, fundID)
		if err != nil {
			slog.Warn("export: performance unavailable", "fund", fundID, "error", err)
		} else {
			r.Performance = &perf
		}
	}
	return r, nil
}

// Export builds the fund's report and writes it.
// Implements worker.AfterRefreshHook.
func (s *Service) Export(ctx context.Context, fundID int64) error {
	r, err := s.Build(ctx, fundID)
	if err != nil {
		return err
	}
	if err := s.writer.Write(ctx, r); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
