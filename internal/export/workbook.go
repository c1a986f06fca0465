package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	historySheet = "AUM History"
	logSheet     = "Operations"
)

// WorkbookWriter implements Writer by rendering the report as an xlsx workbook.
type WorkbookWriter struct {
	out io.Writer
}

// NewWorkbookWriter creates a WorkbookWriter that writes the workbook to out.
func NewWorkbookWriter(out io.Writer) *WorkbookWriter {
	return &WorkbookWriter{out: out}
}

func (w *WorkbookWriter) Write(_ context.Context, r Report) error {
	f, err := BuildWorkbook(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w.out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// BuildWorkbook renders the summary, AUM history and operation log sheets.
func BuildWorkbook(r Report) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("renaming default sheet: %w", err)
	}
	for _, name := range []string{historySheet, logSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	tables := []struct {
		sheet  string
		rows   [][]any
		header bool
	}{
		{summarySheet, buildSummaryRows(r), false},
		{historySheet, buildHistoryRows(r.Snapshots), true},
		{logSheet, buildLogRows(r.Logs), true},
	}
	for _, t := range tables {
		if err := writeRows(f, t.sheet, t.rows); err != nil {
			f.Close()
			return nil, err
		}
		if t.header && len(t.rows) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(t.rows[0]), 1)
			if err := f.SetCellStyle(t.sheet, "A1", last, bold); err != nil {
				f.Close()
				return nil, fmt.Errorf("styling %s header: %w", t.sheet, err)
			}
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 24); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing summary column: %w", err)
	}

	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
