package export

import (
	"context"
	"fmt"

	sheets "google.golang.org/api/sheets/v4"
)

// AppendMonitoring ensures the fund's MONITORING sheet exists, writes the header row if the
// sheet is empty, then appends the latest valuation.
func (w *SheetsWriter) AppendMonitoring(ctx context.Context, r Report) error {
	row := buildMonitoringRow(r)
	if row == nil {
		return nil
	}

	title := sheetTitle(r.Fund.ID, "MONITORING")
	meta, err := w.ensureSheets(ctx, title)
	if err != nil {
		return fmt.Errorf("ensuring %s sheet: %w", title, err)
	}

	existing, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, title+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading %s header: %w", title, err)
	}

	if len(existing.Values) == 0 {
		_, err = w.svc.Spreadsheets.Values.Update(
			w.spreadsheetID,
			title+"!A1",
			&sheets.ValueRange{Values: [][]any{monitoringHeader}},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("writing %s header: %w", title, err)
		}
		if err := w.freezeHeaders(ctx, meta[title]); err != nil {
			return fmt.Errorf("formatting %s sheet: %w", title, err)
		}
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		title+"!A:H",
		&sheets.ValueRange{Values: [][]any{row}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending %s row: %w", title, err)
	}

	return nil
}
