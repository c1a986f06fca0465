package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

const snapshotColumns = `fund_id, snapshot_date, total_aum, quota_price, expenses, source, updated_at`

func scanSnapshot(row pgx.Row) (domain.AumSnapshot, error) {
	var s domain.AumSnapshot
	err := row.Scan(&s.FundID, &s.Date, &s.TotalAUM, &s.QuotaPrice, &s.Expenses, &s.Source, &s.UpdatedAt)
	return s, err
}

func (s *PgStore) UpsertSnapshot(ctx context.Context, snap domain.AumSnapshot) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO aum_snapshots (fund_id, snapshot_date, total_aum, quota_price, expenses, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (fund_id, snapshot_date)
		 DO UPDATE SET total_aum = $3, quota_price = $4, expenses = $5, source = $6, updated_at = NOW()`,
		snap.FundID, domain.DateOf(snap.Date), snap.TotalAUM, snap.QuotaPrice, snap.Expenses, snap.Source)
	if err != nil {
		return wrapErr("saving snapshot", err)
	}
	return nil
}

func (s *PgStore) LatestSnapshot(ctx context.Context, fundID int64) (domain.AumSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM aum_snapshots
		 WHERE fund_id = $1
		 ORDER BY snapshot_date DESC
		 LIMIT 1`, fundID))
	if err != nil {
		return domain.AumSnapshot{}, wrapErr("getting latest snapshot", err)
	}
	return snap, nil
}

func (s *PgStore) SnapshotByDate(ctx context.Context, fundID int64, date time.Time) (domain.AumSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM aum_snapshots
		 WHERE fund_id = $1 AND snapshot_date = $2`, fundID, domain.DateOf(date)))
	if err != nil {
		return domain.AumSnapshot{}, wrapErr("getting snapshot by date", err)
	}
	return snap, nil
}

func (s *PgStore) ListSnapshots(ctx context.Context, fundID int64, since time.Time, limit int) ([]domain.AumSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM aum_snapshots WHERE fund_id = $1`
	args := []any{fundID}
	if !since.IsZero() {
		args = append(args, domain.DateOf(since))
		query += fmt.Sprintf(" AND snapshot_date >= $%d", len(args))
	}
	query += ` ORDER BY snapshot_date DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("listing snapshots", err)
	}
	defer rows.Close()

	var snapshots []domain.AumSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}

func (s *PgStore) AddExpense(ctx context.Context, e domain.Expense) (domain.Expense, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO expenses (fund_id, expense_date, description, amount, category)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, fund_id, expense_date, description, amount, category`,
		e.FundID, domain.DateOf(e.Date), e.Description, e.Amount, e.Category).
		Scan(&e.ID, &e.FundID, &e.Date, &e.Description, &e.Amount, &e.Category)
	if err != nil {
		return domain.Expense{}, wrapErr("adding expense", err)
	}
	return e, nil
}

func (s *PgStore) SumExpenses(ctx context.Context, fundID int64, upTo time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM expenses
		 WHERE fund_id = $1 AND expense_date <= $2`, fundID, domain.DateOf(upTo)).Scan(&total)
	if err != nil {
		return decimal.Zero, wrapErr("summing expenses", err)
	}
	return total, nil
}

func (s *PgStore) ListExpenses(ctx context.Context, fundID int64, limit int) ([]domain.Expense, error) {
	query := `SELECT id, fund_id, expense_date, description, amount, category FROM expenses
		 WHERE fund_id = $1
		 ORDER BY expense_date DESC, id DESC`
	args := []any{fundID}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("listing expenses", err)
	}
	defer rows.Close()

	var expenses []domain.Expense
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.FundID, &e.Date, &e.Description, &e.Amount, &e.Category); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expenses: %w", err)
	}
	return expenses, nil
}

func (s *PgStore) ExpensesByCategory(ctx context.Context, fundID int64) ([]domain.CategoryTotal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT category, SUM(amount) AS total FROM expenses
		 WHERE fund_id = $1
		 GROUP BY category
		 ORDER BY total DESC, category`, fundID)
	if err != nil {
		return nil, wrapErr("totalling expenses by category", err)
	}
	defer rows.Close()

	var totals []domain.CategoryTotal
	for rows.Next() {
		var t domain.CategoryTotal
		if err := rows.Scan(&t.Category, &t.Total); err != nil {
			return nil, fmt.Errorf("scanning category total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating category totals: %w", err)
	}
	return totals, nil
}

const automationColumns = `fund_id, enabled, last_run, interval_hours`

func scanAutomation(row pgx.Row) (domain.AutomationConfig, error) {
	var c domain.AutomationConfig
	err := row.Scan(&c.FundID, &c.Enabled, &c.LastRun, &c.IntervalHours)
	return c, err
}

func (s *PgStore) GetAutomationConfig(ctx context.Context, fundID int64) (domain.AutomationConfig, error) {
	cfg, err := scanAutomation(s.db.QueryRow(ctx,
		`SELECT `+automationColumns+` FROM automation_configs WHERE fund_id = $1`, fundID))
	if err != nil {
		return domain.AutomationConfig{}, wrapErr("getting automation config", err)
	}
	return cfg, nil
}

func (s *PgStore) EnsureAutomationConfig(ctx context.Context, cfg domain.AutomationConfig) (domain.AutomationConfig, bool, error) {
	created, err := scanAutomation(s.db.QueryRow(ctx,
		`INSERT INTO automation_configs (fund_id, enabled, last_run, interval_hours)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fund_id) DO NOTHING
		 RETURNING `+automationColumns,
		cfg.FundID, cfg.Enabled, cfg.LastRun, cfg.IntervalHours))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.AutomationConfig{}, false, wrapErr("ensuring automation config", err)
	}
	existing, err := s.GetAutomationConfig(ctx, cfg.FundID)
	if err != nil {
		return domain.AutomationConfig{}, false, err
	}
	return existing, false, nil
}

func (s *PgStore) SetAutomationEnabled(ctx context.Context, fundID int64, enabled bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE automation_configs SET enabled = $2 WHERE fund_id = $1`, fundID, enabled)
	if err != nil {
		return wrapErr("setting automation status", err)
	}
	return requireRow("setting automation status", tag)
}

func (s *PgStore) SetAutomationInterval(ctx context.Context, fundID int64, hours int) error {
	tag, err := s.db.Exec(ctx, `UPDATE automation_configs SET interval_hours = $2 WHERE fund_id = $1`, fundID, hours)
	if err != nil {
		return wrapErr("setting automation interval", err)
	}
	return requireRow("setting automation interval", tag)
}

func (s *PgStore) MarkAutomaticRun(ctx context.Context, fundID int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE automation_configs SET last_run = $2 WHERE fund_id = $1`,
		fundID, at.Format(RFC3339Micro))
	if err != nil {
		return wrapErr("marking automatic run", err)
	}
	return requireRow("marking automatic run", tag)
}

func (s *PgStore) GetValuationSource(ctx context.Context, fundID int64) (domain.ValuationSource, error) {
	var v domain.ValuationSource
	err := s.db.QueryRow(ctx,
		`SELECT fund_id, api_token, wallet_address FROM valuation_sources WHERE fund_id = $1`, fundID).
		Scan(&v.FundID, &v.APIToken, &v.WalletAddress)
	if err != nil {
		return domain.ValuationSource{}, wrapErr("getting valuation source", err)
	}
	return v, nil
}

func (s *PgStore) SetValuationSource(ctx context.Context, src domain.ValuationSource) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO valuation_sources (fund_id, api_token, wallet_address)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (fund_id) DO UPDATE SET api_token = $2, wallet_address = $3`,
		src.FundID, src.APIToken, src.WalletAddress)
	if err != nil {
		return wrapErr("saving valuation source", err)
	}
	return nil
}

const logColumns = `id, fund_id, logged_at, kind, source, value, status, detail, error`

func scanLog(row pgx.Row) (domain.OperationLog, error) {
	var (
		l     domain.OperationLog
		value decimal.NullDecimal
	)
	if err := row.Scan(&l.ID, &l.FundID, &l.Timestamp, &l.Kind, &l.Source, &value, &l.Status, &l.Detail, &l.Error); err != nil {
		return domain.OperationLog{}, err
	}
	if value.Valid {
		l.Value = &value.Decimal
	}
	return l, nil
}

func (s *PgStore) AppendLog(ctx context.Context, l domain.OperationLog) (domain.OperationLog, error) {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	created, err := scanLog(s.db.QueryRow(ctx,
		`INSERT INTO operation_logs (fund_id, logged_at, kind, source, value, status, detail, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+logColumns,
		l.FundID, l.Timestamp, l.Kind, l.Source, l.Value, l.Status, l.Detail, l.Error))
	if err != nil {
		return domain.OperationLog{}, wrapErr("appending operation log", err)
	}
	return created, nil
}

func (s *PgStore) ListLogs(ctx context.Context, fundID int64, limit int) ([]domain.OperationLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+logColumns+` FROM operation_logs
		 WHERE fund_id = $1
		 ORDER BY logged_at DESC, id DESC
		 LIMIT $2`, fundID, limit)
	if err != nil {
		return nil, wrapErr("listing operation logs", err)
	}
	defer rows.Close()

	var logs []domain.OperationLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operation log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation logs: %w", err)
	}
	return logs, nil
}

func (s *PgStore) LatestLog(ctx context.Context, fundID int64) (domain.OperationLog, error) {
	l, err := scanLog(s.db.QueryRow(ctx,
		`SELECT `+logColumns+` FROM operation_logs
		 WHERE fund_id = $1
		 ORDER BY logged_at DESC, id DESC
		 LIMIT 1`, fundID))
	if err != nil {
		return domain.OperationLog{}, wrapErr("getting latest operation log", err)
	}
	return l, nil
}
