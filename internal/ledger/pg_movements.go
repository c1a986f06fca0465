package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/quota/internal/domain"
)

const movementColumns = `id, fund_id, client_id, direction, cash_amount, quota_amount, quota_price,
	effective_date, note, reverses_id, created_at`

func scanMovement(row pgx.Row) (domain.Movement, error) {
	var m domain.Movement
	err := row.Scan(&m.ID, &m.FundID, &m.ClientID, &m.Direction, &m.CashAmount, &m.QuotaAmount,
		&m.QuotaPrice, &m.EffectiveDate, &m.Note, &m.ReversesID, &m.CreatedAt)
	return m, err
}

func (s *PgStore) InsertMovement(ctx context.Context, m domain.Movement) (domain.Movement, error) {
	created, err := scanMovement(s.db.QueryRow(ctx,
		`INSERT INTO movements (fund_id, client_id, direction, cash_amount, quota_amount, quota_price,
		                        effective_date, note, reverses_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+movementColumns,
		m.FundID, m.ClientID, m.Direction, m.CashAmount, m.QuotaAmount, m.QuotaPrice,
		m.EffectiveDate, m.Note, m.ReversesID))
	if err != nil {
		return domain.Movement{}, wrapErr("inserting movement", err)
	}
	return created, nil
}

func (s *PgStore) GetMovement(ctx context.Context, id int64) (domain.Movement, error) {
	m, err := scanMovement(s.db.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id = $1`, id))
	if err != nil {
		return domain.Movement{}, wrapErr(fmt.Sprintf("getting movement %d", id), err)
	}
	return m, nil
}

func movementWhere(filter MovementFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.FundID != 0 {
		args = append(args, filter.FundID)
		conds = append(conds, fmt.Sprintf("fund_id = $%d", len(args)))
	}
	if filter.ClientID != 0 {
		args = append(args, filter.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PgStore) ListMovements(ctx context.Context, filter MovementFilter) ([]domain.Movement, error) {
	where, args := movementWhere(filter)
	query := `SELECT ` + movementColumns + ` FROM movements` + where + ` ORDER BY effective_date, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("listing movements", err)
	}
	defer rows.Close()

	var movements []domain.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movements: %w", err)
	}
	return movements, nil
}

func (s *PgStore) SumQuotas(ctx context.Context, filter MovementFilter) (decimal.Decimal, error) {
	where, args := movementWhere(filter)
	var total decimal.Decimal
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(quota_amount), 0) FROM movements`+where, args...).Scan(&total)
	if err != nil {
		return decimal.Zero, wrapErr("summing quotas", err)
	}
	return total, nil
}
