package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore implements Store with PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPgStore creates a new PostgreSQL ledger store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, db: pool}
}

// WithTx runs fn inside a database transaction. Calls on a store that is already
// transactional join the enclosing transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PgStore{db: tx})
	})
}

// wrapErr maps driver errors onto the package sentinels.
func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514", "23503", "23502":
			return fmt.Errorf("%s: %w: %s", op, ErrConstraintViolation, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(op string, tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

const fundColumns = `id, name, description, inception_date, initial_quota_price, active, created_at`

func scanFund(row pgx.Row) (domain.Fund, error) {
	var f domain.Fund
	err := row.Scan(&f.ID, &f.Name, &f.Description, &f.InceptionDate, &f.InitialQuotaPrice, &f.Active, &f.CreatedAt)
	return f, err
}

func (s *PgStore) CreateFund(ctx context.Context, f domain.Fund) (domain.Fund, error) {
	created, err := scanFund(s.db.QueryRow(ctx,
		`INSERT INTO funds (name, description, inception_date, initial_quota_price, active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+fundColumns,
		f.Name, f.Description, f.InceptionDate, f.InitialQuotaPrice, f.Active))
	if err != nil {
		return domain.Fund{}, wrapErr("creating fund", err)
	}
	return created, nil
}

func (s *PgStore) GetFund(ctx context.Context, id int64) (domain.Fund, error) {
	f, err := scanFund(s.db.QueryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = $1`, id))
	if err != nil {
		return domain.Fund{}, wrapErr(fmt.Sprintf("getting fund %d", id), err)
	}
	return f, nil
}

func (s *PgStore) ListFunds(ctx context.Context, activeOnly bool) ([]domain.Fund, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+fundColumns+` FROM funds
		 WHERE active OR NOT $1
		 ORDER BY id`, activeOnly)
	if err != nil {
		return nil, wrapErr("listing funds", err)
	}
	defer rows.Close()

	var funds []domain.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fund: %w", err)
		}
		funds = append(funds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating funds: %w", err)
	}
	return funds, nil
}

func (s *PgStore) UpdateFund(ctx context.Context, f domain.Fund) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE funds SET name = $2, description = $3, inception_date = $4, initial_quota_price = $5
		 WHERE id = $1`,
		f.ID, f.Name, f.Description, f.InceptionDate, f.InitialQuotaPrice)
	if err != nil {
		return wrapErr("updating fund", err)
	}
	return requireRow("updating fund", tag)
}

func (s *PgStore) SetFundActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE funds SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return wrapErr("setting fund status", err)
	}
	return requireRow("setting fund status", tag)
}

const clientColumns = `id, name, email, credential_hash, role, active, created_at`

func scanClient(row pgx.Row) (domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CredentialHash, &c.Role, &c.Active, &c.CreatedAt)
	return c, err
}

func (s *PgStore) CreateClient(ctx context.Context, c domain.Client) (domain.Client, error) {
	created, err := scanClient(s.db.QueryRow(ctx,
		`INSERT INTO clients (name, email, credential_hash, role, active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+clientColumns,
		c.Name, c.Email, c.CredentialHash, c.Role, c.Active))
	if err != nil {
		return domain.Client{}, wrapErr("creating client", err)
	}
	return created, nil
}

func (s *PgStore) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return domain.Client{}, wrapErr(fmt.Sprintf("getting client %d", id), err)
	}
	return c, nil
}

func (s *PgStore) GetClientByEmail(ctx context.Context, email string) (domain.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE email = $1`, email))
	if err != nil {
		return domain.Client{}, wrapErr("getting client by email", err)
	}
	return c, nil
}

func (s *PgStore) ListClients(ctx context.Context, activeOnly bool) ([]domain.Client, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+clientColumns+` FROM clients
		 WHERE active OR NOT $1
		 ORDER BY id`, activeOnly)
	if err != nil {
		return nil, wrapErr("listing clients", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clients: %w", err)
	}
	return clients, nil
}
