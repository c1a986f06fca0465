package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMovementWhere(t *testing.T) {
	tests := []struct {
		name      string
		filter    MovementFilter
		wantWhere string
		wantArgs  int
	}{
		{"empty", MovementFilter{}, "", 0},
		{"fund only", MovementFilter{FundID: 1}, " WHERE fund_id = $1", 1},
		{"client only", MovementFilter{ClientID: 7}, " WHERE client_id = $1", 1},
		{"both", MovementFilter{FundID: 1, ClientID: 7}, " WHERE fund_id = $1 AND client_id = $2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := movementWhere(tt.filter)
			if where != tt.wantWhere {
				t.Errorf("where = %q, want %q", where, tt.wantWhere)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestWrapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, ErrConstraintViolation},
		{"check", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23514"}), ErrConstraintViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wrapErr("op", tt.err); !errors.Is(got, tt.want) {
				t.Errorf("wrapErr() = %v, want %v", got, tt.want)
			}
		})
	}

	other := errors.New("connection reset")
	got := wrapErr("op", other)
	if !errors.Is(got, other) || errors.Is(got, ErrNotFound) || errors.Is(got, ErrConstraintViolation) {
		t.Errorf("wrapErr(other) = %v", got)
	}
}
