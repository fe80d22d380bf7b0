package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campusdesk/helpdesk/internal/store"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/helpdesk", "postgres://u:p@localhost:5432/helpdesk"},
		{"postgresql+asyncpg://u:p@db/helpdesk", "postgresql://u:p@db/helpdesk"},
		{" postgres+pgx://u@db/helpdesk ", "postgres://u@db/helpdesk"},
	}
	for _, tt := range tests {
		if got := normalizeDSN(tt.in); got != tt.want {
			t.Errorf("normalizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapError(t *testing.T) {
	if err := mapError(nil); err != nil {
		t.Errorf("mapError(nil) = %v", err)
	}
	if err := mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("no rows mapped to %v, want ErrNotFound", err)
	}
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	if err := mapError(unique); !errors.Is(err, store.ErrConflict) {
		t.Errorf("unique violation mapped to %v, want ErrConflict", err)
	}
	other := errors.New("boom")
	if err := mapError(other); err != other {
		t.Errorf("unrelated error changed to %v", err)
	}
}
