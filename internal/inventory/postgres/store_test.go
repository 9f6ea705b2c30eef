package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"serialization", &pgconn.PgError{Code: "40001"}, inventory.ErrConcurrencyConflict},
		{"deadlock", fmt.Errorf("lock: %w", &pgconn.PgError{Code: "40P01"}), inventory.ErrConcurrencyConflict},
		{"unique", &pgconn.PgError{Code: "23505"}, inventory.ErrDuplicateKey},
		{"domain passes through", inventory.ErrInsufficientStock, inventory.ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, mapError(tc.err), tc.want)
		})
	}
	require.NoError(t, mapError(nil))

	check := &pgconn.PgError{Code: "23514"}
	err := mapError(check)
	require.False(t, inventory.IsDomainError(err))
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
}

func TestNotFound(t *testing.T) {
	require.ErrorIs(t, notFound(pgx.ErrNoRows), inventory.ErrNotFound)
	other := errors.New("boom")
	require.Equal(t, other, notFound(other))
}

func TestSchemaIsEmbedded(t *testing.T) {
	require.Contains(t, schema, "CREATE TABLE IF NOT EXISTS stock_movements")
	require.Contains(t, schema, "inventory_records")
}
