// Package postgres persists inventory data in PostgreSQL. Every unit of work
// runs at RepeatableRead; rows that are read for mutation are taken with
// SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

//go:embed schema.sql
var schema string

// Store implements inventory.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("inventory/postgres: ensure schema: %w", err)
	}
	return nil
}

// WithTx executes fn inside a repeatable-read transaction and translates
// server errors into the inventory taxonomy.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.Tx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return mapError(err)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsRetryable(err) {
		return fmt.Errorf("%w: %w", inventory.ErrConcurrencyConflict, err)
	}
	if db.SQLState(err) == db.CodeUniqueViolation {
		return fmt.Errorf("%w: %w", inventory.ErrDuplicateKey, err)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ErrNotFound
	}
	return err
}
