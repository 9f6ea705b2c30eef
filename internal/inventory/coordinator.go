package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts = 3
	retryBackoff       = 15 * time.Millisecond
)

type txContextKey struct{}

// TxFromContext returns the transaction bound to ctx by Coordinator.Do.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(Tx)
	return tx, ok
}

// Coordinator runs units of work atomically. A scope that is already open on
// the context is reused instead of opening a nested one.
type Coordinator struct {
	store       Store
	logger      *slog.Logger
	metrics     *Metrics
	maxAttempts int
}

// NewCoordinator builds a Coordinator. maxAttempts below one falls back to 3.
func NewCoordinator(store Store, logger *slog.Logger, metrics *Metrics, maxAttempts int) *Coordinator {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger, metrics: metrics, maxAttempts: maxAttempts}
}

// Do executes fn inside a transaction. Conflicts are retried; domain errors
// are returned as-is; anything else is wrapped in ErrTransactionFailed.
func (c *Coordinator) Do(ctx context.Context, op string, fn func(context.Context, Tx) error) error {
	if c == nil || c.store == nil {
		return errors.New("inventory: coordinator not initialised")
	}
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return fn(context.WithValue(ctx, txContextKey{}, tx), tx)
		})
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			break
		}
		c.metrics.conflict(op)
		if attempt == c.maxAttempts {
			break
		}
		c.logger.Debug("inventory tx conflict, retrying", slog.String("op", op), slog.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	if err == nil {
		return nil
	}
	if IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransactionFailed, op, err)
}
