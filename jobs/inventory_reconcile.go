package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// LedgerReconciler returns the products whose ledger disagrees with stock.
type LedgerReconciler interface {
	ReconcileAll(ctx context.Context) ([]inventory.Reconciliation, error)
}

// InventoryReconcileJob checks that every product's ledger balances.
type InventoryReconcileJob struct {
	Reconciler LedgerReconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewInventoryReconcileJob wires dependencies for the reconcile handler.
func NewInventoryReconcileJob(reconciler LedgerReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryReconcileJob {
	return &InventoryReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// ErrLedgerMismatch marks a reconciliation run that found unbalanced products.
var ErrLedgerMismatch = errors.New("jobs: inventory ledger mismatch")

// Handle processes TaskInventoryReconcile tasks. Mismatches fail the run
// without retry so they surface in the failure metrics.
func (j *InventoryReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload InventoryReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskInventoryReconcile)
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskInventoryReconcile))
	if !payload.ScheduledFor.IsZero() {
		logger = logger.With(slog.String("scheduled_for", payload.ScheduledFor.Format(time.RFC3339)))
	}

	mismatched, err := j.Reconciler.ReconcileAll(ctx)
	if err != nil {
		logger.Error("inventory reconcile", slog.Any("error", err))
		return tracker.End(err)
	}
	if len(mismatched) == 0 {
		logger.Info("inventory ledger balanced")
		return tracker.End(nil)
	}
	metrics.AddMismatches(len(mismatched))
	for _, rec := range mismatched {
		logger.Error("inventory ledger mismatch",
			slog.Int64("product_id", rec.ProductID),
			slog.Int64("ledger_total", rec.LedgerTotal),
			slog.Int64("on_hand_total", rec.OnHandTotal))
	}
	err = fmt.Errorf("%w: %d products: %w", ErrLedgerMismatch, len(mismatched), asynq.SkipRetry)
	return tracker.End(err)
}
