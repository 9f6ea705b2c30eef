package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationExpire sweeps Active reservations past their expiry.
	TaskReservationExpire = "inventory:reservation_expire"
	// TaskInventoryReconcile compares the ledger with on-hand stock.
	TaskInventoryReconcile = "inventory:reconcile"
)

// ReservationExpirePayload pins the sweep to a point in time. A zero AsOf
// means the moment the task runs.
type ReservationExpirePayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewReservationExpireTask builds the expiry sweep task. Sweeps are not
// retried; the next scheduled run picks up what this one missed.
func NewReservationExpireTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationExpirePayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationExpire, body, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}

// InventoryReconcilePayload carries scheduling metadata.
type InventoryReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewInventoryReconcileTask builds the reconciliation task.
func NewInventoryReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(InventoryReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}
