package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReservationExpirer expires due reservations.
type ReservationExpirer interface {
	ExpireReservations(ctx context.Context, now time.Time) (int, error)
}

// ReservationExpiryJob hands due reservations back to available stock.
type ReservationExpiryJob struct {
	Expirer ReservationExpirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
	clock   func() time.Time
}

// NewReservationExpiryJob wires dependencies for the expiry handler.
func NewReservationExpiryJob(expirer ReservationExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationExpiryJob {
	return &ReservationExpiryJob{
		Expirer: expirer,
		Logger:  logger,
		Metrics: metrics,
		Timeout: 2 * time.Minute,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskReservationExpire tasks.
func (j *ReservationExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Expirer == nil {
		return errors.New("reservation expiry: handler not configured")
	}
	var payload ReservationExpirePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	tracker := j.metrics().Track(TaskReservationExpire)
	logger := j.logger().With(slog.Time("as_of", asOf))

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	n, err := j.Expirer.ExpireReservations(ctx, asOf)
	j.metrics().AddProcessed(TaskReservationExpire, n)
	if err != nil {
		logger.Error("reservation expiry sweep", slog.Int("expired", n), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("reservation expiry sweep", slog.Int("expired", n))
	return tracker.End(nil)
}

func (j *ReservationExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationExpire))
	}
	return slog.Default().With(slog.String("job", TaskReservationExpire))
}

func (j *ReservationExpiryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReservationExpiryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
