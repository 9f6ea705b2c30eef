package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

type stubExpirer struct {
	asOf time.Time
	n    int
	err  error
}

func (s *stubExpirer) ExpireReservations(_ context.Context, now time.Time) (int, error) {
	s.asOf = now
	return s.n, s.err
}

type stubReconciler struct {
	out []inventory.Reconciliation
	err error
}

func (s stubReconciler) ReconcileAll(context.Context) ([]inventory.Reconciliation, error) {
	return s.out, s.err
}

func TestReservationExpiryJobUsesPayloadTime(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	expirer := &stubExpirer{n: 3}
	job := NewReservationExpiryJob(expirer, nil, metrics)
	asOf := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	task, err := NewReservationExpireTask(asOf)
	require.NoError(t, err)
	require.Equal(t, TaskReservationExpire, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, asOf.Equal(expirer.asOf))
}

func TestReservationExpiryJobDefaultsToNow(t *testing.T) {
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	expirer := &stubExpirer{}
	job := NewReservationExpiryJob(expirer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return now }

	task, err := NewReservationExpireTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, now.Equal(expirer.asOf))

	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskReservationExpire, []byte("{"))), asynq.SkipRetry)
}

func TestReservationExpiryJobReportsFailure(t *testing.T) {
	boom := errors.New("store down")
	job := NewReservationExpiryJob(&stubExpirer{n: 1, err: boom}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskReservationExpire, nil))
	require.ErrorIs(t, err, boom)
}

func TestInventoryReconcileJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	job := NewInventoryReconcileJob(stubReconciler{}, nil, metrics)
	task, err := NewInventoryReconcileTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	job = NewInventoryReconcileJob(stubReconciler{out: []inventory.Reconciliation{
		{ProductID: 4, LedgerTotal: 10, OnHandTotal: 9},
		{ProductID: 5, LedgerTotal: 0, OnHandTotal: 2},
	}}, nil, metrics)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerMismatch)
	require.ErrorIs(t, err, asynq.SkipRetry)

	families, err := registry.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() == "odyssey_inventory_ledger_mismatches_total" {
			values[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Equal(t, 2.0, values["odyssey_inventory_ledger_mismatches_total"])
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{"no inspector", nil, http.StatusOK, 0},
		{"queue info", stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, http.StatusOK, 4},
		{"redis down", stubInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := chi.NewRouter()
			router.Route("/jobs", NewHandler(tc.inspector, nil).MountRoutes)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Equal(t, QueueDefault, body.Queue)
			require.Equal(t, tc.pending, body.Pending)
		})
	}
}

func TestNewServeMuxSkipsIncompleteHandlers(t *testing.T) {
	called := false
	mux := NewServeMux([]TaskHandler{
		{Type: TaskReservationExpire, Handler: func(context.Context, *asynq.Task) error {
			called = true
			return nil
		}},
		{Type: TaskInventoryReconcile},
	})
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskReservationExpire, nil)))
	require.True(t, called)
	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskInventoryReconcile, nil)))
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewReservationExpireTask(time.Time{})
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "every tuesday", Task: task}},
	})
	require.ErrorContains(t, err, TaskReservationExpire)

	w, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "*/5 * * * *", Task: task}, {Spec: "", Task: task}},
	})
	require.NoError(t, err)
	require.NotNil(t, w.scheduler)
}

func TestWorkerRunRequiresServer(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
