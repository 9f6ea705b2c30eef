package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubTx struct{ Tx }

type stubStore struct {
	errs  []error
	calls int
}

func (s *stubStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.calls++
	if err := fn(ctx, stubTx{}); err != nil {
		return err
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func TestCoordinatorReusesOpenScope(t *testing.T) {
	store := &stubStore{}
	coord := NewCoordinator(store, nil, nil, 0)

	err := coord.Do(context.Background(), "outer", func(ctx context.Context, outer Tx) error {
		return coord.Do(ctx, "inner", func(ctx context.Context, inner Tx) error {
			require.Equal(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.calls)
}

func TestCoordinatorRetriesConflicts(t *testing.T) {
	store := &stubStore{errs: []error{ErrConcurrencyConflict, ErrConcurrencyConflict}}
	coord := NewCoordinator(store, nil, nil, 3)

	runs := 0
	err := coord.Do(context.Background(), "retry", func(context.Context, Tx) error {
		runs++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, runs)
}

func TestCoordinatorGivesUpAfterMaxAttempts(t *testing.T) {
	store := &stubStore{errs: []error{ErrConcurrencyConflict, ErrConcurrencyConflict, ErrConcurrencyConflict}}
	coord := NewCoordinator(store, nil, nil, 2)

	err := coord.Do(context.Background(), "retry", func(context.Context, Tx) error { return nil })
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.Equal(t, 2, store.calls)
}

func TestCoordinatorErrorClassification(t *testing.T) {
	boom := errors.New("connection reset")
	cases := []struct {
		name    string
		err     error
		wrapped bool
	}{
		{"domain", insufficient(1, 2, 3, 0), false},
		{"validation", validationf("bad"), false},
		{"cancelled", context.Canceled, false},
		{"infrastructure", boom, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &stubStore{}
			coord := NewCoordinator(store, nil, nil, 3)
			err := coord.Do(context.Background(), "op", func(context.Context, Tx) error { return tc.err })
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.wrapped, errors.Is(err, ErrTransactionFailed))
			require.Equal(t, 1, store.calls)
		})
	}
}

func TestCoordinatorStopsRetryingOnCancel(t *testing.T) {
	store := &stubStore{errs: []error{ErrConcurrencyConflict, ErrConcurrencyConflict}}
	coord := NewCoordinator(store, nil, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())

	err := coord.Do(ctx, "cancel", func(context.Context, Tx) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, store.calls)
}

func TestMetricsOutcome(t *testing.T) {
	require.Equal(t, "success", outcome(nil))
	require.Equal(t, "rejected", outcome(insufficient(1, 1, 1, 0)))
	require.Equal(t, "error", outcome(errors.New("x")))
	require.Equal(t, "error", outcome(ErrTransactionFailed))
}
