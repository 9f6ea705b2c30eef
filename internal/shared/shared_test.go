package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryAuditRequiresFields(t *testing.T) {
	audit := &MemoryAudit{}
	ctx := context.Background()

	require.Error(t, audit.Record(ctx, AuditLog{Action: "inventory:reserve", Entity: "order", EntityID: "1"}))
	require.Error(t, audit.Record(ctx, AuditLog{Actor: "user-1", Entity: "order", EntityID: "1"}))
	require.NoError(t, audit.Record(ctx, AuditLog{Actor: "user-1", Action: "inventory:reserve", Entity: "order", EntityID: "1"}))

	logs := audit.Logs()
	require.Len(t, logs, 1)
	logs[0].Actor = "mutated"
	require.Equal(t, "user-1", audit.Logs()[0].Actor)
}

func TestMemoryIdempotency(t *testing.T) {
	idem := NewMemoryIdempotency()
	ctx := context.Background()

	require.NoError(t, idem.CheckAndInsert(ctx, "adj-1", "inventory"))
	require.ErrorIs(t, idem.CheckAndInsert(ctx, "adj-1", "inventory"), ErrIdempotencyConflict)
	require.NoError(t, idem.CheckAndInsert(ctx, "adj-1", "transfers"))

	require.NoError(t, idem.Delete(ctx, "adj-1"))
	require.NoError(t, idem.CheckAndInsert(ctx, "adj-1", "inventory"))

	require.Error(t, idem.CheckAndInsert(ctx, "", "inventory"))
	require.Error(t, idem.CheckAndInsert(ctx, "adj-2", ""))
}

func TestStoresRequirePool(t *testing.T) {
	ctx := context.Background()
	require.Error(t, NewAuditLogger(nil).Record(ctx, AuditLog{Actor: "a", Action: "b", Entity: "c", EntityID: "d"}))
	require.Error(t, NewIdempotencyStore(nil).CheckAndInsert(ctx, "k", "m"))
}
