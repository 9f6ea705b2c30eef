package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
)

func TestWithTxDiscardsFailedWork(t *testing.T) {
	store := memstore.New()
	p := store.AddProduct(inventory.Product{SKU: "A", Active: true})
	w := store.AddWarehouse(inventory.Warehouse{Code: "W", MaxCapacity: 10, Active: true})
	boom := errors.New("boom")

	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		if _, err := tx.InsertRecord(ctx, inventory.Record{ProductID: p.ID, WarehouseID: w.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, ok := store.Record(p.ID, w.ID)
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	err = store.WithTx(ctx, func(ctx context.Context, tx inventory.Tx) error {
		_, err := tx.InsertRecord(ctx, inventory.Record{ProductID: p.ID, WarehouseID: w.ID})
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
	_, ok = store.Record(p.ID, w.ID)
	require.False(t, ok, "work finished after cancellation is not published")

	err = store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		_, err := tx.InsertRecord(ctx, inventory.Record{ProductID: p.ID, WarehouseID: w.ID})
		return err
	})
	require.NoError(t, err)
	_, ok = store.Record(p.ID, w.ID)
	require.True(t, ok)
}

func TestInsertRecordReturnsExistingPair(t *testing.T) {
	store := memstore.New()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		first, err := tx.InsertRecord(ctx, inventory.Record{ProductID: 1, WarehouseID: 2})
		require.NoError(t, err)
		second, err := tx.InsertRecord(ctx, inventory.Record{ProductID: 1, WarehouseID: 2})
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, store.Records(), 1)
}

func TestExpiredReservationIDsOrderAndLimit(t *testing.T) {
	store := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		for _, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour, 48 * time.Hour} {
			if _, err := tx.InsertReservation(ctx, inventory.Reservation{
				Status:    inventory.ReservationActive,
				Quantity:  1,
				ExpiresAt: base.Add(offset),
			}); err != nil {
				return err
			}
		}
		ids, err := tx.ListExpiredReservationIDs(ctx, base.Add(3*time.Hour), 2)
		require.NoError(t, err)
		require.Equal(t, []int64{2, 3}, ids)

		ok, err := tx.TransitionReservation(ctx, 2, inventory.ReservationExpired, base)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = tx.TransitionReservation(ctx, 2, inventory.ReservationReleased, base)
		require.NoError(t, err)
		require.False(t, ok)

		ids, err = tx.ListExpiredReservationIDs(ctx, base.Add(3*time.Hour), 10)
		require.NoError(t, err)
		require.Equal(t, []int64{3, 1}, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestListMovementsFiltersAndSums(t *testing.T) {
	store := memstore.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	from, to := int64(10), int64(20)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx inventory.Tx) error {
		movements := []inventory.Movement{
			{ProductID: 1, ToWarehouseID: &from, Type: inventory.MovementReceipt, Quantity: 9, CreatedAt: at},
			{ProductID: 1, FromWarehouseID: &from, ToWarehouseID: &to, Type: inventory.MovementTransfer, Quantity: 4, CreatedAt: at},
			{ProductID: 1, FromWarehouseID: &to, Type: inventory.MovementShipment, Quantity: -2, CreatedAt: at.Add(time.Minute)},
			{ProductID: 2, ToWarehouseID: &to, Type: inventory.MovementReceipt, Quantity: 5, CreatedAt: at},
		}
		for _, m := range movements {
			if _, err := tx.InsertMovement(ctx, m); err != nil {
				return err
			}
		}

		rows, err := tx.ListMovements(ctx, inventory.MovementFilter{WarehouseID: to, ProductID: 1})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, inventory.MovementShipment, rows[0].Type)

		rows, err = tx.ListMovements(ctx, inventory.MovementFilter{
			ProductID: 1,
			Cursor:    &inventory.MovementCursor{CreatedAt: at, ID: 2},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, int64(1), rows[0].ID)

		sum, err := tx.SumMovements(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, int64(7), sum)

		ids, err := tx.ProductsWithMovements(ctx)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2}, ids)
		return nil
	})
	require.NoError(t, err)
}
