package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/postgres"
)

const dsnEnv = "STOCKLEDGER_TEST_PG_DSN"

// newPool connects to the database named by STOCKLEDGER_TEST_PG_DSN inside a
// throwaway schema that is dropped when the test ends.
func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx := context.Background()
	schema := fmt.Sprintf("stockledger_it_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedID(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int64 {
	t.Helper()
	var id int64
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&id))
	return id
}

func TestPostgresStoreEndToEnd(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	store := postgres.New(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	productID := seedID(t, pool, `INSERT INTO products (sku, name, unit_cost) VALUES ('SKU-PG', 'Postgres product', 2.5) RETURNING id`)
	mainID := seedID(t, pool, `INSERT INTO warehouses (code, name, type, max_capacity) VALUES ('PG-MAIN', 'Main', 'Main', 100) RETURNING id`)
	regionalID := seedID(t, pool, `INSERT INTO warehouses (code, name, type, max_capacity) VALUES ('PG-REG', 'Regional', 'Regional', 100) RETURNING id`)

	svc := inventory.NewService(store, nil, nil, nil, inventory.ServiceConfig{
		ReservationTTL: time.Hour,
		MaxAttempts:    20,
	})
	receive := func(warehouseID, qty int64) error {
		_, err := svc.AdjustInventory(ctx, inventory.AdjustmentInput{
			ProductID: productID, WarehouseID: warehouseID, Quantity: qty,
			Type: inventory.MovementReceipt, Reason: "seed", UserID: "pg",
		})
		return err
	}

	require.NoError(t, receive(mainID, 6))
	require.NoError(t, receive(mainID, 4))

	t.Run("concurrent receipts share one record", func(t *testing.T) {
		var g errgroup.Group
		for range 4 {
			g.Go(func() error { return receive(regionalID, 5) })
		}
		require.NoError(t, g.Wait())
		qty, err := svc.GetAvailableQuantity(ctx, productID, &regionalID)
		require.NoError(t, err)
		require.Equal(t, int64(20), qty)
	})

	t.Run("row locks serialize reservations", func(t *testing.T) {
		results := make([]error, 5)
		var g errgroup.Group
		for i := range results {
			g.Go(func() error {
				_, results[i] = svc.ReserveStock(ctx, inventory.ReserveInput{
					OrderID: int64(9000 + i),
					Items:   []inventory.OrderItem{{ProductID: productID, Quantity: 7}},
					UserID:  "pg",
				})
				return nil
			})
		}
		require.NoError(t, g.Wait())
		var ok int
		for _, err := range results {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}
		// Each order is held in one warehouse: one fits in Main's 10, two in the regional 20.
		require.Equal(t, 3, ok)

		total, err := svc.GetAvailableQuantity(ctx, productID, nil)
		require.NoError(t, err)
		require.Equal(t, int64(9), total)
	})

	t.Run("movement pages walk the keyset cursor", func(t *testing.T) {
		all, err := svc.ListMovements(ctx, inventory.MovementFilter{ProductID: productID, Limit: 100})
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all.Movements), 6)

		var (
			seen   []int64
			cursor *inventory.MovementCursor
		)
		for {
			page, err := svc.ListMovements(ctx, inventory.MovementFilter{ProductID: productID, Limit: 2, Cursor: cursor})
			require.NoError(t, err)
			for _, m := range page.Movements {
				seen = append(seen, m.ID)
			}
			if page.NextCursor == nil {
				break
			}
			cursor = page.NextCursor
		}
		want := make([]int64, 0, len(all.Movements))
		for _, m := range all.Movements {
			want = append(want, m.ID)
		}
		require.Equal(t, want, seen)
	})

	t.Run("ledger reconciles", func(t *testing.T) {
		rec, err := svc.Reconcile(ctx, productID)
		require.NoError(t, err)
		require.True(t, rec.Balanced(), "ledger %d on hand %d", rec.LedgerTotal, rec.OnHandTotal)
		require.Equal(t, int64(30), rec.OnHandTotal)
	})
}
