package inventory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, client := newRedis(t)
	cache := inventory.NewRedisCache(client, time.Minute)
	ctx := context.Background()
	wh := int64(3)

	_, ok, err := cache.Get(ctx, 7, &wh)
	require.NoError(t, err)
	require.False(t, ok)

	written, err := cache.Set(ctx, 7, &wh, 12, 0)
	require.NoError(t, err)
	require.True(t, written)
	_, err = cache.Set(ctx, 7, nil, 40, 0)
	require.NoError(t, err)
	require.True(t, mr.Exists("inventory:avail:7:3"))
	require.True(t, mr.Exists("inventory:avail:7:all"))

	qty, ok, err := cache.Get(ctx, 7, &wh)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(12), qty)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, 7, &wh)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = cache.Set(ctx, 7, &wh, 12, 0)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 7, wh))
	require.False(t, mr.Exists("inventory:avail:7:3"))
	require.False(t, mr.Exists("inventory:avail:7:all"))
}

func TestRedisCacheSkipsWritesFromBeforeInvalidate(t *testing.T) {
	mr, client := newRedis(t)
	cache := inventory.NewRedisCache(client, time.Minute)
	ctx := context.Background()
	wh := int64(3)

	stale, err := cache.Generation(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, stale)

	require.NoError(t, cache.Invalidate(ctx, 7, wh))
	current, err := cache.Generation(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), current)

	written, err := cache.Set(ctx, 7, &wh, 12, stale)
	require.NoError(t, err)
	require.False(t, written)
	require.False(t, mr.Exists("inventory:avail:7:3"))

	written, err = cache.Set(ctx, 7, &wh, 9, current)
	require.NoError(t, err)
	require.True(t, written)
	qty, ok, err := cache.Get(ctx, 7, &wh)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), qty)

	other, err := cache.Generation(ctx, 8)
	require.NoError(t, err)
	require.Zero(t, other)
}

func TestNilRedisCacheMisses(t *testing.T) {
	var cache *inventory.RedisCache
	_, ok, err := cache.Get(context.Background(), 1, nil)
	require.NoError(t, err)
	require.False(t, ok)
	written, err := cache.Set(context.Background(), 1, nil, 5, 0)
	require.NoError(t, err)
	require.False(t, written)
	gen, err := cache.Generation(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, gen)
	require.NoError(t, cache.Invalidate(context.Background(), 1, 2))
}

func TestServiceAvailabilityCacheIsInvalidated(t *testing.T) {
	mr, client := newRedis(t)
	store := memstore.New()
	svc := inventory.NewService(store, nil, shared.NewMemoryIdempotency(), inventory.NewRedisCache(client, time.Minute), inventory.ServiceConfig{})
	ctx := context.Background()
	product := store.AddProduct(inventory.Product{SKU: "C-1", Active: true})
	wh := store.AddWarehouse(inventory.Warehouse{Code: "MAIN", Type: inventory.WarehouseMain, MaxCapacity: 100, Active: true})

	_, err := svc.AdjustInventory(ctx, inventory.AdjustmentInput{
		ProductID: product.ID, WarehouseID: wh.ID, Quantity: 10, Type: inventory.MovementReceipt, UserID: actor,
	})
	require.NoError(t, err)

	qty, err := svc.GetAvailableQuantity(ctx, product.ID, &wh.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), qty)
	require.True(t, mr.Exists("inventory:avail:1:2"))

	_, err = svc.ReserveStock(ctx, inventory.ReserveInput{
		OrderID: 55,
		Items:   []inventory.OrderItem{{ProductID: product.ID, Quantity: 4}},
		UserID:  actor,
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("inventory:avail:1:2"))

	qty, err = svc.GetAvailableQuantity(ctx, product.ID, &wh.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), qty)

	total, err := svc.GetAvailableQuantity(ctx, product.ID, nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), total)
}

// afterCommitStore runs a one-shot hook right after the next successful
// transaction commits.
type afterCommitStore struct {
	inventory.Store
	hook atomic.Pointer[func()]
}

func (s *afterCommitStore) WithTx(ctx context.Context, fn func(context.Context, inventory.Tx) error) error {
	err := s.Store.WithTx(ctx, fn)
	if hook := s.hook.Swap(nil); hook != nil && err == nil {
		(*hook)()
	}
	return err
}

func TestServiceAvailabilityCacheIgnoresReadRacingAMutation(t *testing.T) {
	mr, client := newRedis(t)
	mem := memstore.New()
	store := &afterCommitStore{Store: mem}
	svc := inventory.NewService(store, nil, shared.NewMemoryIdempotency(), inventory.NewRedisCache(client, time.Minute), inventory.ServiceConfig{})
	ctx := context.Background()
	product := mem.AddProduct(inventory.Product{SKU: "C-2", Active: true})
	wh := mem.AddWarehouse(inventory.Warehouse{Code: "MAIN", Type: inventory.WarehouseMain, MaxCapacity: 100, Active: true})

	_, err := svc.AdjustInventory(ctx, inventory.AdjustmentInput{
		ProductID: product.ID, WarehouseID: wh.ID, Quantity: 10, Type: inventory.MovementReceipt, UserID: actor,
	})
	require.NoError(t, err)

	// The reservation commits between the availability read and the cache write.
	var reserveErr error
	reserve := func() {
		_, reserveErr = svc.ReserveStock(ctx, inventory.ReserveInput{
			OrderID: 56,
			Items:   []inventory.OrderItem{{ProductID: product.ID, Quantity: 10}},
			UserID:  actor,
		})
	}
	store.hook.Store(&reserve)

	first, err := svc.GetAvailableQuantity(ctx, product.ID, &wh.ID)
	require.NoError(t, err)
	require.NoError(t, reserveErr)
	require.Equal(t, int64(10), first)
	require.False(t, mr.Exists("inventory:avail:1:2"))

	second, err := svc.GetAvailableQuantity(ctx, product.ID, &wh.ID)
	require.NoError(t, err)
	require.Zero(t, second)
	require.True(t, mr.Exists("inventory:avail:1:2"))
}
