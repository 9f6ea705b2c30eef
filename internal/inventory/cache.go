package inventory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "inventory:avail"

// AvailabilityCache stores computed available quantities. Every Invalidate
// bumps the product's generation; Set only writes while the generation the
// caller read before computing qty is still current.
type AvailabilityCache interface {
	Get(ctx context.Context, productID int64, warehouseID *int64) (int64, bool, error)
	Generation(ctx context.Context, productID int64) (int64, error)
	Set(ctx context.Context, productID int64, warehouseID *int64, qty, gen int64) (bool, error)
	Invalidate(ctx context.Context, productID int64, warehouseIDs ...int64) error
}

// setIfGeneration writes KEYS[2] only when KEYS[1] still holds ARGV[1].
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[1])
if not gen then gen = "0" end
if gen ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// RedisCache keeps available quantities in Redis for a short TTL. A nil
// *RedisCache misses on every read.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the cache helper.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached quantity and whether it was present.
func (c *RedisCache) Get(ctx context.Context, productID int64, warehouseID *int64) (int64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	qty, err := c.client.Get(ctx, availabilityKey(productID, warehouseID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

// Generation returns the product's invalidation counter, zero when the
// product was never invalidated.
func (c *RedisCache) Generation(ctx context.Context, productID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, generationKey(productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set stores qty under the product and optional warehouse key unless the
// product was invalidated after gen was read. It reports whether qty was
// written.
func (c *RedisCache) Set(ctx context.Context, productID int64, warehouseID *int64, qty, gen int64) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	keys := []string{generationKey(productID), availabilityKey(productID, warehouseID)}
	written, err := setIfGeneration.Run(ctx, c.client, keys, gen, qty, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// Invalidate bumps the product generation and drops the product total and
// every listed warehouse entry in one MULTI.
func (c *RedisCache) Invalidate(ctx context.Context, productID int64, warehouseIDs ...int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	keys := make([]string, 0, len(warehouseIDs)+1)
	keys = append(keys, availabilityKey(productID, nil))
	for _, id := range warehouseIDs {
		keys = append(keys, availabilityKey(productID, &id))
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(productID))
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func availabilityKey(productID int64, warehouseID *int64) string {
	wh := "all"
	if warehouseID != nil {
		wh = strconv.FormatInt(*warehouseID, 10)
	}
	return strings.Join([]string{cacheKeyPrefix, strconv.FormatInt(productID, 10), wh}, ":")
}

func generationKey(productID int64) string {
	return cacheKeyPrefix + ":gen:" + strconv.FormatInt(productID, 10)
}
