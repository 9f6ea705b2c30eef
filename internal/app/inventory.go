package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	"github.com/odyssey-erp/stockledger/internal/inventory/postgres"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Inventory bundles the engine with the connections it was built on.
type Inventory struct {
	Service *inventory.Service
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Checks  map[string]Pinger

	closers []func()
}

// Close releases the connections in reverse order of acquisition.
func (i *Inventory) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

// BuildInventory connects the configured store, the availability cache and
// the audit and idempotency backends, and returns the assembled service.
// Redis is optional: when it cannot be reached the cache is disabled.
func BuildInventory(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Inventory, error) {
	out := &Inventory{Checks: make(map[string]Pinger)}

	var (
		store inventory.Store
		audit inventory.AuditPort
		idem  inventory.IdempotencyPort
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		store = memstore.New()
		audit = &shared.MemoryAudit{}
		idem = shared.NewMemoryIdempotency()
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		out.Pool = pool
		out.closers = append(out.closers, pool.Close)
		out.Checks["postgres"] = pool.Ping
		pg := postgres.New(pool)
		if cfg.AutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				out.Close()
				return nil, err
			}
		}
		store = pg
		audit = shared.NewAuditLogger(pool)
		idem = shared.NewIdempotencyStore(pool)
	}

	var availability inventory.AvailabilityCache
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr, cache.Options{DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("availability cache disabled", slog.Any("error", err))
		} else {
			out.Redis = client
			out.closers = append(out.closers, func() {
				if err := client.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			})
			out.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
			availability = inventory.NewRedisCache(client, cfg.AvailabilityCacheTTL)
		}
	}

	out.Service = inventory.NewService(store, audit, idem, availability, inventory.ServiceConfig{
		ReservationTTL: cfg.ReservationTTL,
		MaxAttempts:    cfg.TxMaxAttempts,
		SweepBatch:     cfg.ExpirySweepBatch,
		Logger:         logger,
		Metrics:        inventory.NewMetrics(registerer),
	})
	logger.Info("inventory engine ready", slog.String("store", cfg.StoreDriver), slog.Bool("cache", availability != nil))
	return out, nil
}
