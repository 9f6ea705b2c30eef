package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards reference numbers against double posting.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	ReservationTTL time.Duration
	MaxAttempts    int
	SweepBatch     int
	Now            func() time.Time
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Service exposes the inventory operations. Every mutation runs in one
// Coordinator scope; audit records and cache invalidation follow commit.
type Service struct {
	coord        *Coordinator
	records      *Records
	ledger       *Ledger
	reservations *Reservations
	transfers    *Transfers
	audit        AuditPort
	idempotency  IdempotencyPort
	cache        AvailabilityCache
	flight       singleflight.Group
	sweepBatch   int
	now          func() time.Time
	logger       *slog.Logger
	metrics      *Metrics
}

// NewService wires the engine components around store. audit, idem and
// cache may be nil.
func NewService(store Store, audit AuditPort, idem IdempotencyPort, cache AvailabilityCache, cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cache == nil {
		cache = (*RedisCache)(nil)
	}
	s := &Service{
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		sweepBatch:  cfg.SweepBatch,
		now:         cfg.Now,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	s.coord = NewCoordinator(store, cfg.Logger, cfg.Metrics, cfg.MaxAttempts)
	s.records = NewRecords(cfg.Now)
	s.ledger = NewLedger(s.coord, cfg.Now)
	s.reservations = NewReservations(ReservationsConfig{
		Coordinator: s.coord,
		Records:     s.records,
		Ledger:      s.ledger,
		TTL:         cfg.ReservationTTL,
		Now:         cfg.Now,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		Notify: func(ctx context.Context, res Reservation) {
			s.invalidate(ctx, res.ProductID, res.WarehouseID)
		},
	})
	s.transfers = NewTransfers(s.coord, s.records, s.ledger, cfg.Now, cfg.Logger, cfg.Metrics)
	return s
}

// Coordinator exposes the transaction coordinator so callers can compose
// several operations in one scope.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// ReserveStock reserves every item of an order in one transaction.
func (s *Service) ReserveStock(ctx context.Context, in ReserveInput) ([]Reservation, error) {
	out, err := s.reservations.Reserve(ctx, in)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]any, len(out))
	for _, res := range out {
		meta[strconv.FormatInt(res.ProductID, 10)] = map[string]any{"warehouse_id": res.WarehouseID, "qty": res.Quantity}
	}
	s.record(ctx, in.UserID, "inventory:reserve", "order", in.OrderID, meta)
	return out, nil
}

// ReleaseReservation releases the Active reservations of an order.
func (s *Service) ReleaseReservation(ctx context.Context, orderID int64, userID string) (int, error) {
	n, err := s.reservations.Release(ctx, orderID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.record(ctx, userID, "inventory:release", "order", orderID, map[string]any{"count": n})
	}
	return n, nil
}

// FulfillOrder ships the reserved stock of an order.
func (s *Service) FulfillOrder(ctx context.Context, orderID int64, userID string) (int, error) {
	n, err := s.reservations.Fulfill(ctx, orderID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.record(ctx, userID, "inventory:fulfil", "order", orderID, map[string]any{"count": n})
	}
	return n, nil
}

// ExpireReservations expires every Active reservation due at now.
func (s *Service) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = s.now()
	}
	n, err := s.reservations.ExpireSweep(ctx, now, s.sweepBatch)
	if n > 0 {
		s.logger.Info("inventory reservations expired", slog.Int("count", n))
	}
	return n, err
}

// AdjustInventory applies a signed quantity change at one warehouse and
// writes the matching movement. Receipt and Return must be positive,
// Shipment negative; Adjustment accepts either sign.
func (s *Service) AdjustInventory(ctx context.Context, in AdjustmentInput) (Movement, error) {
	if in.ProductID <= 0 || in.WarehouseID <= 0 {
		return Movement{}, validationf("warehouse and product required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Movement{}, validationf("user id required")
	}
	if in.Type == "" {
		in.Type = MovementAdjustment
	}
	if err := checkAdjustment(in); err != nil {
		return Movement{}, err
	}

	key := ""
	if ref := strings.TrimSpace(in.ReferenceNumber); ref != "" && s.idempotency != nil {
		key = fmt.Sprintf("%s:%s:%d:%d", in.Type, ref, in.WarehouseID, in.ProductID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Movement{}, fmt.Errorf("%w: reference %s", ErrDuplicateKey, ref)
			}
			return Movement{}, err
		}
	}

	var out Movement
	err := s.coord.Do(ctx, "adjust", func(ctx context.Context, tx Tx) error {
		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("product", in.ProductID)
			}
			return err
		}
		if product.Deleted {
			return notFound("product", in.ProductID)
		}
		if _, err := s.records.ApplyDelta(ctx, tx, in.ProductID, in.WarehouseID, in.Quantity, 0); err != nil {
			return err
		}
		cost := product.UnitCost
		if in.UnitCost != nil {
			cost = *in.UnitCost
		}
		m := Movement{
			ProductID:       in.ProductID,
			Type:            in.Type,
			Quantity:        in.Quantity,
			ReferenceNumber: in.ReferenceNumber,
			Reason:          in.Reason,
			CreatedBy:       in.UserID,
			UnitCost:        cost,
		}
		wh := in.WarehouseID
		if in.Quantity < 0 {
			m.FromWarehouseID = &wh
		} else {
			m.ToWarehouseID = &wh
		}
		out, err = s.ledger.Append(ctx, tx, m)
		return err
	})
	s.metrics.observe("adjust", err)
	if err != nil {
		if key != "" {
			if derr := s.idempotency.Delete(ctx, key); derr != nil {
				s.logger.Warn("inventory idempotency rollback", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return Movement{}, err
	}
	s.metrics.addUnits(string(in.Type), in.Quantity)
	s.invalidate(ctx, in.ProductID, in.WarehouseID)
	s.record(ctx, in.UserID, fmt.Sprintf("inventory:%s", strings.ToLower(string(in.Type))), "inventory_movement", out.ID, map[string]any{
		"warehouse_id": in.WarehouseID,
		"product_id":   in.ProductID,
		"qty":          in.Quantity,
		"reference":    out.ReferenceNumber,
		"reason":       in.Reason,
	})
	s.logger.Info("inventory adjusted",
		slog.Int64("product_id", in.ProductID),
		slog.Int64("warehouse_id", in.WarehouseID),
		slog.String("type", string(in.Type)),
		slog.Int64("qty", in.Quantity),
		slog.String("user_id", in.UserID))
	return out, nil
}

func checkAdjustment(in AdjustmentInput) error {
	if in.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return validationf("unit cost must be >= 0")
	}
	switch in.Type {
	case MovementReceipt, MovementReturn:
		if in.Quantity < 0 {
			return fmt.Errorf("%w: %s requires a positive quantity", ErrInvalidQuantity, in.Type)
		}
	case MovementShipment:
		if in.Quantity > 0 {
			return fmt.Errorf("%w: %s requires a negative quantity", ErrInvalidQuantity, in.Type)
		}
	case MovementAdjustment:
	case MovementTransfer:
		return validationf("transfers must use TransferStock")
	default:
		return validationf("unknown movement type %q", in.Type)
	}
	return nil
}

// TransferStock moves one product, or everything available at the source
// when All is set or neither a product nor a quantity is given. A quantity
// without a product is rejected.
func (s *Service) TransferStock(ctx context.Context, req TransferRequest) ([]Movement, error) {
	if !req.All && req.ProductID == 0 && req.Quantity != 0 {
		return nil, validationf("product id required when a quantity is given")
	}
	var (
		out []Movement
		err error
	)
	if req.All || req.ProductID == 0 {
		out, err = s.transfers.TransferAll(ctx, TransferAllInput{
			FromWarehouseID: req.FromWarehouseID,
			ToWarehouseID:   req.ToWarehouseID,
			ProductIDs:      req.ProductIDs,
			Reason:          req.Reason,
			UserID:          req.UserID,
		})
	} else {
		var m Movement
		m, err = s.transfers.TransferOne(ctx, TransferInput{
			ProductID:       req.ProductID,
			FromWarehouseID: req.FromWarehouseID,
			ToWarehouseID:   req.ToWarehouseID,
			Quantity:        req.Quantity,
			ReferenceNumber: req.ReferenceNumber,
			Reason:          req.Reason,
			UserID:          req.UserID,
		})
		if err == nil {
			out = []Movement{m}
		}
	}
	if err != nil {
		return nil, err
	}
	var total int64
	for _, m := range out {
		total += m.Quantity
		s.invalidate(ctx, m.ProductID, req.FromWarehouseID, req.ToWarehouseID)
	}
	if len(out) > 0 {
		s.record(ctx, req.UserID, "inventory:transfer", "warehouse", req.FromWarehouseID, map[string]any{
			"to_warehouse_id": req.ToWarehouseID,
			"products":        len(out),
			"qty":             total,
			"reference":       out[0].ReferenceNumber,
		})
	}
	return out, nil
}

// GetAvailableQuantity returns the available quantity of a product at one
// warehouse, or across all warehouses when warehouseID is nil. A warehouse
// without a record holds zero.
func (s *Service) GetAvailableQuantity(ctx context.Context, productID int64, warehouseID *int64) (int64, error) {
	if productID <= 0 {
		return 0, validationf("product id required")
	}
	if qty, ok, err := s.cache.Get(ctx, productID, warehouseID); err != nil {
		s.logger.Warn("inventory availability cache read", slog.Any("error", err))
	} else if ok {
		return qty, nil
	}

	key := availabilityKey(productID, warehouseID)
	ch := s.flight.DoChan(key, func() (any, error) {
		// Shared by every caller waiting on key; each one watches its own ctx below.
		ctx := context.WithoutCancel(ctx)
		gen, genErr := s.cache.Generation(ctx, productID)
		qty, err := s.loadAvailable(ctx, productID, warehouseID)
		if err != nil {
			return int64(0), err
		}
		if genErr != nil {
			s.logger.Warn("inventory availability cache generation", slog.Any("error", genErr))
			return qty, nil
		}
		if _, err := s.cache.Set(ctx, productID, warehouseID, qty, gen); err != nil {
			s.logger.Warn("inventory availability cache write", slog.Any("error", err))
		}
		return qty, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

func (s *Service) loadAvailable(ctx context.Context, productID int64, warehouseID *int64) (int64, error) {
	var qty int64
	err := s.coord.Do(ctx, "availability", func(ctx context.Context, tx Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("product", productID)
			}
			return err
		}
		if product.Deleted {
			return notFound("product", productID)
		}
		if warehouseID == nil {
			qty, err = s.records.TotalAvailable(ctx, tx, productID)
			return err
		}
		if _, err := tx.GetWarehouse(ctx, *warehouseID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("warehouse", *warehouseID)
			}
			return err
		}
		rec, err := tx.GetRecord(ctx, productID, *warehouseID)
		if errors.Is(err, ErrNotFound) {
			qty = 0
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Deleted {
			qty = 0
			return nil
		}
		qty = rec.Available()
		return nil
	})
	return qty, err
}

// ListMovements returns one page of the ledger, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) (MovementPage, error) {
	if filter.ProductID == 0 && filter.WarehouseID == 0 && filter.Type == "" {
		return MovementPage{}, validationf("product, warehouse or type filter required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return MovementPage{}, validationf("unknown movement type %q", filter.Type)
	}
	return s.ledger.Page(ctx, filter)
}

// Ledger exposes the movement ledger for streaming reads.
func (s *Service) Ledger() *Ledger { return s.ledger }

// LowStock lists records at or below their product reorder level.
func (s *Service) LowStock(ctx context.Context, warehouseID *int64) ([]LowStockItem, error) {
	var out []LowStockItem
	err := s.coord.Do(ctx, "low_stock", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListLowStock(ctx, warehouseID)
		return err
	})
	return out, err
}

// CapacityReport buckets every warehouse by utilization, fullest first.
func (s *Service) CapacityReport(ctx context.Context) ([]CapacityRow, error) {
	var warehouses []Warehouse
	err := s.coord.Do(ctx, "capacity_report", func(ctx context.Context, tx Tx) error {
		var err error
		warehouses, err = tx.ListWarehouses(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	rows := make([]CapacityRow, 0, len(warehouses))
	for _, w := range warehouses {
		pct := w.UtilizationPercent()
		rows = append(rows, CapacityRow{
			WarehouseID:        w.ID,
			Code:               w.Code,
			Name:               w.Name,
			Type:               w.Type,
			MaxCapacity:        w.MaxCapacity,
			CurrentUtilization: w.CurrentUtilization,
			FreeCapacity:       w.FreeCapacity(),
			Percent:            pct,
			Status:             capacityStatus(pct),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Percent != rows[j].Percent {
			return rows[i].Percent > rows[j].Percent
		}
		return rows[i].WarehouseID < rows[j].WarehouseID
	})
	return rows, nil
}

// RecalculateUtilization resets a warehouse's utilization to the on-hand
// sum of its records. A sum above MaxCapacity is refused with a
// *CapacityError and nothing is written.
func (s *Service) RecalculateUtilization(ctx context.Context, warehouseID int64) (Warehouse, error) {
	var out Warehouse
	err := s.coord.Do(ctx, "recalculate_utilization", func(ctx context.Context, tx Tx) error {
		recs, err := tx.ListRecordsByWarehouse(ctx, warehouseID, true)
		if err != nil {
			return err
		}
		wh, err := tx.LockWarehouse(ctx, warehouseID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("warehouse", warehouseID)
			}
			return err
		}
		var total int64
		for _, rec := range recs {
			if !rec.Deleted {
				total += rec.OnHand
			}
		}
		if wh.CurrentUtilization != total {
			s.logger.Warn("inventory utilization drift",
				slog.Int64("warehouse_id", warehouseID),
				slog.Int64("stored", wh.CurrentUtilization),
				slog.Int64("actual", total))
		}
		if total > wh.MaxCapacity {
			return &CapacityError{WarehouseID: warehouseID, Required: total, Free: wh.MaxCapacity}
		}
		wh.CurrentUtilization = total
		out = wh
		return tx.UpdateWarehouse(ctx, wh)
	})
	return out, err
}

// DeactivateWarehouse marks a warehouse inactive. A warehouse still holding
// stock is refused.
func (s *Service) DeactivateWarehouse(ctx context.Context, warehouseID int64, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return validationf("user id required")
	}
	err := s.coord.Do(ctx, "deactivate_warehouse", func(ctx context.Context, tx Tx) error {
		recs, err := tx.ListRecordsByWarehouse(ctx, warehouseID, true)
		if err != nil {
			return err
		}
		wh, err := tx.LockWarehouse(ctx, warehouseID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("warehouse", warehouseID)
			}
			return err
		}
		var onHand int64
		for _, rec := range recs {
			if !rec.Deleted {
				onHand += rec.OnHand
			}
		}
		if onHand > 0 {
			return validationf("warehouse %d still holds %d units", warehouseID, onHand)
		}
		if !wh.Active {
			return nil
		}
		wh.Active = false
		return tx.UpdateWarehouse(ctx, wh)
	})
	s.metrics.observe("deactivate_warehouse", err)
	if err != nil {
		return err
	}
	s.record(ctx, userID, "inventory:deactivate", "warehouse", warehouseID, nil)
	return nil
}

// Reconcile compares a product's ledger total with its on-hand total.
func (s *Service) Reconcile(ctx context.Context, productID int64) (Reconciliation, error) {
	out := Reconciliation{ProductID: productID}
	err := s.coord.Do(ctx, "reconcile", func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("product", productID)
			}
			return err
		}
		ledgerTotal, err := tx.SumMovements(ctx, productID)
		if err != nil {
			return err
		}
		onHand, err := s.records.TotalOnHand(ctx, tx, productID)
		if err != nil {
			return err
		}
		out.LedgerTotal = ledgerTotal
		out.OnHandTotal = onHand
		return nil
	})
	return out, err
}

// ReconcileAll reconciles every product that has ledger entries and returns
// the unbalanced ones.
func (s *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	var ids []int64
	err := s.coord.Do(ctx, "reconcile.scan", func(ctx context.Context, tx Tx) error {
		var err error
		ids, err = tx.ProductsWithMovements(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	var mismatched []Reconciliation
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return mismatched, err
		}
		rec, err := s.Reconcile(ctx, id)
		if err != nil {
			return mismatched, err
		}
		if !rec.Balanced() {
			s.logger.Error("inventory ledger mismatch",
				slog.Int64("product_id", id),
				slog.Int64("ledger_total", rec.LedgerTotal),
				slog.Int64("on_hand_total", rec.OnHandTotal))
			mismatched = append(mismatched, rec)
		}
	}
	return mismatched, nil
}

// ValueOnHand returns on-hand quantity times unit cost for a product.
func (s *Service) ValueOnHand(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var value decimal.Decimal
	err := s.coord.Do(ctx, "value_on_hand", func(ctx context.Context, tx Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("product", productID)
			}
			return err
		}
		onHand, err := s.records.TotalOnHand(ctx, tx, productID)
		if err != nil {
			return err
		}
		value = product.UnitCost.Mul(decimal.NewFromInt(onHand))
		return nil
	})
	return value, err
}

func (s *Service) invalidate(ctx context.Context, productID int64, warehouseIDs ...int64) {
	if err := s.cache.Invalidate(ctx, productID, warehouseIDs...); err != nil {
		s.logger.Warn("inventory availability cache invalidate", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("inventory audit", slog.String("action", action), slog.Any("error", err))
	}
}
