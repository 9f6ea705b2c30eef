package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultSweepBatch = 100

// Reservations manages the reservation lifecycle: Active reservations earmark
// available stock and end as Released or Expired.
type Reservations struct {
	coord   *Coordinator
	records *Records
	ledger  *Ledger
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	notify  func(context.Context, Reservation)
}

// ReservationsConfig groups the collaborators of Reservations.
type ReservationsConfig struct {
	Coordinator *Coordinator
	Records     *Records
	Ledger      *Ledger
	TTL         time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
	Metrics     *Metrics
	// Notify is called after commit for every reservation whose quantity
	// was applied or handed back.
	Notify func(context.Context, Reservation)
}

// NewReservations builds the reservation manager.
func NewReservations(cfg ReservationsConfig) *Reservations {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultReservationTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reservations{
		coord:   cfg.Coordinator,
		records: cfg.Records,
		ledger:  cfg.Ledger,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		notify:  cfg.Notify,
	}
}

// Reserve earmarks every item of an order or nothing at all. Each item is
// held in the single warehouse chosen by SelectWarehouse. No ledger entry is
// written since physical stock does not move.
func (m *Reservations) Reserve(ctx context.Context, in ReserveInput) ([]Reservation, error) {
	if in.OrderID <= 0 {
		return nil, validationf("order id required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, validationf("user id required")
	}
	items, err := mergeItems(in.Items)
	if err != nil {
		return nil, err
	}

	var out []Reservation
	err = m.coord.Do(ctx, "reservation.reserve", func(ctx context.Context, tx Tx) error {
		out = out[:0]
		type plan struct {
			item  OrderItem
			recs  []Record
			total int64
		}
		plans := make([]plan, 0, len(items))
		for _, item := range items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return notFound("product", item.ProductID)
				}
				return err
			}
			if product.Deleted || !product.Active {
				return notFound("product", item.ProductID)
			}
			recs, err := tx.ListRecordsByProduct(ctx, item.ProductID, true)
			if err != nil {
				return err
			}
			total := sumAvailable(recs)
			if total < item.Quantity {
				return insufficient(item.ProductID, 0, item.Quantity, total)
			}
			plans = append(plans, plan{item: item, recs: recs, total: total})
		}

		now := m.now()
		for _, p := range plans {
			candidates := make([]Candidate, 0, len(p.recs))
			for _, rec := range p.recs {
				wh, err := tx.GetWarehouse(ctx, rec.WarehouseID)
				if err != nil {
					return err
				}
				candidates = append(candidates, Candidate{Record: rec, Warehouse: wh})
			}
			chosen, ok := SelectWarehouse(candidates, p.item.Quantity)
			if !ok {
				return &StockError{Err: ErrNoSingleWarehouse, ProductID: p.item.ProductID, Requested: p.item.Quantity, Available: p.total}
			}
			rec, err := m.records.ApplyDelta(ctx, tx, p.item.ProductID, chosen.Warehouse.ID, 0, p.item.Quantity)
			if err != nil {
				return err
			}
			res, err := tx.InsertReservation(ctx, Reservation{
				RecordID:    rec.ID,
				ProductID:   p.item.ProductID,
				WarehouseID: chosen.Warehouse.ID,
				OrderID:     in.OrderID,
				Quantity:    p.item.Quantity,
				Status:      ReservationActive,
				CreatedBy:   in.UserID,
				CreatedAt:   now,
				ExpiresAt:   now.Add(m.ttl),
			})
			if err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	m.metrics.observe("reserve", err)
	if err != nil {
		return nil, err
	}
	for _, res := range out {
		m.metrics.addUnits("reserved", res.Quantity)
		m.changed(ctx, res)
	}
	m.logger.Info("inventory reserved",
		slog.Int64("order_id", in.OrderID),
		slog.Int("items", len(out)),
		slog.String("user_id", in.UserID))
	return out, nil
}

// Release returns the Active reservations of an order to available stock.
// Releasing an order with nothing Active returns 0.
func (m *Reservations) Release(ctx context.Context, orderID int64, userID string) (int, error) {
	if orderID <= 0 {
		return 0, validationf("order id required")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, validationf("user id required")
	}
	var released []Reservation
	err := m.coord.Do(ctx, "reservation.release", func(ctx context.Context, tx Tx) error {
		released = released[:0]
		active, err := tx.ListActiveReservations(ctx, orderID)
		if err != nil {
			return err
		}
		now := m.now()
		for _, res := range active {
			ok, err := m.finish(ctx, tx, res, ReservationReleased, now)
			if err != nil {
				return err
			}
			if ok {
				released = append(released, res)
			}
		}
		return nil
	})
	m.metrics.observe("release", err)
	if err != nil {
		return 0, err
	}
	for _, res := range released {
		m.metrics.addUnits("released", res.Quantity)
		m.changed(ctx, res)
	}
	if len(released) > 0 {
		m.logger.Info("inventory reservations released",
			slog.Int64("order_id", orderID),
			slog.Int("count", len(released)),
			slog.String("user_id", userID))
	}
	return len(released), nil
}

// Fulfill ships the reserved stock of an order: on-hand and reserved drop by
// the reserved quantity, a Shipment movement is written and the reservation
// ends as Released.
func (m *Reservations) Fulfill(ctx context.Context, orderID int64, userID string) (int, error) {
	if orderID <= 0 {
		return 0, validationf("order id required")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, validationf("user id required")
	}
	var shipped []Reservation
	err := m.coord.Do(ctx, "reservation.fulfil", func(ctx context.Context, tx Tx) error {
		shipped = shipped[:0]
		active, err := tx.ListActiveReservations(ctx, orderID)
		if err != nil {
			return err
		}
		now := m.now()
		for _, res := range active {
			ok, err := tx.TransitionReservation(ctx, res.ID, ReservationReleased, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := m.records.ApplyDelta(ctx, tx, res.ProductID, res.WarehouseID, -res.Quantity, -res.Quantity); err != nil {
				return err
			}
			product, err := tx.GetProduct(ctx, res.ProductID)
			if err != nil {
				return err
			}
			from := res.WarehouseID
			if _, err := m.ledger.Append(ctx, tx, Movement{
				ProductID:       res.ProductID,
				FromWarehouseID: &from,
				Type:            MovementShipment,
				Quantity:        -res.Quantity,
				ReferenceNumber: fmt.Sprintf("ORD-%d", orderID),
				Reason:          "order fulfilment",
				CreatedBy:       userID,
				UnitCost:        product.UnitCost,
			}); err != nil {
				return err
			}
			shipped = append(shipped, res)
		}
		return nil
	})
	m.metrics.observe("fulfil", err)
	if err != nil {
		return 0, err
	}
	for _, res := range shipped {
		m.metrics.addUnits(string(MovementShipment), res.Quantity)
		m.changed(ctx, res)
	}
	return len(shipped), nil
}

// ExpireSweep expires Active reservations whose ExpiresAt is not after now.
// Each reservation is expired in its own transaction and only when it is
// still Active, so overlapping sweeps never release twice. Cancelling ctx
// stops the sweep between reservations.
func (m *Reservations) ExpireSweep(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	count := 0
	var errs []error
	for {
		var ids []int64
		err := m.coord.Do(ctx, "reservation.expire.scan", func(ctx context.Context, tx Tx) error {
			var err error
			ids, err = tx.ListExpiredReservationIDs(ctx, now, batch)
			return err
		})
		if err != nil {
			return count, err
		}
		progressed := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			expired, err := m.expireOne(ctx, id, now)
			if err != nil {
				m.logger.Error("expire reservation", slog.Int64("reservation_id", id), slog.Any("error", err))
				errs = append(errs, fmt.Errorf("reservation %d: %w", id, err))
				continue
			}
			if expired {
				count++
				progressed++
			}
		}
		if len(ids) < batch || progressed == 0 {
			break
		}
	}
	err := errors.Join(errs...)
	m.metrics.observe("expire", err)
	return count, err
}

func (m *Reservations) expireOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	var (
		expired bool
		res     Reservation
	)
	err := m.coord.Do(ctx, "reservation.expire", func(ctx context.Context, tx Tx) error {
		expired = false
		var err error
		res, err = tx.LockReservation(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if res.Status != ReservationActive || res.ExpiresAt.After(now) {
			return nil
		}
		expired, err = m.finish(ctx, tx, res, ReservationExpired, now)
		return err
	})
	if err == nil && expired {
		m.metrics.addUnits("expired", res.Quantity)
		m.changed(ctx, res)
	}
	return expired, err
}

func (m *Reservations) changed(ctx context.Context, res Reservation) {
	if m.notify != nil {
		m.notify(ctx, res)
	}
}

// finish moves an Active reservation to a terminal status and hands its
// quantity back. The conditional transition runs first so a reservation that
// is no longer Active is left alone.
func (m *Reservations) finish(ctx context.Context, tx Tx, res Reservation, to ReservationStatus, at time.Time) (bool, error) {
	ok, err := tx.TransitionReservation(ctx, res.ID, to, at)
	if err != nil || !ok {
		return false, err
	}
	if _, err := m.records.ApplyDelta(ctx, tx, res.ProductID, res.WarehouseID, 0, -res.Quantity); err != nil {
		return false, err
	}
	return true, nil
}

// mergeItems validates items and folds duplicate products together,
// keeping first-seen order.
func mergeItems(items []OrderItem) ([]OrderItem, error) {
	if len(items) == 0 {
		return nil, validationf("at least one item required")
	}
	index := make(map[int64]int, len(items))
	merged := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, validationf("product id required")
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d quantity %d", ErrInvalidQuantity, item.ProductID, item.Quantity)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
