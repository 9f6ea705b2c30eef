package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Transfers moves on-hand quantity between warehouses. Reserved stock never
// leaves its warehouse.
type Transfers struct {
	coord   *Coordinator
	records *Records
	ledger  *Ledger
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

// NewTransfers builds the transfer engine.
func NewTransfers(coord *Coordinator, records *Records, ledger *Ledger, now func() time.Time, logger *slog.Logger, metrics *Metrics) *Transfers {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfers{coord: coord, records: records, ledger: ledger, now: now, logger: logger, metrics: metrics}
}

// TransferOne moves quantity units of one product.
func (t *Transfers) TransferOne(ctx context.Context, in TransferInput) (Movement, error) {
	if err := validateRoute(in.FromWarehouseID, in.ToWarehouseID, in.UserID); err != nil {
		return Movement{}, err
	}
	if in.ProductID <= 0 {
		return Movement{}, validationf("product id required")
	}
	if in.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}

	var out Movement
	err := t.coord.Do(ctx, "transfer.one", func(ctx context.Context, tx Tx) error {
		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return notFound("product", in.ProductID)
			}
			return err
		}
		src, err := t.lockPair(ctx, tx, in.ProductID, in.FromWarehouseID, in.ToWarehouseID, in.Quantity)
		if err != nil {
			return err
		}
		if _, err := t.lockRoute(ctx, tx, in.FromWarehouseID, in.ToWarehouseID); err != nil {
			return err
		}
		if src.Available() < in.Quantity {
			return insufficient(in.ProductID, in.FromWarehouseID, in.Quantity, src.Available())
		}
		out, err = t.move(ctx, tx, product, src, in.ToWarehouseID, in.Quantity, in.ReferenceNumber, in.Reason, in.UserID)
		return err
	})
	t.metrics.observe("transfer", err)
	if err != nil {
		return Movement{}, err
	}
	t.metrics.addUnits(string(MovementTransfer), in.Quantity)
	t.logger.Info("inventory transferred",
		slog.Int64("product_id", in.ProductID),
		slog.Int64("from_warehouse_id", in.FromWarehouseID),
		slog.Int64("to_warehouse_id", in.ToWarehouseID),
		slog.Int64("qty", in.Quantity),
		slog.String("user_id", in.UserID))
	return out, nil
}

// TransferAll moves the available quantity of every record at the source,
// optionally limited to ProductIDs, in one transaction. When the aggregate
// exceeds the destination's free capacity nothing is moved.
func (t *Transfers) TransferAll(ctx context.Context, in TransferAllInput) ([]Movement, error) {
	if err := validateRoute(in.FromWarehouseID, in.ToWarehouseID, in.UserID); err != nil {
		return nil, err
	}
	filter := make(map[int64]struct{}, len(in.ProductIDs))
	for _, id := range in.ProductIDs {
		filter[id] = struct{}{}
	}

	var out []Movement
	err := t.coord.Do(ctx, "transfer.all", func(ctx context.Context, tx Tx) error {
		out = out[:0]
		recs, err := tx.ListRecordsByWarehouse(ctx, in.FromWarehouseID, true)
		if err != nil {
			return err
		}
		dst, err := t.lockRoute(ctx, tx, in.FromWarehouseID, in.ToWarehouseID)
		if err != nil {
			return err
		}
		var (
			moving    []Record
			aggregate int64
		)
		for _, rec := range recs {
			if len(filter) > 0 {
				if _, ok := filter[rec.ProductID]; !ok {
					continue
				}
			}
			if rec.OnHand <= 0 || rec.Available() <= 0 {
				continue
			}
			moving = append(moving, rec)
			aggregate += rec.Available()
		}
		if len(moving) == 0 {
			return nil
		}
		if aggregate > dst.FreeCapacity() {
			return &CapacityError{WarehouseID: dst.ID, Required: aggregate, Free: dst.FreeCapacity()}
		}

		ref := fmt.Sprintf("BULK-TRF-%s", t.now().Format("20060102150405"))
		for _, rec := range moving {
			product, err := tx.GetProduct(ctx, rec.ProductID)
			if err != nil {
				return err
			}
			src, err := t.lockPair(ctx, tx, rec.ProductID, in.FromWarehouseID, in.ToWarehouseID, rec.Available())
			if err != nil {
				return err
			}
			m, err := t.move(ctx, tx, product, src, in.ToWarehouseID, src.Available(), ref, in.Reason, in.UserID)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	t.metrics.observe("transfer_all", err)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, m := range out {
		total += m.Quantity
	}
	t.metrics.addUnits(string(MovementTransfer), total)
	t.logger.Info("inventory bulk transfer",
		slog.Int64("from_warehouse_id", in.FromWarehouseID),
		slog.Int64("to_warehouse_id", in.ToWarehouseID),
		slog.Int("products", len(out)),
		slog.Int64("qty", total),
		slog.String("user_id", in.UserID))
	return out, nil
}

// lockRoute locks both warehouses in ascending id order and returns the
// destination, which must be active.
func (t *Transfers) lockRoute(ctx context.Context, tx Tx, fromID, toID int64) (Warehouse, error) {
	var dst Warehouse
	for _, id := range ascending(fromID, toID) {
		wh, err := tx.LockWarehouse(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Warehouse{}, notFound("warehouse", id)
			}
			return Warehouse{}, err
		}
		if id == toID {
			dst = wh
		}
	}
	if !dst.Active {
		return Warehouse{}, validationf("destination warehouse %d is not active", toID)
	}
	return dst, nil
}

// lockPair locks the source and destination records of a product in
// ascending warehouse order, creating the destination lazily, and returns
// the source record.
func (t *Transfers) lockPair(ctx context.Context, tx Tx, productID, fromID, toID, qty int64) (Record, error) {
	var src Record
	for _, id := range ascending(fromID, toID) {
		if id == fromID {
			rec, err := tx.LockRecord(ctx, productID, fromID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return Record{}, insufficient(productID, fromID, qty, 0)
				}
				return Record{}, err
			}
			src = rec
			continue
		}
		if _, err := t.records.GetOrCreate(ctx, tx, productID, toID); err != nil {
			return Record{}, err
		}
	}
	return src, nil
}

func (t *Transfers) move(ctx context.Context, tx Tx, product Product, src Record, toID, qty int64, ref, reason, userID string) (Movement, error) {
	if _, err := t.records.ApplyDelta(ctx, tx, product.ID, src.WarehouseID, -qty, 0); err != nil {
		return Movement{}, err
	}
	if _, err := t.records.ApplyDelta(ctx, tx, product.ID, toID, qty, 0); err != nil {
		return Movement{}, err
	}
	from, to := src.WarehouseID, toID
	return t.ledger.Append(ctx, tx, Movement{
		ProductID:       product.ID,
		FromWarehouseID: &from,
		ToWarehouseID:   &to,
		Type:            MovementTransfer,
		Quantity:        qty,
		ReferenceNumber: ref,
		Reason:          reason,
		CreatedBy:       userID,
		UnitCost:        product.UnitCost,
	})
}

func validateRoute(fromID, toID int64, userID string) error {
	if fromID <= 0 || toID <= 0 {
		return validationf("source and destination warehouse required")
	}
	if fromID == toID {
		return validationf("source and destination warehouse must differ")
	}
	if strings.TrimSpace(userID) == "" {
		return validationf("user id required")
	}
	return nil
}

func ascending(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}
