package inventory

import (
	"context"
	"errors"
	"time"
)

// Records maintains the current-state quantities per (product, warehouse).
// ApplyDelta is the only mutation path used by the other components.
type Records struct {
	now func() time.Time
}

// NewRecords builds Records using now as its clock.
func NewRecords(now func() time.Time) *Records {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Records{now: now}
}

// Get returns the record of a product at a warehouse.
func (r *Records) Get(ctx context.Context, tx Tx, productID, warehouseID int64) (Record, error) {
	rec, err := tx.GetRecord(ctx, productID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, notFound("inventory record", productID)
		}
		return Record{}, err
	}
	return rec, nil
}

// GetOrCreate returns the locked record, creating a zeroed one when absent.
func (r *Records) GetOrCreate(ctx context.Context, tx Tx, productID, warehouseID int64) (Record, error) {
	rec, err := tx.LockRecord(ctx, productID, warehouseID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, notFound("product", productID)
		}
		return Record{}, err
	}
	if product.Deleted {
		return Record{}, notFound("product", productID)
	}
	if _, err := tx.GetWarehouse(ctx, warehouseID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, notFound("warehouse", warehouseID)
		}
		return Record{}, err
	}
	return tx.InsertRecord(ctx, Record{
		ProductID:   productID,
		WarehouseID: warehouseID,
		UpdatedAt:   r.now(),
	})
}

// ApplyDelta adds both deltas to the record under its row lock. The result
// must keep OnHand >= Reserved >= 0; on-hand changes also move the warehouse
// utilization, re-validating capacity under the warehouse row lock.
func (r *Records) ApplyDelta(ctx context.Context, tx Tx, productID, warehouseID, onHandDelta, reservedDelta int64) (Record, error) {
	if onHandDelta == 0 && reservedDelta == 0 {
		return Record{}, ErrInvalidQuantity
	}
	requested := requestedUnits(onHandDelta, reservedDelta)

	var (
		rec Record
		err error
	)
	if onHandDelta > 0 {
		rec, err = r.GetOrCreate(ctx, tx, productID, warehouseID)
	} else {
		rec, err = tx.LockRecord(ctx, productID, warehouseID)
		if errors.Is(err, ErrNotFound) {
			return Record{}, insufficient(productID, warehouseID, requested, 0)
		}
	}
	if err != nil {
		return Record{}, err
	}

	onHand := rec.OnHand + onHandDelta
	reserved := rec.Reserved + reservedDelta
	if onHand < 0 || reserved < 0 || reserved > onHand {
		return Record{}, insufficient(productID, warehouseID, requested, rec.Available())
	}

	if onHandDelta != 0 {
		wh, err := tx.LockWarehouse(ctx, warehouseID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Record{}, notFound("warehouse", warehouseID)
			}
			return Record{}, err
		}
		if onHandDelta > 0 && wh.CurrentUtilization+onHandDelta > wh.MaxCapacity {
			return Record{}, &CapacityError{WarehouseID: warehouseID, Required: onHandDelta, Free: wh.FreeCapacity()}
		}
		wh.CurrentUtilization += onHandDelta
		if wh.CurrentUtilization < 0 {
			wh.CurrentUtilization = 0
		}
		if err := tx.UpdateWarehouse(ctx, wh); err != nil {
			return Record{}, err
		}
	}

	rec.OnHand = onHand
	rec.Reserved = reserved
	rec.UpdatedAt = r.now()
	if err := tx.UpdateRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// TotalOnHand sums on-hand quantity of a product across warehouses.
func (r *Records) TotalOnHand(ctx context.Context, tx Tx, productID int64) (int64, error) {
	recs, err := tx.ListRecordsByProduct(ctx, productID, false)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, rec := range recs {
		if rec.Deleted {
			continue
		}
		total += rec.OnHand
	}
	return total, nil
}

// TotalAvailable sums available quantity of a product across warehouses.
func (r *Records) TotalAvailable(ctx context.Context, tx Tx, productID int64) (int64, error) {
	recs, err := tx.ListRecordsByProduct(ctx, productID, false)
	if err != nil {
		return 0, err
	}
	return sumAvailable(recs), nil
}

func sumAvailable(recs []Record) int64 {
	var total int64
	for _, rec := range recs {
		if rec.Deleted {
			continue
		}
		total += rec.Available()
	}
	return total
}

func requestedUnits(onHandDelta, reservedDelta int64) int64 {
	switch {
	case reservedDelta > 0:
		return reservedDelta
	case onHandDelta < 0:
		return -onHandDelta
	case reservedDelta < 0:
		return -reservedDelta
	default:
		return onHandDelta
	}
}
