package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type tx struct {
	st *state
}

var _ inventory.Tx = (*tx)(nil)

func (t *tx) GetProduct(_ context.Context, id int64) (inventory.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrNotFound
	}
	return p, nil
}

func (t *tx) GetWarehouse(_ context.Context, id int64) (inventory.Warehouse, error) {
	w, ok := t.st.warehouses[id]
	if !ok {
		return inventory.Warehouse{}, inventory.ErrNotFound
	}
	return w, nil
}

func (t *tx) LockWarehouse(ctx context.Context, id int64) (inventory.Warehouse, error) {
	return t.GetWarehouse(ctx, id)
}

func (t *tx) ListWarehouses(context.Context) ([]inventory.Warehouse, error) {
	out := slices.Collect(maps.Values(t.st.warehouses))
	slices.SortFunc(out, func(a, b inventory.Warehouse) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) UpdateWarehouse(_ context.Context, w inventory.Warehouse) error {
	if _, ok := t.st.warehouses[w.ID]; !ok {
		return inventory.ErrNotFound
	}
	t.st.warehouses[w.ID] = w
	return nil
}

func (t *tx) GetRecord(_ context.Context, productID, warehouseID int64) (inventory.Record, error) {
	id, ok := t.st.pairs[pairKey{productID, warehouseID}]
	if !ok {
		return inventory.Record{}, inventory.ErrNotFound
	}
	return t.st.records[id], nil
}

func (t *tx) LockRecord(ctx context.Context, productID, warehouseID int64) (inventory.Record, error) {
	return t.GetRecord(ctx, productID, warehouseID)
}

func (t *tx) InsertRecord(_ context.Context, rec inventory.Record) (inventory.Record, error) {
	key := pairKey{rec.ProductID, rec.WarehouseID}
	if id, ok := t.st.pairs[key]; ok {
		return t.st.records[id], nil
	}
	rec.ID = t.st.nextID()
	t.st.records[rec.ID] = rec
	t.st.pairs[key] = rec.ID
	return rec, nil
}

func (t *tx) UpdateRecord(_ context.Context, rec inventory.Record) error {
	if _, ok := t.st.records[rec.ID]; !ok {
		return inventory.ErrNotFound
	}
	t.st.records[rec.ID] = rec
	return nil
}

func (t *tx) ListRecordsByProduct(_ context.Context, productID int64, _ bool) ([]inventory.Record, error) {
	var out []inventory.Record
	for _, rec := range t.st.records {
		if rec.ProductID == productID && !rec.Deleted {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Record) int { return cmp.Compare(a.WarehouseID, b.WarehouseID) })
	return out, nil
}

func (t *tx) ListRecordsByWarehouse(_ context.Context, warehouseID int64, _ bool) ([]inventory.Record, error) {
	var out []inventory.Record
	for _, rec := range t.st.records {
		if rec.WarehouseID == warehouseID && !rec.Deleted {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Record) int { return cmp.Compare(a.ProductID, b.ProductID) })
	return out, nil
}

func (t *tx) ListLowStock(_ context.Context, warehouseID *int64) ([]inventory.LowStockItem, error) {
	var out []inventory.LowStockItem
	for _, rec := range t.st.records {
		if rec.Deleted || (warehouseID != nil && rec.WarehouseID != *warehouseID) {
			continue
		}
		p, ok := t.st.products[rec.ProductID]
		if !ok || !p.Active || p.Deleted || rec.OnHand > p.ReorderLevel {
			continue
		}
		out = append(out, inventory.LowStockItem{
			ProductID:       p.ID,
			SKU:             p.SKU,
			WarehouseID:     rec.WarehouseID,
			WarehouseCode:   t.st.warehouses[rec.WarehouseID].Code,
			OnHand:          rec.OnHand,
			Available:       rec.Available(),
			ReorderLevel:    p.ReorderLevel,
			ReorderQuantity: p.ReorderQuantity,
		})
	}
	slices.SortFunc(out, func(a, b inventory.LowStockItem) int {
		if c := cmp.Compare(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		return cmp.Compare(a.WarehouseID, b.WarehouseID)
	})
	return out, nil
}

func (t *tx) InsertReservation(_ context.Context, res inventory.Reservation) (inventory.Reservation, error) {
	res.ID = t.st.nextID()
	t.st.reservations[res.ID] = res
	return res, nil
}

func (t *tx) ListActiveReservations(_ context.Context, orderID int64) ([]inventory.Reservation, error) {
	var out []inventory.Reservation
	for _, res := range t.st.reservations {
		if res.OrderID == orderID && res.Status == inventory.ReservationActive {
			out = append(out, res)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Reservation) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) ListExpiredReservationIDs(_ context.Context, now time.Time, limit int) ([]int64, error) {
	var due []inventory.Reservation
	for _, res := range t.st.reservations {
		if res.Status == inventory.ReservationActive && !res.ExpiresAt.After(now) {
			due = append(due, res)
		}
	}
	slices.SortFunc(due, func(a, b inventory.Reservation) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, len(due))
	for i, res := range due {
		ids[i] = res.ID
	}
	return ids, nil
}

func (t *tx) LockReservation(_ context.Context, id int64) (inventory.Reservation, error) {
	res, ok := t.st.reservations[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrNotFound
	}
	return res, nil
}

func (t *tx) TransitionReservation(_ context.Context, id int64, to inventory.ReservationStatus, at time.Time) (bool, error) {
	res, ok := t.st.reservations[id]
	if !ok || res.Status != inventory.ReservationActive {
		return false, nil
	}
	res.Status = to
	res.ReleasedAt = &at
	t.st.reservations[id] = res
	return true, nil
}

func (t *tx) InsertMovement(_ context.Context, m inventory.Movement) (inventory.Movement, error) {
	m.ID = t.st.nextID()
	t.st.movements = append(t.st.movements, m)
	return m, nil
}

func (t *tx) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range t.st.movements {
		if matches(m, filter) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Movement) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(m inventory.Movement, f inventory.MovementFilter) bool {
	if f.ProductID != 0 && m.ProductID != f.ProductID {
		return false
	}
	if f.WarehouseID != 0 && !touches(m, f.WarehouseID) {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if !f.FromDate.IsZero() && m.CreatedAt.Before(f.FromDate) {
		return false
	}
	if c := f.Cursor; c != nil {
		if m.CreatedAt.After(c.CreatedAt) {
			return false
		}
		if m.CreatedAt.Equal(c.CreatedAt) && m.ID >= c.ID {
			return false
		}
	}
	return true
}

func touches(m inventory.Movement, warehouseID int64) bool {
	return (m.FromWarehouseID != nil && *m.FromWarehouseID == warehouseID) ||
		(m.ToWarehouseID != nil && *m.ToWarehouseID == warehouseID)
}

func (t *tx) SumMovements(_ context.Context, productID int64) (int64, error) {
	var total int64
	for _, m := range t.st.movements {
		if m.ProductID == productID && m.Type != inventory.MovementTransfer {
			total += m.Quantity
		}
	}
	return total, nil
}

func (t *tx) ProductsWithMovements(context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, m := range t.st.movements {
		seen[m.ProductID] = struct{}{}
	}
	ids := slices.Collect(maps.Keys(seen))
	slices.Sort(ids)
	return ids, nil
}
