package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type txRepo struct {
	tx pgx.Tx
}

var _ inventory.Tx = (*txRepo)(nil)

const (
	productColumns     = `id, sku, name, reorder_level, reorder_quantity, unit_cost::text, active, deleted, created_at`
	warehouseColumns   = `id, code, name, type, max_capacity, current_utilization, active, created_at`
	recordColumns      = `id, product_id, warehouse_id, on_hand, reserved, deleted, updated_at`
	reservationColumns = `id, record_id, product_id, warehouse_id, order_id, quantity, status, created_by, created_at, expires_at, released_at`
	movementColumns    = `id, product_id, from_warehouse_id, to_warehouse_id, type, quantity, reference_number, reason, created_by, created_at, unit_cost::text, total_cost::text`
)

func (r *txRepo) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	return scanProduct(row)
}

func (r *txRepo) GetWarehouse(ctx context.Context, id int64) (inventory.Warehouse, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id=$1`, id)
	return scanWarehouse(row)
}

func (r *txRepo) LockWarehouse(ctx context.Context, id int64) (inventory.Warehouse, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id=$1 FOR UPDATE`, id)
	return scanWarehouse(row)
}

func (r *txRepo) ListWarehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Warehouse
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *txRepo) UpdateWarehouse(ctx context.Context, w inventory.Warehouse) error {
	tag, err := r.tx.Exec(ctx, `UPDATE warehouses SET current_utilization=$2, active=$3 WHERE id=$1`, w.ID, w.CurrentUtilization, w.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (r *txRepo) GetRecord(ctx context.Context, productID, warehouseID int64) (inventory.Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID)
	return scanRecord(row)
}

func (r *txRepo) LockRecord(ctx context.Context, productID, warehouseID int64) (inventory.Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, productID, warehouseID)
	return scanRecord(row)
}

func (r *txRepo) InsertRecord(ctx context.Context, rec inventory.Record) (inventory.Record, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory_records (product_id, warehouse_id, on_hand, reserved, updated_at)
VALUES ($1, $2, 0, 0, $3)
ON CONFLICT (product_id, warehouse_id) DO NOTHING
RETURNING `+recordColumns, rec.ProductID, rec.WarehouseID, rec.UpdatedAt)
	out, err := scanRecord(row)
	if errors.Is(err, inventory.ErrNotFound) {
		return r.LockRecord(ctx, rec.ProductID, rec.WarehouseID)
	}
	return out, err
}

func (r *txRepo) UpdateRecord(ctx context.Context, rec inventory.Record) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_records SET on_hand=$2, reserved=$3, updated_at=$4 WHERE id=$1`, rec.ID, rec.OnHand, rec.Reserved, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (r *txRepo) ListRecordsByProduct(ctx context.Context, productID int64, lock bool) ([]inventory.Record, error) {
	return r.listRecords(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 AND NOT deleted ORDER BY warehouse_id`, productID, lock)
}

func (r *txRepo) ListRecordsByWarehouse(ctx context.Context, warehouseID int64, lock bool) ([]inventory.Record, error) {
	return r.listRecords(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE warehouse_id=$1 AND NOT deleted ORDER BY product_id`, warehouseID, lock)
}

func (r *txRepo) listRecords(ctx context.Context, query string, id int64, lock bool) ([]inventory.Record, error) {
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := r.tx.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *txRepo) ListLowStock(ctx context.Context, warehouseID *int64) ([]inventory.LowStockItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT p.id, p.sku, w.id, w.code, ir.on_hand, ir.on_hand - ir.reserved, p.reorder_level, p.reorder_quantity
FROM inventory_records ir
JOIN products p ON p.id = ir.product_id
JOIN warehouses w ON w.id = ir.warehouse_id
WHERE NOT ir.deleted AND p.active AND NOT p.deleted
  AND ir.on_hand <= p.reorder_level
  AND ($1::bigint IS NULL OR ir.warehouse_id = $1)
ORDER BY p.id, w.id`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.LowStockItem
	for rows.Next() {
		var item inventory.LowStockItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.WarehouseID, &item.WarehouseCode, &item.OnHand, &item.Available, &item.ReorderLevel, &item.ReorderQuantity); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertReservation(ctx context.Context, res inventory.Reservation) (inventory.Reservation, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO reservations (record_id, product_id, warehouse_id, order_id, quantity, status, created_by, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+reservationColumns,
		res.RecordID, res.ProductID, res.WarehouseID, res.OrderID, res.Quantity, string(res.Status), res.CreatedBy, res.CreatedAt, res.ExpiresAt)
	return scanReservation(row)
}

func (r *txRepo) ListActiveReservations(ctx context.Context, orderID int64) ([]inventory.Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE order_id=$1 AND status='Active' ORDER BY id FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *txRepo) ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM reservations WHERE status='Active' AND expires_at <= $1 ORDER BY expires_at, id LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepo) LockReservation(ctx context.Context, id int64) (inventory.Reservation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=$1 FOR UPDATE`, id)
	return scanReservation(row)
}

func (r *txRepo) TransitionReservation(ctx context.Context, id int64, to inventory.ReservationStatus, at time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE reservations SET status=$2, released_at=$3 WHERE id=$1 AND status='Active'`, id, string(to), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, from_warehouse_id, to_warehouse_id, type, quantity, reference_number, reason, created_by, created_at, unit_cost, total_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric)
RETURNING `+movementColumns,
		m.ProductID, m.FromWarehouseID, m.ToWarehouseID, string(m.Type), m.Quantity, m.ReferenceNumber, m.Reason, m.CreatedBy, m.CreatedAt, m.UnitCost.String(), m.TotalCost.String())
	return scanMovement(row)
}

func (r *txRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ProductID != 0 {
		where = append(where, "product_id = "+arg(filter.ProductID))
	}
	if filter.WarehouseID != 0 {
		p := arg(filter.WarehouseID)
		where = append(where, fmt.Sprintf("(from_warehouse_id = %s OR to_warehouse_id = %s)", p, p))
	}
	if filter.Type != "" {
		where = append(where, "type = "+arg(string(filter.Type)))
	}
	if !filter.FromDate.IsZero() {
		where = append(where, "created_at >= "+arg(filter.FromDate))
	}
	if c := filter.Cursor; c != nil {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(c.CreatedAt), arg(c.ID)))
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepo) SumMovements(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE product_id=$1 AND type <> 'Transfer'`, productID).Scan(&total)
	return total, err
}

func (r *txRepo) ProductsWithMovements(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT product_id FROM stock_movements ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var (
		p    inventory.Product
		cost string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.ReorderLevel, &p.ReorderQuantity, &cost, &p.Active, &p.Deleted, &p.CreatedAt); err != nil {
		return inventory.Product{}, notFound(err)
	}
	var err error
	p.UnitCost, err = decimal.NewFromString(cost)
	return p, err
}

func scanWarehouse(row pgx.Row) (inventory.Warehouse, error) {
	var (
		w   inventory.Warehouse
		typ string
	)
	if err := row.Scan(&w.ID, &w.Code, &w.Name, &typ, &w.MaxCapacity, &w.CurrentUtilization, &w.Active, &w.CreatedAt); err != nil {
		return inventory.Warehouse{}, notFound(err)
	}
	w.Type = inventory.WarehouseType(typ)
	return w, nil
}

func scanRecord(row pgx.Row) (inventory.Record, error) {
	var rec inventory.Record
	if err := row.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.OnHand, &rec.Reserved, &rec.Deleted, &rec.UpdatedAt); err != nil {
		return inventory.Record{}, notFound(err)
	}
	return rec, nil
}

func scanReservation(row pgx.Row) (inventory.Reservation, error) {
	var (
		res    inventory.Reservation
		status string
	)
	if err := row.Scan(&res.ID, &res.RecordID, &res.ProductID, &res.WarehouseID, &res.OrderID, &res.Quantity, &status, &res.CreatedBy, &res.CreatedAt, &res.ExpiresAt, &res.ReleasedAt); err != nil {
		return inventory.Reservation{}, notFound(err)
	}
	res.Status = inventory.ReservationStatus(status)
	return res, nil
}

func scanMovement(row pgx.Row) (inventory.Movement, error) {
	var (
		m               inventory.Movement
		typ             string
		unitCost, total string
	)
	if err := row.Scan(&m.ID, &m.ProductID, &m.FromWarehouseID, &m.ToWarehouseID, &typ, &m.Quantity, &m.ReferenceNumber, &m.Reason, &m.CreatedBy, &m.CreatedAt, &unitCost, &total); err != nil {
		return inventory.Movement{}, notFound(err)
	}
	m.Type = inventory.MovementType(typ)
	var err error
	if m.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
		return inventory.Movement{}, err
	}
	if m.TotalCost, err = decimal.NewFromString(total); err != nil {
		return inventory.Movement{}, err
	}
	return m, nil
}
