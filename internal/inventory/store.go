package inventory

import (
	"context"
	"time"
)

// Store opens transactional units of work against the backing database.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx exposes every repository available inside one transaction.
type Tx interface {
	CatalogRepository
	RecordRepository
	ReservationRepository
	MovementRepository
}

// CatalogRepository reads products and warehouses.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	// LockWarehouse reads the warehouse and holds its row until the tx ends.
	LockWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	UpdateWarehouse(ctx context.Context, w Warehouse) error
}

// RecordRepository persists InventoryRecord rows.
type RecordRepository interface {
	GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error)
	// LockRecord reads the record and holds its row until the tx ends.
	LockRecord(ctx context.Context, productID, warehouseID int64) (Record, error)
	// InsertRecord creates a zeroed record, returning the existing row
	// (locked) when another tx created it first.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	UpdateRecord(ctx context.Context, rec Record) error
	// ListRecordsByProduct returns records ordered by warehouse id.
	ListRecordsByProduct(ctx context.Context, productID int64, lock bool) ([]Record, error)
	// ListRecordsByWarehouse returns records ordered by product id.
	ListRecordsByWarehouse(ctx context.Context, warehouseID int64, lock bool) ([]Record, error)
	ListLowStock(ctx context.Context, warehouseID *int64) ([]LowStockItem, error)
}

// ReservationRepository persists reservations.
type ReservationRepository interface {
	InsertReservation(ctx context.Context, res Reservation) (Reservation, error)
	// ListActiveReservations locks the Active reservations of an order.
	ListActiveReservations(ctx context.Context, orderID int64) ([]Reservation, error)
	ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	LockReservation(ctx context.Context, id int64) (Reservation, error)
	// TransitionReservation moves an Active reservation to a terminal
	// status. It reports false when the reservation was no longer Active.
	TransitionReservation(ctx context.Context, id int64, to ReservationStatus, at time.Time) (bool, error)
}

// MovementRepository appends to and reads from the stock ledger.
type MovementRepository interface {
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	// ListMovements returns movements newest first, after filter.Cursor.
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	// SumMovements totals the signed quantities that change on-hand stock.
	SumMovements(ctx context.Context, productID int64) (int64, error)
	ProductsWithMovements(ctx context.Context) ([]int64, error)
}
