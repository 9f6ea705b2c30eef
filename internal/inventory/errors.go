package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing product, warehouse, record or reservation.
	ErrNotFound = errors.New("inventory: not found")
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInsufficientStock is returned when a request exceeds available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrNoSingleWarehouse is returned when stock exists but is split across warehouses.
	ErrNoSingleWarehouse = errors.New("inventory: no single warehouse has sufficient stock")
	// ErrCapacityExceeded is returned when a destination warehouse cannot take the quantity.
	ErrCapacityExceeded = errors.New("inventory: warehouse capacity exceeded")
	// ErrConcurrencyConflict marks a retryable conflict raised by the store.
	ErrConcurrencyConflict = errors.New("inventory: concurrent update conflict")
	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.New("inventory: duplicate key")
	// ErrTransactionFailed wraps unexpected failures inside a transaction scope.
	ErrTransactionFailed = errors.New("inventory: transaction failed")
	// ErrValidation indicates a request rejected before touching the store.
	ErrValidation = errors.New("inventory: validation failed")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("inventory: %s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// StockError carries the available quantity behind an InsufficientStock or
// NoSingleWarehouse failure.
type StockError struct {
	Err         error
	ProductID   int64
	WarehouseID int64
	Requested   int64
	Available   int64
}

func (e *StockError) Error() string {
	if e.WarehouseID != 0 {
		return fmt.Sprintf("%v: product %d warehouse %d requested %d available %d", e.Err, e.ProductID, e.WarehouseID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: product %d requested %d available %d", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.Err }

func insufficient(productID, warehouseID, requested, available int64) error {
	return &StockError{Err: ErrInsufficientStock, ProductID: productID, WarehouseID: warehouseID, Requested: requested, Available: available}
}

// CapacityError reports the free capacity of the destination warehouse.
type CapacityError struct {
	WarehouseID int64
	Required    int64
	Free        int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: warehouse %d required %d free %d", ErrCapacityExceeded, e.WarehouseID, e.Required, e.Free)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// domainErrors surface unchanged through the coordinator.
var domainErrors = []error{
	ErrNotFound,
	ErrInvalidQuantity,
	ErrInsufficientStock,
	ErrNoSingleWarehouse,
	ErrCapacityExceeded,
	ErrConcurrencyConflict,
	ErrDuplicateKey,
	ErrValidation,
	ErrTransactionFailed,
}

// IsDomainError reports whether err belongs to the inventory taxonomy.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
