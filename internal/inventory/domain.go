package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReservationTTL is the lifetime of an Active reservation.
const DefaultReservationTTL = 24 * time.Hour

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementReceipt represents inbound goods.
	MovementReceipt MovementType = "Receipt"
	// MovementShipment represents outbound goods.
	MovementShipment MovementType = "Shipment"
	// MovementTransfer moves on-hand quantity between two warehouses.
	MovementTransfer MovementType = "Transfer"
	// MovementAdjustment indicates manual corrections.
	MovementAdjustment MovementType = "Adjustment"
	// MovementReturn represents goods returned by customers.
	MovementReturn MovementType = "Return"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementShipment, MovementTransfer, MovementAdjustment, MovementReturn:
		return true
	}
	return false
}

// WarehouseType enumerates warehouse roles.
type WarehouseType string

const (
	WarehouseMain         WarehouseType = "Main"
	WarehouseRegional     WarehouseType = "Regional"
	WarehouseDistribution WarehouseType = "Distribution"
	WarehouseOutlet       WarehouseType = "Outlet"
	WarehouseTemporary    WarehouseType = "Temporary"
)

// ReservationStatus enumerates the reservation lifecycle.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "Active"
	ReservationReleased ReservationStatus = "Released"
	ReservationExpired  ReservationStatus = "Expired"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationReleased || s == ReservationExpired
}

// Product is the catalogue entry stock is kept for.
type Product struct {
	ID              int64           `json:"id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	ReorderLevel    int64           `json:"reorder_level"`
	ReorderQuantity int64           `json:"reorder_quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Active          bool            `json:"active"`
	Deleted         bool            `json:"deleted"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Warehouse is a stock location. Capacity and utilization count units.
type Warehouse struct {
	ID                 int64         `json:"id"`
	Code               string        `json:"code"`
	Name               string        `json:"name"`
	Type               WarehouseType `json:"type"`
	MaxCapacity        int64         `json:"max_capacity"`
	CurrentUtilization int64         `json:"current_utilization"`
	Active             bool          `json:"active"`
	CreatedAt          time.Time     `json:"created_at"`
}

// FreeCapacity returns the units the warehouse can still accept.
func (w Warehouse) FreeCapacity() int64 {
	free := w.MaxCapacity - w.CurrentUtilization
	if free < 0 {
		return 0
	}
	return free
}

// UtilizationPercent returns utilization as a percentage capped at 100.
func (w Warehouse) UtilizationPercent() float64 {
	if w.MaxCapacity <= 0 {
		return 0
	}
	pct := float64(w.CurrentUtilization) / float64(w.MaxCapacity) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Record holds the current quantities of one product in one warehouse.
type Record struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	WarehouseID int64     `json:"warehouse_id"`
	OnHand      int64     `json:"on_hand"`
	Reserved    int64     `json:"reserved"`
	Deleted     bool      `json:"deleted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available is the sellable and transferable quantity.
func (r Record) Available() int64 {
	return r.OnHand - r.Reserved
}

// Reservation is a time-bounded hold on available quantity for an order.
type Reservation struct {
	ID          int64             `json:"id"`
	RecordID    int64             `json:"record_id"`
	ProductID   int64             `json:"product_id"`
	WarehouseID int64             `json:"warehouse_id"`
	OrderID     int64             `json:"order_id"`
	Quantity    int64             `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	ReleasedAt  *time.Time        `json:"released_at,omitempty"`
}

// Movement is one immutable ledger entry.
type Movement struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	FromWarehouseID *int64          `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   *int64          `json:"to_warehouse_id,omitempty"`
	Type            MovementType    `json:"type"`
	Quantity        int64           `json:"quantity"`
	ReferenceNumber string          `json:"reference_number"`
	Reason          string          `json:"reason"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// OrderItem requests a quantity of a product for an order.
type OrderItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// ReserveInput describes a reservation request for one order.
type ReserveInput struct {
	OrderID int64
	Items   []OrderItem
	UserID  string
}

// AdjustmentInput describes a direct quantity change at one warehouse.
type AdjustmentInput struct {
	ProductID       int64
	WarehouseID     int64
	Quantity        int64
	Type            MovementType
	ReferenceNumber string
	Reason          string
	UnitCost        *decimal.Decimal
	UserID          string
}

// TransferInput moves a quantity of one product between warehouses.
type TransferInput struct {
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        int64
	ReferenceNumber string
	Reason          string
	UserID          string
}

// TransferAllInput moves every available unit out of a warehouse.
type TransferAllInput struct {
	FromWarehouseID int64
	ToWarehouseID   int64
	ProductIDs      []int64
	Reason          string
	UserID          string
}

// TransferRequest is the exposed transfer contract. A zero ProductID or All
// moves everything available at the source.
type TransferRequest struct {
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        int64
	All             bool
	ProductIDs      []int64
	ReferenceNumber string
	Reason          string
	UserID          string
}

// MovementFilter narrows ledger queries. At least one of ProductID,
// WarehouseID or Type should be set.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	Type        MovementType
	FromDate    time.Time
	Limit       int
	Cursor      *MovementCursor
}

// MovementCursor is the keyset position of the last row of a page.
type MovementCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

// MovementPage is one page of movements, newest first.
type MovementPage struct {
	Movements  []Movement      `json:"movements"`
	NextCursor *MovementCursor `json:"next_cursor,omitempty"`
}

// LowStockItem flags a record at or below its product reorder level.
type LowStockItem struct {
	ProductID       int64  `json:"product_id"`
	SKU             string `json:"sku"`
	WarehouseID     int64  `json:"warehouse_id"`
	WarehouseCode   string `json:"warehouse_code"`
	OnHand          int64  `json:"on_hand"`
	Available       int64  `json:"available"`
	ReorderLevel    int64  `json:"reorder_level"`
	ReorderQuantity int64  `json:"reorder_quantity"`
}

// CapacityStatus buckets warehouse utilization.
type CapacityStatus string

const (
	CapacityCritical CapacityStatus = "Critical"
	CapacityHigh     CapacityStatus = "High"
	CapacityMedium   CapacityStatus = "Medium"
	CapacityLow      CapacityStatus = "Low"
)

// CapacityRow is one line of the warehouse capacity report.
type CapacityRow struct {
	WarehouseID        int64          `json:"warehouse_id"`
	Code               string         `json:"code"`
	Name               string         `json:"name"`
	Type               WarehouseType  `json:"type"`
	MaxCapacity        int64          `json:"max_capacity"`
	CurrentUtilization int64          `json:"current_utilization"`
	FreeCapacity       int64          `json:"free_capacity"`
	Percent            float64        `json:"percent"`
	Status             CapacityStatus `json:"status"`
}

// Reconciliation compares the ledger with the current state of a product.
type Reconciliation struct {
	ProductID   int64 `json:"product_id"`
	LedgerTotal int64 `json:"ledger_total"`
	OnHandTotal int64 `json:"on_hand_total"`
}

// Balanced reports whether ledger and state agree.
func (r Reconciliation) Balanced() bool {
	return r.LedgerTotal == r.OnHandTotal
}

func capacityStatus(pct float64) CapacityStatus {
	switch {
	case pct >= 90:
		return CapacityCritical
	case pct >= 75:
		return CapacityHigh
	case pct >= 50:
		return CapacityMedium
	default:
		return CapacityLow
	}
}
