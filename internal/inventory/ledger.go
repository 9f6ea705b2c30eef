package inventory

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultMovementPage = 200

// Ledger is the append-only log of stock movements.
type Ledger struct {
	coord *Coordinator
	now   func() time.Time
}

// NewLedger builds a Ledger. Reads go through coord; appends use the tx of
// the caller's scope.
func NewLedger(coord *Coordinator, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{coord: coord, now: now}
}

// Append writes one movement. It must run in the same tx as the matching
// Records.ApplyDelta call.
func (l *Ledger) Append(ctx context.Context, tx Tx, m Movement) (Movement, error) {
	if m.Quantity == 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if !m.Type.Valid() {
		return Movement{}, validationf("unknown movement type %q", m.Type)
	}
	if m.ProductID == 0 {
		return Movement{}, validationf("movement requires product")
	}
	if m.FromWarehouseID == nil && m.ToWarehouseID == nil {
		return Movement{}, validationf("movement requires a warehouse")
	}
	if m.UnitCost.IsNegative() {
		return Movement{}, validationf("unit cost must be >= 0")
	}
	m.ID = 0
	m.CreatedAt = l.now()
	m.TotalCost = m.UnitCost.Mul(absDecimal(m.Quantity))
	if strings.TrimSpace(m.ReferenceNumber) == "" {
		m.ReferenceNumber = referenceNumber(m.Type)
	}
	return tx.InsertMovement(ctx, m)
}

// MovementsFor yields movements matching filter, newest first. Each call
// runs fresh queries page by page, so the sequence can be ranged again.
func (l *Ledger) MovementsFor(ctx context.Context, filter MovementFilter) iter.Seq2[Movement, error] {
	return func(yield func(Movement, error) bool) {
		page := filter
		if page.Limit <= 0 {
			page.Limit = defaultMovementPage
		}
		for {
			rows, err := l.page(ctx, page)
			if err != nil {
				yield(Movement{}, err)
				return
			}
			for _, m := range rows {
				if !yield(m, nil) {
					return
				}
			}
			if len(rows) < page.Limit {
				return
			}
			last := rows[len(rows)-1]
			page.Cursor = &MovementCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Page returns one keyset page of movements.
func (l *Ledger) Page(ctx context.Context, filter MovementFilter) (MovementPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultMovementPage
	}
	rows, err := l.page(ctx, filter)
	if err != nil {
		return MovementPage{}, err
	}
	out := MovementPage{Movements: rows}
	if len(rows) == filter.Limit {
		last := rows[len(rows)-1]
		out.NextCursor = &MovementCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, nil
}

func (l *Ledger) page(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var rows []Movement
	err := l.coord.Do(ctx, "ledger.list", func(ctx context.Context, tx Tx) error {
		var err error
		rows, err = tx.ListMovements(ctx, filter)
		return err
	})
	return rows, err
}

func referenceNumber(t MovementType) string {
	prefix := "MOV"
	switch t {
	case MovementReceipt:
		prefix = "RCV"
	case MovementShipment:
		prefix = "SHP"
	case MovementTransfer:
		prefix = "TRF"
	case MovementAdjustment:
		prefix = "ADJ"
	case MovementReturn:
		prefix = "RET"
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}

func absDecimal(qty int64) decimal.Decimal {
	if qty < 0 {
		qty = -qty
	}
	return decimal.NewFromInt(qty)
}
