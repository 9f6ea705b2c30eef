// Package memstore is an in-process inventory.Store. One mutex is held for
// the whole transaction; work happens on a copy of the state that replaces
// the live state only when the callback succeeds.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type pairKey struct {
	productID   int64
	warehouseID int64
}

type state struct {
	products     map[int64]inventory.Product
	warehouses   map[int64]inventory.Warehouse
	records      map[int64]inventory.Record
	pairs        map[pairKey]int64
	reservations map[int64]inventory.Reservation
	movements    []inventory.Movement
	seq          int64
}

func newState() *state {
	return &state{
		products:     make(map[int64]inventory.Product),
		warehouses:   make(map[int64]inventory.Warehouse),
		records:      make(map[int64]inventory.Record),
		pairs:        make(map[pairKey]int64),
		reservations: make(map[int64]inventory.Reservation),
	}
}

func (s *state) clone() *state {
	return &state{
		products:     maps.Clone(s.products),
		warehouses:   maps.Clone(s.warehouses),
		records:      maps.Clone(s.records),
		pairs:        maps.Clone(s.pairs),
		reservations: maps.Clone(s.reservations),
		movements:    slices.Clone(s.movements),
		seq:          s.seq,
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store implements inventory.Store in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a snapshot and publishes it when fn and ctx are
// both still good.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// AddProduct seeds a product and returns it with its id.
func (s *Store) AddProduct(p inventory.Product) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.state.nextID()
	} else if p.ID > s.state.seq {
		s.state.seq = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.state.products[p.ID] = p
	return p
}

// AddWarehouse seeds a warehouse and returns it with its id.
func (s *Store) AddWarehouse(w inventory.Warehouse) inventory.Warehouse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		w.ID = s.state.nextID()
	} else if w.ID > s.state.seq {
		s.state.seq = w.ID
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	s.state.warehouses[w.ID] = w
	return w
}

// SetProduct replaces a seeded product, e.g. to tombstone it.
func (s *Store) SetProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

// Record returns the committed record of a pair.
func (s *Store) Record(productID, warehouseID int64) (inventory.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.pairs[pairKey{productID, warehouseID}]
	if !ok {
		return inventory.Record{}, false
	}
	return s.state.records[id], true
}

// Warehouse returns the committed warehouse.
func (s *Store) Warehouse(id int64) (inventory.Warehouse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.state.warehouses[id]
	return w, ok
}

// Records returns every committed record ordered by id.
func (s *Store) Records() []inventory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.state.records))
	slices.SortFunc(out, func(a, b inventory.Record) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Reservations returns every committed reservation ordered by id.
func (s *Store) Reservations() []inventory.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.state.reservations))
	slices.SortFunc(out, func(a, b inventory.Reservation) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Movements returns the committed ledger in append order.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.movements)
}
