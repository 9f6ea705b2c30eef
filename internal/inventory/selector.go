package inventory

import "sort"

// Candidate pairs a record with the warehouse holding it.
type Candidate struct {
	Record    Record
	Warehouse Warehouse
}

// SelectWarehouse picks the fulfillment location for qty units: only active
// warehouses whose record has Available >= qty qualify, Main warehouses come
// first and ties break on ascending warehouse id. It has no side effects.
func SelectWarehouse(candidates []Candidate, qty int64) (Candidate, bool) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Warehouse.Active || c.Record.Deleted {
			continue
		}
		if c.Record.Available() < qty {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := priority(eligible[i].Warehouse), priority(eligible[j].Warehouse)
		if pi != pj {
			return pi < pj
		}
		return eligible[i].Warehouse.ID < eligible[j].Warehouse.ID
	})
	return eligible[0], true
}

func priority(w Warehouse) int {
	if w.Type == WarehouseMain {
		return 0
	}
	return 1
}
