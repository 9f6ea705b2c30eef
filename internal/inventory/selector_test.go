package inventory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func candidate(warehouseID int64, typ WarehouseType, onHand, reserved int64, active bool) Candidate {
	return Candidate{
		Record:    Record{ID: warehouseID * 10, WarehouseID: warehouseID, OnHand: onHand, Reserved: reserved},
		Warehouse: Warehouse{ID: warehouseID, Type: typ, Active: active},
	}
}

func TestSelectWarehouse(t *testing.T) {
	cases := []struct {
		name       string
		candidates []Candidate
		qty        int64
		want       int64
		ok         bool
	}{
		{
			name: "main first",
			candidates: []Candidate{
				candidate(1, WarehouseRegional, 10, 0, true),
				candidate(2, WarehouseMain, 10, 0, true),
			},
			qty: 5, want: 2, ok: true,
		},
		{
			name: "ties break on id",
			candidates: []Candidate{
				candidate(7, WarehouseOutlet, 10, 0, true),
				candidate(3, WarehouseRegional, 10, 0, true),
			},
			qty: 5, want: 3, ok: true,
		},
		{
			name: "reserved stock is not available",
			candidates: []Candidate{
				candidate(1, WarehouseMain, 10, 8, true),
				candidate(2, WarehouseRegional, 5, 0, true),
			},
			qty: 4, want: 2, ok: true,
		},
		{
			name: "inactive warehouse skipped",
			candidates: []Candidate{
				candidate(1, WarehouseMain, 10, 0, false),
				candidate(2, WarehouseTemporary, 10, 0, true),
			},
			qty: 10, want: 2, ok: true,
		},
		{
			name: "split stock",
			candidates: []Candidate{
				candidate(1, WarehouseMain, 3, 0, true),
				candidate(2, WarehouseRegional, 3, 0, true),
			},
			qty: 5,
		},
		{name: "no candidates", qty: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SelectWarehouse(tc.candidates, tc.qty)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, tc.want, got.Warehouse.ID)
			}
		})
	}
}

func TestCapacityStatusBuckets(t *testing.T) {
	require.Equal(t, CapacityCritical, capacityStatus(90))
	require.Equal(t, CapacityHigh, capacityStatus(89.9))
	require.Equal(t, CapacityHigh, capacityStatus(75))
	require.Equal(t, CapacityMedium, capacityStatus(50))
	require.Equal(t, CapacityLow, capacityStatus(49.99))
}

func TestWarehouseUtilizationPercent(t *testing.T) {
	require.InDelta(t, 40.0, Warehouse{MaxCapacity: 50, CurrentUtilization: 20}.UtilizationPercent(), 0.001)
	require.Zero(t, Warehouse{}.UtilizationPercent())
	require.Equal(t, int64(0), Warehouse{MaxCapacity: 5, CurrentUtilization: 9}.FreeCapacity())
}
