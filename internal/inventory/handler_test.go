package inventory_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

type apiFixture struct {
	*fixture
	router chi.Router
	main   inventory.Warehouse
	spare  inventory.Warehouse
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := newFixture(t)
	main := f.warehouse("MAIN", inventory.WarehouseMain, 20)
	spare := f.warehouse("SPARE", inventory.WarehouseRegional, 10)
	f.receive(t, f.product.ID, main.ID, 8)

	router := chi.NewRouter()
	router.Route("/api/inventory", inventory.NewHandler(nil, f.svc).MountRoutes)
	return &apiFixture{fixture: f, router: router, main: main, spare: spare}
}

func (a *apiFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestHandlerReserveAndRelease(t *testing.T) {
	a := newAPIFixture(t)

	rr := a.do(http.MethodPost, "/api/inventory/reservations",
		`{"order_id": 10, "user_id": "clerk", "items": [{"product_id": 1, "quantity": 3}]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Reservations []inventory.Reservation `json:"reservations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Len(t, created.Reservations, 1)
	require.Equal(t, a.main.ID, created.Reservations[0].WarehouseID)

	rr = a.do(http.MethodDelete, "/api/inventory/reservations/10?user_id=clerk", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"released": 1}`, rr.Body.String())

	rr = a.do(http.MethodDelete, "/api/inventory/reservations/10?user_id=clerk", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"released": 0}`, rr.Body.String())

	rr = a.do(http.MethodDelete, "/api/inventory/reservations/10", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerReserveInsufficientStock(t *testing.T) {
	a := newAPIFixture(t)

	rr := a.do(http.MethodPost, "/api/inventory/reservations",
		`{"order_id": 11, "user_id": "clerk", "items": [{"product_id": 1, "quantity": 30}]}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	p := decodeProblem(t, rr)
	require.Equal(t, "Insufficient Stock", p.Title)
	require.EqualValues(t, 8, p.Meta["available"])
	require.EqualValues(t, 30, p.Meta["requested"])
}

func TestHandlerRejectsInvalidBodies(t *testing.T) {
	a := newAPIFixture(t)
	cases := []struct {
		name   string
		target string
		body   string
		field  string
	}{
		{"missing items", "/api/inventory/reservations", `{"order_id": 1, "user_id": "u"}`, "Items"},
		{"zero quantity", "/api/inventory/reservations", `{"order_id": 1, "user_id": "u", "items": [{"product_id": 1, "quantity": 0}]}`, "Quantity"},
		{"bad movement type", "/api/inventory/adjustments", `{"product_id": 1, "warehouse_id": 2, "quantity": 1, "type": "Transfer", "user_id": "u"}`, "Type"},
		{"same warehouse", "/api/inventory/transfers", `{"product_id": 1, "from_warehouse_id": 2, "to_warehouse_id": 2, "quantity": 1, "user_id": "u"}`, "ToWarehouseID"},
		{"quantity without product", "/api/inventory/transfers", `{"from_warehouse_id": 2, "to_warehouse_id": 3, "quantity": 5, "user_id": "u"}`, "ProductID"},
		{"unknown field", "/api/inventory/transfers", `{"bogus": true}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := a.do(http.MethodPost, tc.target, tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			p := decodeProblem(t, rr)
			if tc.field != "" {
				require.Contains(t, p.Errors, tc.field)
			}
		})
	}
}

func TestHandlerTransferCapacityExceeded(t *testing.T) {
	a := newAPIFixture(t)
	f := a.fixture
	f.receive(t, f.product.ID, a.main.ID, 7)

	rr := a.do(http.MethodPost, "/api/inventory/transfers",
		`{"from_warehouse_id": 2, "to_warehouse_id": 3, "all": true, "user_id": "u"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	p := decodeProblem(t, rr)
	require.Equal(t, "Capacity Exceeded", p.Title)
	require.EqualValues(t, 15, p.Meta["required"])
	require.EqualValues(t, 10, p.Meta["free"])

	rr = a.do(http.MethodPost, "/api/inventory/transfers",
		`{"product_id": 1, "from_warehouse_id": 2, "to_warehouse_id": 3, "quantity": 4, "user_id": "u"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	f.requireConsistent(t)
}

func TestHandlerAvailabilityAndNotFound(t *testing.T) {
	a := newAPIFixture(t)

	rr := a.do(http.MethodGet, "/api/inventory/availability?product_id=1&warehouse_id=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"product_id": 1, "warehouse_id": 2, "available": 8}`, rr.Body.String())

	rr = a.do(http.MethodGet, "/api/inventory/availability?product_id=99", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(http.MethodGet, "/api/inventory/availability?product_id=1&warehouse_id=99", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(http.MethodGet, "/api/inventory/availability?product_id=abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerMovementsCursor(t *testing.T) {
	a := newAPIFixture(t)
	f := a.fixture
	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Minute)
		f.receive(t, f.product.ID, a.main.ID, 1)
	}

	rr := a.do(http.MethodGet, "/api/inventory/movements?product_id=1&limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Movements  []inventory.Movement `json:"movements"`
		NextCursor string               `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Movements, 2)
	require.NotEmpty(t, page.NextCursor)

	rr = a.do(http.MethodGet, "/api/inventory/movements?product_id=1&limit=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, rr.Code)
	page.NextCursor = ""
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Movements, 1)
	require.Equal(t, int64(8), page.Movements[0].Quantity)
	require.Empty(t, page.NextCursor)

	rr = a.do(http.MethodGet, "/api/inventory/movements", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(http.MethodGet, "/api/inventory/movements?product_id=1&cursor=!!!", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerWarehouseLifecycle(t *testing.T) {
	a := newAPIFixture(t)

	rr := a.do(http.MethodGet, "/api/inventory/warehouses/capacity", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report struct {
		Warehouses []inventory.CapacityRow `json:"warehouses"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Len(t, report.Warehouses, 2)
	require.Equal(t, a.main.ID, report.Warehouses[0].WarehouseID)

	rr = a.do(http.MethodPost, "/api/inventory/warehouses/2/deactivate", `{"user_id": "u"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(http.MethodPost, "/api/inventory/warehouses/3/deactivate", `{"user_id": "u"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = a.do(http.MethodPost, "/api/inventory/warehouses/2/recalculate", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(http.MethodGet, "/api/inventory/products/1/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"product_id": 1, "ledger_total": 8, "on_hand_total": 8, "balanced": true}`, rr.Body.String())

	rr = a.do(http.MethodGet, "/api/inventory/low-stock?warehouse_id=x", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCursorTokenRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 123, time.UTC)
	c, err := inventory.DecodeCursor(inventory.EncodeCursor(inventory.MovementCursor{CreatedAt: at, ID: 42}))
	require.NoError(t, err)
	require.True(t, at.Equal(c.CreatedAt))
	require.Equal(t, int64(42), c.ID)

	_, err = inventory.DecodeCursor("bm9waXBl")
	require.Error(t, err)
}

func TestHandlerProductReconcileAndValue(t *testing.T) {
	a := newAPIFixture(t)

	rr := a.do(http.MethodGet, "/api/inventory/products/1/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"product_id": 1, "ledger_total": 8, "on_hand_total": 8, "balanced": true}`, rr.Body.String())

	rr = a.do(http.MethodGet, "/api/inventory/products/1/value", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"product_id": 1, "value_on_hand": "20.00"}`, rr.Body.String())

	rr = a.do(http.MethodGet, "/api/inventory/products/404/value", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
