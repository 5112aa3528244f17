package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	svc := newTestService(newMemoryRepo())
	handler := NewHandler(nil, svc)
	router := chi.NewRouter()
	router.Route("/inventory", handler.MountRoutes)
	return router, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerAddAndGetStock(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/inventory/stock/add", map[string]any{
		"sku_id": 1, "store_id": 10, "amount": 40, "actor_id": 7,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp stockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.EqualValues(t, 40, resp.Record.Quantity)
	require.False(t, resp.LowStock)

	rr = doJSON(t, router, http.MethodGet, "/inventory/stock?sku_id=1&store_id=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlerValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/inventory/stock/add", map[string]any{
		"sku_id": 1, "store_id": 10, "actor_id": 7,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/inventory/stock?sku_id=1", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerInsufficientStockConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/inventory/stock/add", map[string]any{
		"sku_id": 1, "store_id": 10, "amount": 3, "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/inventory/stock/reduce", map[string]any{
		"sku_id": 1, "store_id": 10, "amount": 5, "actor_id": 1,
	})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestHandlerSetStockAndHistory(t *testing.T) {
	router, svc := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/inventory/stock/set", map[string]any{
		"sku_id": 2, "store_id": 10, "quantity": 25, "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rec, err := svc.GetStock(context.Background(), 2, 10)
	require.NoError(t, err)

	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/stock/%d/history?type=ADJUSTMENT", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	require.Equal(t, TransactionTypeAdjustment, resp.Transactions[0].Type)

	// Ranged lookups: a past-only window excludes today's transaction.
	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/stock/%d/history?from=2000-01-01&to=2000-12-31", rec.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = historyResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Empty(t, resp.Transactions)

	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/stock/%d/history?from=not-a-date", rec.ID), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerTransferLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/inventory/stock/add", map[string]any{
		"sku_id": 1, "store_id": 10, "amount": 30, "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/inventory/transfers", map[string]any{
		"from_store_id": 10, "to_store_id": 20, "sku_id": 1, "quantity": 10,
		"status": "PENDING", "actor_id": 1,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var transfer Transfer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &transfer))
	require.Equal(t, TransferStatusPending, transfer.Status)

	rr = doJSON(t, router, http.MethodPatch, fmt.Sprintf("/inventory/transfers/%d/status", transfer.ID), map[string]any{
		"status": "IN_TRANSIT", "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, fmt.Sprintf("/inventory/transfers/%d/cancel", transfer.ID), map[string]any{
		"reason": "store closed", "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &transfer))
	require.Equal(t, TransferStatusCancelled, transfer.Status)

	// Cancelling again conflicts: the transfer is terminal.
	rr = doJSON(t, router, http.MethodPost, fmt.Sprintf("/inventory/transfers/%d/cancel", transfer.ID), map[string]any{
		"reason": "again", "actor_id": 1,
	})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/inventory/transfers?status=CANCELLED", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list transferListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Transfers, 1)
}

func TestHandlerTransferBatch(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/inventory/stock/add", map[string]any{
		"sku_id": 1, "store_id": 10, "amount": 50, "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/inventory/transfers/batch", map[string]any{
		"actor_id": 1,
		"items": []map[string]any{
			{"from_store_id": 10, "to_store_id": 20, "sku_id": 1, "quantity": 10},
			{"from_store_id": 10, "to_store_id": 30, "sku_id": 1, "quantity": 10},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/inventory/stock?sku_id=1&store_id=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp stockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.EqualValues(t, 30, resp.Record.Quantity)
}

func TestHandlerUnknownTransfer(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := doJSON(t, router, http.MethodGet, "/inventory/transfers/999", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerThreshold(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPut, "/inventory/stock/threshold", map[string]any{
		"sku_id": 1, "store_id": 10, "threshold": 12, "actor_id": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp stockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.EqualValues(t, 12, resp.Record.LowStockThreshold)
	require.True(t, resp.LowStock)
	require.True(t, resp.OutOfStock)
}
