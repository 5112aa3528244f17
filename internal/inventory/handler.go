package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/wareline/wareline/internal/platform/httpx"
	"github.com/wareline/wareline/internal/shared"
)

const (
	mutationRateLimit  = 30
	mutationRateWindow = time.Minute
)

// Handler wires HTTP endpoints for the ledger and transfer API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleGetStock)
	r.Get("/stock/{recordID}/history", h.handleHistory)
	r.Get("/transfers", h.handleListTransfers)
	r.Get("/transfers/{transferID}", h.handleGetTransfer)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(mutationRateLimit, mutationRateWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/stock/add", h.handleAddStock)
		r.Post("/stock/reduce", h.handleReduceStock)
		r.Post("/stock/set", h.handleSetStock)
		r.Put("/stock/threshold", h.handleSetThreshold)
		r.Post("/transfers", h.handleCreateTransfer)
		r.Post("/transfers/batch", h.handleCreateBatch)
		r.Patch("/transfers/{transferID}/status", h.handleUpdateStatus)
		r.Post("/transfers/{transferID}/cancel", h.handleCancel)
	})
}

type stockMutationRequest struct {
	SKUID    int64          `json:"sku_id" validate:"required,gt=0"`
	StoreID  int64          `json:"store_id" validate:"required,gt=0"`
	Amount   int64          `json:"amount" validate:"required"`
	ActorID  int64          `json:"actor_id" validate:"required,gt=0"`
	Note     string         `json:"note"`
	Metadata map[string]any `json:"metadata"`
}

type setStockRequest struct {
	SKUID    int64          `json:"sku_id" validate:"required,gt=0"`
	StoreID  int64          `json:"store_id" validate:"required,gt=0"`
	Quantity *int64         `json:"quantity" validate:"required"`
	ActorID  int64          `json:"actor_id" validate:"required,gt=0"`
	Note     string         `json:"note"`
	Metadata map[string]any `json:"metadata"`
}

type thresholdRequest struct {
	SKUID     int64  `json:"sku_id" validate:"required,gt=0"`
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	Threshold *int64 `json:"threshold" validate:"required"`
	ActorID   int64  `json:"actor_id" validate:"required,gt=0"`
}

type createTransferRequest struct {
	FromStoreID    int64  `json:"from_store_id" validate:"required,gt=0"`
	ToStoreID      int64  `json:"to_store_id" validate:"required,gt=0"`
	SKUID          int64  `json:"sku_id" validate:"required,gt=0"`
	Quantity       int64  `json:"quantity" validate:"required"`
	Status         string `json:"status"`
	ActorID        int64  `json:"actor_id" validate:"required,gt=0"`
	Note           string `json:"note"`
	OrderID        *int64 `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type batchItemRequest struct {
	FromStoreID int64  `json:"from_store_id" validate:"required,gt=0"`
	ToStoreID   int64  `json:"to_store_id" validate:"required,gt=0"`
	SKUID       int64  `json:"sku_id" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required"`
	Status      string `json:"status"`
	Note        string `json:"note"`
}

type createBatchRequest struct {
	Items   []batchItemRequest `json:"items" validate:"required,min=1,dive"`
	ActorID int64              `json:"actor_id" validate:"required,gt=0"`
	OrderID *int64             `json:"order_id"`
}

type updateStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
}

type cancelRequest struct {
	Reason  string `json:"reason"`
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
}

type stockResponse struct {
	Record     StockRecord `json:"record"`
	LowStock   bool        `json:"low_stock"`
	OutOfStock bool        `json:"out_of_stock"`
}

type historyResponse struct {
	Transactions []StockTransaction `json:"transactions"`
	Pagination   shared.Pagination  `json:"pagination"`
}

type transferListResponse struct {
	Transfers  []Transfer        `json:"transfers"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleAddStock(w http.ResponseWriter, r *http.Request) {
	var req stockMutationRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.AddStock(r.Context(), AddStockInput{
		SKUID: req.SKUID, StoreID: req.StoreID, Amount: req.Amount,
		ActorID: req.ActorID, Note: req.Note, Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, "add stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockResponse(rec))
}

func (h *Handler) handleReduceStock(w http.ResponseWriter, r *http.Request) {
	var req stockMutationRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.ReduceStock(r.Context(), ReduceStockInput{
		SKUID: req.SKUID, StoreID: req.StoreID, Amount: req.Amount,
		ActorID: req.ActorID, Note: req.Note, Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, "reduce stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockResponse(rec))
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.SetStock(r.Context(), SetStockInput{
		SKUID: req.SKUID, StoreID: req.StoreID, Quantity: *req.Quantity,
		ActorID: req.ActorID, Note: req.Note, Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, "set stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockResponse(rec))
}

func (h *Handler) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.service.SetLowStockThreshold(r.Context(), SetThresholdInput{
		SKUID: req.SKUID, StoreID: req.StoreID, Threshold: *req.Threshold, ActorID: req.ActorID,
	})
	if err != nil {
		h.respondError(w, r, "set threshold", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockResponse(rec))
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	skuID := queryInt64(r, "sku_id")
	storeID := queryInt64(r, "store_id")
	if skuID <= 0 || storeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sku_id and store_id are required")
		return
	}
	rec, err := h.service.GetStock(r.Context(), skuID, storeID)
	if err != nil {
		h.respondError(w, r, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newStockResponse(rec))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	recordID, err := strconv.ParseInt(chi.URLParam(r, "recordID"), 10, 64)
	if err != nil || recordID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stock record id")
		return
	}
	filter := HistoryFilter{
		StockRecordID: recordID,
		Type:          TransactionType(r.URL.Query().Get("type")),
		Page:          int(queryInt64(r, "page")),
		PerPage:       int(queryInt64(r, "per_page")),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	txns, page, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, historyResponse{Transactions: txns, Pagination: page})
}

func (h *Handler) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.service.CreateTransfer(r.Context(), CreateTransferInput{
		FromStoreID:    req.FromStoreID,
		ToStoreID:      req.ToStoreID,
		SKUID:          req.SKUID,
		Quantity:       req.Quantity,
		Status:         TransferStatus(req.Status),
		ActorID:        req.ActorID,
		Note:           req.Note,
		OrderID:        req.OrderID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(w, r, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]TransferBatchItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = TransferBatchItem{
			FromStoreID: item.FromStoreID,
			ToStoreID:   item.ToStoreID,
			SKUID:       item.SKUID,
			Quantity:    item.Quantity,
			Status:      TransferStatus(item.Status),
			Note:        item.Note,
		}
	}
	transfers, err := h.service.CreateTransferBatch(r.Context(), CreateTransferBatchInput{
		Items: items, ActorID: req.ActorID, OrderID: req.OrderID,
	})
	if err != nil {
		h.respondError(w, r, "create transfer batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transfers": transfers})
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil || transferID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	var req updateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.service.UpdateTransferStatus(r.Context(), transferID, TransferStatus(req.Status), req.ActorID)
	if err != nil {
		h.respondError(w, r, "update transfer status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil || transferID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.service.CancelTransfer(r.Context(), transferID, req.Reason, req.ActorID)
	if err != nil {
		h.respondError(w, r, "cancel transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil || transferID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		h.respondError(w, r, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	filter := TransferFilter{
		Status:  TransferStatus(r.URL.Query().Get("status")),
		StoreID: queryInt64(r, "store_id"),
		SKUID:   queryInt64(r, "sku_id"),
		Page:    int(queryInt64(r, "page")),
		PerPage: int(queryInt64(r, "per_page")),
	}
	transfers, page, err := h.service.ListTransfers(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list transfers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transferListResponse{Transfers: transfers, Pagination: page})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", err.Error())
	case errors.Is(err, ErrInvalidTransfer):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transfer", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrTransferFailed):
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Transfer Failed", "transfer aborted; stock was not moved")
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func newStockResponse(rec StockRecord) stockResponse {
	return stockResponse{Record: rec, LowStock: rec.IsLowStock(), OutOfStock: rec.IsOutOfStock()}
}

func queryInt64(r *http.Request, key string) int64 {
	value, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return value
}
