package inventory

import (
	"errors"
	"time"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeAddition represents inbound stock (purchase receiving, returns).
	TransactionTypeAddition TransactionType = "ADDITION"
	// TransactionTypeReduction represents outbound stock (order fulfillment).
	TransactionTypeReduction TransactionType = "REDUCTION"
	// TransactionTypeAdjustment represents a manual set to an absolute quantity.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	// TransactionTypeTransferIn credits the destination store of a transfer.
	TransactionTypeTransferIn TransactionType = "TRANSFER_IN"
	// TransactionTypeTransferOut debits the source store of a transfer.
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
	// TransactionTypeTransferCancel restores the source store of a cancelled transfer.
	TransactionTypeTransferCancel TransactionType = "TRANSFER_CANCEL"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeAddition, TransactionTypeReduction, TransactionTypeAdjustment,
		TransactionTypeTransferIn, TransactionTypeTransferOut, TransactionTypeTransferCancel:
		return true
	}
	return false
}

// TransferStatus enumerates the transfer workflow states.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusInTransit TransferStatus = "IN_TRANSIT"
	TransferStatusCompleted TransferStatus = "COMPLETED"
	TransferStatusCancelled TransferStatus = "CANCELLED"
)

// Valid reports whether s is a known transfer status.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferStatusPending, TransferStatusInTransit, TransferStatusCompleted, TransferStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s TransferStatus) Terminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal state change.
// Same-status transitions are handled by callers as no-ops.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TransferStatusPending:
		return next == TransferStatusInTransit || next == TransferStatusCompleted || next == TransferStatusCancelled
	case TransferStatusInTransit:
		return next == TransferStatusCompleted || next == TransferStatusCancelled
	}
	return false
}

// Metadata is an opaque key-value map stored alongside a transaction,
// used to cross-reference the originating transfer or order.
type Metadata map[string]any

// MetadataKeyTransferID links a transaction to its transfer.
const MetadataKeyTransferID = "transfer_id"

// StockRecord tracks quantity and alert threshold for one SKU at one store.
// Records are created lazily with quantity zero on first reference.
type StockRecord struct {
	ID                int64     `json:"id"`
	SKUID             int64     `json:"sku_id"`
	StoreID           int64     `json:"store_id"`
	Quantity          int64     `json:"quantity"`
	LowStockThreshold int64     `json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLowStock reports whether quantity is at or below the alert threshold.
func (r StockRecord) IsLowStock() bool {
	return r.Quantity <= r.LowStockThreshold
}

// IsOutOfStock reports whether the record holds no stock.
func (r StockRecord) IsOutOfStock() bool {
	return r.Quantity == 0
}

// StockTransaction is the append-only audit record of one stock mutation.
// Rows are never updated or deleted once written.
type StockTransaction struct {
	ID             int64           `json:"id"`
	StockRecordID  int64           `json:"stock_record_id"`
	ActorID        int64           `json:"actor_id"`
	Type           TransactionType `json:"type"`
	Delta          int64           `json:"delta"`
	QuantityBefore int64           `json:"quantity_before"`
	QuantityAfter  int64           `json:"quantity_after"`
	Note           string          `json:"note"`
	Metadata       Metadata        `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Transfer moves a fixed quantity of one SKU between two stores.
type Transfer struct {
	ID          int64          `json:"id"`
	FromStoreID int64          `json:"from_store_id"`
	ToStoreID   int64          `json:"to_store_id"`
	SKUID       int64          `json:"sku_id"`
	Quantity    int64          `json:"quantity"`
	Status      TransferStatus `json:"status"`
	ActorID     int64          `json:"actor_id"`
	Note        string         `json:"note"`
	OrderID     *int64         `json:"order_id,omitempty"`
	// BatchID groups transfers created by one batch request.
	BatchID   string    `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddStockInput describes an inbound movement request.
type AddStockInput struct {
	SKUID    int64
	StoreID  int64
	Amount   int64
	ActorID  int64
	Note     string
	Metadata Metadata
}

// ReduceStockInput describes an outbound movement request.
type ReduceStockInput struct {
	SKUID    int64
	StoreID  int64
	Amount   int64
	ActorID  int64
	Note     string
	Metadata Metadata
}

// SetStockInput describes a request to set an absolute quantity.
type SetStockInput struct {
	SKUID    int64
	StoreID  int64
	Quantity int64
	ActorID  int64
	Note     string
	Metadata Metadata
}

// SetThresholdInput updates the low-stock alert threshold of a record.
// Threshold changes are configuration, not stock, so no transaction is written.
type SetThresholdInput struct {
	SKUID     int64
	StoreID   int64
	Threshold int64
	ActorID   int64
}

// CreateTransferInput describes a transfer creation request. Status defaults
// to COMPLETED (immediate execution) when empty.
type CreateTransferInput struct {
	FromStoreID    int64
	ToStoreID      int64
	SKUID          int64
	Quantity       int64
	Status         TransferStatus
	ActorID        int64
	Note           string
	OrderID        *int64
	IdempotencyKey string
}

// TransferBatchItem is one transfer inside an all-or-nothing batch.
type TransferBatchItem struct {
	FromStoreID int64
	ToStoreID   int64
	SKUID       int64
	Quantity    int64
	Status      TransferStatus
	Note        string
}

// CreateTransferBatchInput creates many transfers in a single atomic unit.
type CreateTransferBatchInput struct {
	Items   []TransferBatchItem
	ActorID int64
	OrderID *int64
}

// HistoryFilter selects transactions for one stock record.
type HistoryFilter struct {
	StockRecordID int64
	From          time.Time
	To            time.Time
	Type          TransactionType
	Page          int
	PerPage       int
}

// TransferFilter selects transfers for listing.
type TransferFilter struct {
	Status  TransferStatus
	StoreID int64
	SKUID   int64
	Page    int
	PerPage int
}

// ErrInvalidAmount indicates a non-positive amount or negative target quantity.
var ErrInvalidAmount = errors.New("inventory: amount must be positive")

// ErrInsufficientStock indicates a debit exceeding available quantity.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrInvalidTransfer indicates an unusable transfer request (same store, bad status).
var ErrInvalidTransfer = errors.New("inventory: invalid transfer")

// ErrInvalidTransition indicates an illegal transfer status change.
var ErrInvalidTransition = errors.New("inventory: invalid transfer status transition")

// ErrTransferFailed indicates a transfer aborted mid-flight; the source has
// been restored but the failure needs operator attention.
var ErrTransferFailed = errors.New("inventory: transfer failed")

// ErrNotFound indicates an unknown stock record or transfer.
var ErrNotFound = errors.New("inventory: not found")
