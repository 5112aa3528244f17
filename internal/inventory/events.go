package inventory

import "time"

// TransferCompletedEvent is emitted after a transfer's stock has moved, so
// order-driven reallocation can react to completions.
type TransferCompletedEvent struct {
	TransferID  int64
	FromStoreID int64
	ToStoreID   int64
	SKUID       int64
	Quantity    int64
	ActorID     int64
	CompletedAt time.Time
}
