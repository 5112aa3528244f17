package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateTransferBatch creates every transfer in the input as one
// all-or-nothing unit. Before anything is written, each source record is
// row-locked and checked against the total quantity the batch requests from
// it; a shortfall aborts the whole batch naming the offending SKU. Items
// with status COMPLETED execute their stock movements inside the same
// transaction.
func (s *Service) CreateTransferBatch(ctx context.Context, input CreateTransferBatchInput) ([]Transfer, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: batch requires at least one item", ErrInvalidTransfer)
	}

	items := make([]TransferBatchItem, len(input.Items))
	copy(items, input.Items)
	required := make(map[recordKey]int64)
	keys := make([]recordKey, 0, len(items)*2)
	for i, item := range items {
		if item.FromStoreID == 0 || item.ToStoreID == 0 || item.SKUID == 0 {
			return nil, fmt.Errorf("%w: item %d: stores and sku required", ErrInvalidTransfer, i)
		}
		if item.FromStoreID == item.ToStoreID {
			return nil, fmt.Errorf("%w: item %d: source and destination store must differ", ErrInvalidTransfer, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d", ErrInvalidAmount, i)
		}
		if item.Status == "" {
			items[i].Status = TransferStatusCompleted
		} else if item.Status != TransferStatusPending && item.Status != TransferStatusCompleted {
			return nil, fmt.Errorf("%w: item %d: initial status must be PENDING or COMPLETED", ErrInvalidTransfer, i)
		}
		src := recordKey{skuID: item.SKUID, storeID: item.FromStoreID}
		dst := recordKey{skuID: item.SKUID, storeID: item.ToStoreID}
		required[src] += item.Quantity
		keys = append(keys, src, dst)
	}

	batchID := uuid.NewString()

	var transfers []Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledger := newLedgerTx(tx, s.threshold)
		if err := ledger.lockAll(ctx, keys); err != nil {
			return err
		}

		// Availability is checked against the sum a source must give up
		// across the whole batch, not per item, so two items draining the
		// same record cannot both pass.
		for key, qty := range required {
			rec, err := ledger.record(ctx, key.skuID, key.storeID)
			if err != nil {
				return err
			}
			if rec.Quantity < qty {
				return fmt.Errorf("%w: sku %d at store %d has %d, batch needs %d",
					ErrInsufficientStock, key.skuID, key.storeID, rec.Quantity, qty)
			}
		}

		transfers = make([]Transfer, 0, len(items))
		for _, item := range items {
			transfer := Transfer{
				FromStoreID: item.FromStoreID,
				ToStoreID:   item.ToStoreID,
				SKUID:       item.SKUID,
				Quantity:    item.Quantity,
				Status:      item.Status,
				ActorID:     input.ActorID,
				Note:        item.Note,
				OrderID:     input.OrderID,
				BatchID:     batchID,
			}
			id, err := tx.InsertTransfer(ctx, transfer)
			if err != nil {
				return err
			}
			transfer.ID = id
			if transfer.Status == TransferStatusCompleted {
				if _, err := ledger.apply(ctx, s.debitMovement(transfer, input.ActorID)); err != nil {
					return err
				}
				if _, err := ledger.apply(ctx, s.creditMovement(transfer, input.ActorID)); err != nil {
					return s.asTransferFailure(err)
				}
			}
			transfers = append(transfers, transfer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, transfer := range transfers {
		s.afterTransfer(ctx, "inventory:transfer_batch", transfer)
		if transfer.Status == TransferStatusCompleted {
			if err := s.notifyCompleted(ctx, transfer); err != nil {
				return transfers, err
			}
		}
	}
	return transfers, nil
}
