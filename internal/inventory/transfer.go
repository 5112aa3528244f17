package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wareline/wareline/internal/shared"
)

// CreateTransfer creates a cross-store transfer. With status COMPLETED (the
// default) the stock moves immediately: the source debit, destination credit,
// and transfer row commit together or not at all, so a failed debit leaves no
// transfer behind and a failed credit rolls the debit back.
func (s *Service) CreateTransfer(ctx context.Context, input CreateTransferInput) (Transfer, error) {
	if input.FromStoreID == 0 || input.ToStoreID == 0 || input.SKUID == 0 {
		return Transfer{}, fmt.Errorf("%w: stores and sku required", ErrInvalidTransfer)
	}
	if input.FromStoreID == input.ToStoreID {
		return Transfer{}, fmt.Errorf("%w: source and destination store must differ", ErrInvalidTransfer)
	}
	if input.Quantity <= 0 {
		return Transfer{}, ErrInvalidAmount
	}
	status := input.Status
	if status == "" {
		status = TransferStatusCompleted
	}
	if status != TransferStatusPending && status != TransferStatusCompleted {
		return Transfer{}, fmt.Errorf("%w: initial status must be PENDING or COMPLETED", ErrInvalidTransfer)
	}

	insertedKey := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "transfers"); err != nil {
			return Transfer{}, err
		}
		insertedKey = true
	}

	transfer := Transfer{
		FromStoreID: input.FromStoreID,
		ToStoreID:   input.ToStoreID,
		SKUID:       input.SKUID,
		Quantity:    input.Quantity,
		Status:      status,
		ActorID:     input.ActorID,
		Note:        input.Note,
		OrderID:     input.OrderID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		if status == TransferStatusCompleted {
			ledger := newLedgerTx(tx, s.threshold)
			if err := s.moveStock(ctx, ledger, transfer); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Transfer{}, err
	}

	s.afterTransfer(ctx, "inventory:transfer_create", transfer)
	if status == TransferStatusCompleted {
		if err := s.notifyCompleted(ctx, transfer); err != nil {
			return transfer, err
		}
	}
	return transfer, nil
}

// UpdateTransferStatus advances the transfer workflow. The status write and
// any stock movement commit in the same database transaction, so a failure
// leaves both the transfer and the ledger untouched.
func (s *Service) UpdateTransferStatus(ctx context.Context, transferID int64, newStatus TransferStatus, actorID int64) (Transfer, error) {
	if !newStatus.Valid() {
		return Transfer{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}
	if newStatus == TransferStatusCancelled {
		return s.CancelTransfer(ctx, transferID, "", actorID)
	}

	var transfer Transfer
	changed := false
	completed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		transfer = current
		if current.Status == newStatus {
			return nil
		}
		if !current.Status.CanTransitionTo(newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, newStatus)
		}

		ledger := newLedgerTx(tx, s.threshold)
		switch {
		case current.Status == TransferStatusPending && newStatus == TransferStatusInTransit:
			if _, err := ledger.apply(ctx, s.debitMovement(current, actorID)); err != nil {
				return err
			}
		case current.Status == TransferStatusPending && newStatus == TransferStatusCompleted:
			if err := s.moveStock(ctx, ledger, current); err != nil {
				return err
			}
		case current.Status == TransferStatusInTransit && newStatus == TransferStatusCompleted:
			// Source was debited on IN_TRANSIT entry; only the credit remains.
			if _, err := ledger.apply(ctx, s.creditMovement(current, actorID)); err != nil {
				return s.asTransferFailure(err)
			}
		}

		if err := tx.UpdateTransferStatus(ctx, current.ID, newStatus, current.Note); err != nil {
			return err
		}
		transfer.Status = newStatus
		changed = true
		completed = newStatus == TransferStatusCompleted
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	if !changed {
		return transfer, nil
	}

	s.afterTransfer(ctx, "inventory:transfer_status", transfer)
	if completed {
		if err := s.notifyCompleted(ctx, transfer); err != nil {
			return transfer, err
		}
	}
	return transfer, nil
}

// CancelTransfer cancels a PENDING or IN_TRANSIT transfer. An IN_TRANSIT
// cancellation credits the already-debited quantity back to the source with
// a TRANSFER_CANCEL transaction carrying the reason.
func (s *Service) CancelTransfer(ctx context.Context, transferID int64, reason string, actorID int64) (Transfer, error) {
	var transfer Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, TransferStatusCancelled)
		}

		if current.Status == TransferStatusInTransit {
			ledger := newLedgerTx(tx, s.threshold)
			restore := s.creditMovement(current, actorID)
			restore.StoreID = current.FromStoreID
			restore.Type = TransactionTypeTransferCancel
			restore.Note = cancelNote(reason)
			if _, err := ledger.apply(ctx, restore); err != nil {
				return s.asTransferFailure(err)
			}
		}

		// Reasons accumulate in front of the prior notes; the history is
		// part of the audit trail and is never overwritten.
		note := cancelNote(reason)
		if current.Note != "" {
			note = note + "\n" + current.Note
		}
		if err := tx.UpdateTransferStatus(ctx, current.ID, TransferStatusCancelled, note); err != nil {
			return err
		}
		current.Status = TransferStatusCancelled
		current.Note = note
		transfer = current
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	s.afterTransfer(ctx, "inventory:transfer_cancel", transfer)
	return transfer, nil
}

// GetTransfer loads one transfer.
func (s *Service) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// ListTransfers lists transfers matching the filter, newest first.
func (s *Service) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("inventory: unknown transfer status %q", filter.Status)
	}
	transfers, total, err := s.repo.ListTransfers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return transfers, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// moveStock executes the debit and credit of a transfer. Both records are
// locked up front in deterministic order; a credit failure after the debit
// aborts the enclosing transaction, which restores the source.
func (s *Service) moveStock(ctx context.Context, ledger *ledgerTx, transfer Transfer) error {
	err := ledger.lockAll(ctx, []recordKey{
		{skuID: transfer.SKUID, storeID: transfer.FromStoreID},
		{skuID: transfer.SKUID, storeID: transfer.ToStoreID},
	})
	if err != nil {
		return err
	}
	if _, err := ledger.apply(ctx, s.debitMovement(transfer, transfer.ActorID)); err != nil {
		return err
	}
	if _, err := ledger.apply(ctx, s.creditMovement(transfer, transfer.ActorID)); err != nil {
		return s.asTransferFailure(err)
	}
	return nil
}

func (s *Service) debitMovement(transfer Transfer, actorID int64) movement {
	return movement{
		SKUID:    transfer.SKUID,
		StoreID:  transfer.FromStoreID,
		Delta:    -transfer.Quantity,
		Type:     TransactionTypeTransferOut,
		ActorID:  actorID,
		Note:     fmt.Sprintf("transfer to store %d", transfer.ToStoreID),
		Metadata: Metadata{MetadataKeyTransferID: transfer.ID},
	}
}

func (s *Service) creditMovement(transfer Transfer, actorID int64) movement {
	return movement{
		SKUID:    transfer.SKUID,
		StoreID:  transfer.ToStoreID,
		Delta:    transfer.Quantity,
		Type:     TransactionTypeTransferIn,
		ActorID:  actorID,
		Note:     fmt.Sprintf("transfer from store %d", transfer.FromStoreID),
		Metadata: Metadata{MetadataKeyTransferID: transfer.ID},
	}
}

// asTransferFailure wraps infrastructure errors from the credit/restore leg
// so callers see the transfer-level failure; domain errors pass unchanged.
func (s *Service) asTransferFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransferFailed, err)
}

func (s *Service) afterTransfer(ctx context.Context, action string, transfer Transfer) {
	if s.metrics != nil {
		s.metrics.ObserveMovement("transfer:" + strings.ToLower(string(transfer.Status)))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  transfer.ActorID,
			Action:   action,
			Entity:   "transfer",
			EntityID: fmt.Sprintf("%d", transfer.ID),
			Meta: map[string]any{
				"from_store_id": transfer.FromStoreID,
				"to_store_id":   transfer.ToStoreID,
				"sku_id":        transfer.SKUID,
				"quantity":      transfer.Quantity,
				"status":        transfer.Status,
			},
		})
	}
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
}

func (s *Service) notifyCompleted(ctx context.Context, transfer Transfer) error {
	if s.integration == nil {
		return nil
	}
	return s.integration.HandleTransferCompleted(ctx, TransferCompletedEvent{
		TransferID:  transfer.ID,
		FromStoreID: transfer.FromStoreID,
		ToStoreID:   transfer.ToStoreID,
		SKUID:       transfer.SKUID,
		Quantity:    transfer.Quantity,
		ActorID:     transfer.ActorID,
		CompletedAt: time.Now().UTC(),
	})
}

func cancelNote(reason string) string {
	if reason == "" {
		return "cancelled"
	}
	return "cancelled: " + reason
}
