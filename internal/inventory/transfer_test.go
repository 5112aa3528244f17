package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	bumps int
}

func (i *recordingInvalidator) Bump(ctx context.Context) error {
	i.bumps++
	return nil
}

type recordingIntegration struct {
	events []TransferCompletedEvent
}

func (h *recordingIntegration) HandleTransferCompleted(ctx context.Context, evt TransferCompletedEvent) error {
	h.events = append(h.events, evt)
	return nil
}

func seedStock(t *testing.T, svc *Service, skuID, storeID, qty int64) StockRecord {
	t.Helper()
	rec, err := svc.AddStock(context.Background(), AddStockInput{SKUID: skuID, StoreID: storeID, Amount: qty, ActorID: 1})
	require.NoError(t, err)
	return rec
}

func TestCreateTransferImmediate(t *testing.T) {
	repo := newMemoryRepo()
	integration := &recordingIntegration{}
	svc := NewService(repo, nil, nil, ServiceConfig{}, integration)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 30)

	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 12, ActorID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, TransferStatusCompleted, transfer.Status)
	require.NotZero(t, transfer.ID)

	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 18, srcRec.Quantity)
	dstRec, err := svc.GetStock(ctx, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 12, dstRec.Quantity)

	// Exactly one OUT on the source and one IN on the destination, both
	// carrying the transfer id.
	srcTxns := repo.transactionsFor(src.ID)
	require.Len(t, srcTxns, 2)
	out := srcTxns[1]
	require.Equal(t, TransactionTypeTransferOut, out.Type)
	require.EqualValues(t, -12, out.Delta)
	require.Equal(t, transfer.ID, out.Metadata[MetadataKeyTransferID])

	dstTxns := repo.transactionsFor(dstRec.ID)
	require.Len(t, dstTxns, 1)
	require.Equal(t, TransactionTypeTransferIn, dstTxns[0].Type)
	require.EqualValues(t, 12, dstTxns[0].Delta)
	require.Equal(t, transfer.ID, dstTxns[0].Metadata[MetadataKeyTransferID])

	require.Len(t, integration.events, 1)
	require.Equal(t, transfer.ID, integration.events[0].TransferID)
}

func TestCreateTransferInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 5)

	_, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 6, ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing persisted: no transfer row, no movements, source untouched.
	require.Empty(t, repo.state.transfers)
	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 5, srcRec.Quantity)
	require.Len(t, repo.transactionsFor(src.ID), 1)
}

func TestCreateTransferValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateTransfer(ctx, CreateTransferInput{FromStoreID: 10, ToStoreID: 10, SKUID: 1, Quantity: 1, ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidTransfer)

	_, err = svc.CreateTransfer(ctx, CreateTransferInput{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 0, ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreateTransfer(ctx, CreateTransferInput{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 1, Status: TransferStatusInTransit, ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidTransfer)
}

func TestCreateTransferCreditFailureRollsBackDebit(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 30)

	repo.failTxnType = TransactionTypeTransferIn
	repo.failErr = errStorageDown

	_, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 12, ActorID: 1,
	})
	require.ErrorIs(t, err, ErrTransferFailed)

	// The debit rolled back with the transaction: the source is whole and no
	// orphaned OUT movement remains.
	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 30, srcRec.Quantity)
	require.Len(t, repo.transactionsFor(src.ID), 1)
	require.Empty(t, repo.state.transfers)
}

func TestTransferWorkflowPendingToCompleted(t *testing.T) {
	repo := newMemoryRepo()
	integration := &recordingIntegration{}
	svc := NewService(repo, nil, nil, ServiceConfig{}, integration)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 30)

	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, Status: TransferStatusPending, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, TransferStatusPending, transfer.Status)
	require.Empty(t, integration.events)

	// PENDING writes no movements.
	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 30, srcRec.Quantity)

	// PENDING -> IN_TRANSIT debits the source only.
	transfer, err = svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusInTransit, 1)
	require.NoError(t, err)
	require.Equal(t, TransferStatusInTransit, transfer.Status)
	srcRec, err = svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 20, srcRec.Quantity)
	_, err = svc.GetStock(ctx, 1, 20)
	require.ErrorIs(t, err, ErrNotFound)

	// IN_TRANSIT -> COMPLETED credits the destination only.
	transfer, err = svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusCompleted, 1)
	require.NoError(t, err)
	require.Equal(t, TransferStatusCompleted, transfer.Status)
	srcRec, err = svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 20, srcRec.Quantity)
	dstRec, err := svc.GetStock(ctx, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 10, dstRec.Quantity)

	require.Len(t, repo.transactionsFor(src.ID), 2)
	require.Len(t, integration.events, 1)
}

func TestUpdateTransferStatusSameStatusIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	audit := &recordingAudit{}
	invalidator := &recordingInvalidator{}
	svc := NewService(repo, audit, nil, ServiceConfig{DefaultLowStockThreshold: 5}, nil).WithInvalidator(invalidator)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 30)
	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, Status: TransferStatusPending, ActorID: 1,
	})
	require.NoError(t, err)
	auditBefore := len(audit.logs)
	bumpsBefore := invalidator.bumps

	again, err := svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusPending, 1)
	require.NoError(t, err)
	require.Equal(t, TransferStatusPending, again.Status)

	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 30, srcRec.Quantity)

	// Nothing changed, so no audit entry and no cache invalidation.
	require.Len(t, audit.logs, auditBefore)
	require.Equal(t, bumpsBefore, invalidator.bumps)
}

func TestUpdateTransferStatusRejectsIllegalTransition(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 30)
	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, TransferStatusCompleted, transfer.Status)

	_, err = svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusInTransit, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.UpdateTransferStatus(ctx, transfer.ID, "SHIPPED", 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelPendingTransfer(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 30)
	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, Status: TransferStatusPending, ActorID: 1, Note: "restock east",
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelTransfer(ctx, transfer.ID, "store closed", 1)
	require.NoError(t, err)
	require.Equal(t, TransferStatusCancelled, cancelled.Status)
	require.Equal(t, "cancelled: store closed\nrestock east", cancelled.Note)

	// Nothing was debited, so nothing is restored.
	require.Len(t, repo.transactionsFor(src.ID), 1)
}

func TestCancelInTransitRestoresSource(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 30)
	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, Status: TransferStatusPending, ActorID: 1,
	})
	require.NoError(t, err)
	_, err = svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusInTransit, 1)
	require.NoError(t, err)

	cancelled, err := svc.CancelTransfer(ctx, transfer.ID, "truck recalled", 2)
	require.NoError(t, err)
	require.Equal(t, TransferStatusCancelled, cancelled.Status)

	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 30, srcRec.Quantity)

	txns := repo.transactionsFor(src.ID)
	require.Len(t, txns, 3)
	restore := txns[2]
	require.Equal(t, TransactionTypeTransferCancel, restore.Type)
	require.EqualValues(t, 10, restore.Delta)
	require.Equal(t, "cancelled: truck recalled", restore.Note)
	require.Equal(t, transfer.ID, restore.Metadata[MetadataKeyTransferID])
}

func TestCancelTerminalTransferRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 30)
	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, ActorID: 1,
	})
	require.NoError(t, err)

	_, err = svc.CancelTransfer(ctx, transfer.ID, "too late", 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.CancelTransfer(ctx, transfer.ID, "", 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatusCancelledDelegatesToCancel(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 30)
	transfer, err := svc.CreateTransfer(ctx, CreateTransferInput{
		FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 10, Status: TransferStatusPending, ActorID: 1,
	})
	require.NoError(t, err)
	_, err = svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusInTransit, 1)
	require.NoError(t, err)

	cancelled, err := svc.UpdateTransferStatus(ctx, transfer.ID, TransferStatusCancelled, 1)
	require.NoError(t, err)
	require.Equal(t, TransferStatusCancelled, cancelled.Status)

	srcRec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 30, srcRec.Quantity)
}

func TestListTransfersFilters(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 100)
	seedStock(t, svc, 2, 10, 100)

	_, err := svc.CreateTransfer(ctx, CreateTransferInput{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 5, ActorID: 1})
	require.NoError(t, err)
	_, err = svc.CreateTransfer(ctx, CreateTransferInput{FromStoreID: 10, ToStoreID: 30, SKUID: 2, Quantity: 5, Status: TransferStatusPending, ActorID: 1})
	require.NoError(t, err)

	pending, _, err := svc.ListTransfers(ctx, TransferFilter{Status: TransferStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	byStore, _, err := svc.ListTransfers(ctx, TransferFilter{StoreID: 30})
	require.NoError(t, err)
	require.Len(t, byStore, 1)
	require.EqualValues(t, 2, byStore[0].SKUID)

	_, _, err = svc.ListTransfers(ctx, TransferFilter{Status: "BOGUS"})
	require.Error(t, err)
}
