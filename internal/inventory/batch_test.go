package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTransferBatch(t *testing.T) {
	repo := newMemoryRepo()
	integration := &recordingIntegration{}
	svc := NewService(repo, nil, nil, ServiceConfig{}, integration)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 50)
	seedStock(t, svc, 2, 10, 20)

	orderID := int64(77)
	transfers, err := svc.CreateTransferBatch(ctx, CreateTransferBatchInput{
		ActorID: 4,
		OrderID: &orderID,
		Items: []TransferBatchItem{
			{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 15},
			{FromStoreID: 10, ToStoreID: 30, SKUID: 1, Quantity: 10},
			{FromStoreID: 10, ToStoreID: 20, SKUID: 2, Quantity: 5, Status: TransferStatusPending},
		},
	})
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	require.NotEmpty(t, transfers[0].BatchID)
	for _, transfer := range transfers {
		require.NotZero(t, transfer.ID)
		require.NotNil(t, transfer.OrderID)
		require.EqualValues(t, 77, *transfer.OrderID)
		require.Equal(t, transfers[0].BatchID, transfer.BatchID)
	}

	rec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 25, rec.Quantity)
	rec, err = svc.GetStock(ctx, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 15, rec.Quantity)
	rec, err = svc.GetStock(ctx, 1, 30)
	require.NoError(t, err)
	require.EqualValues(t, 10, rec.Quantity)

	// The PENDING item created the transfer row but moved nothing.
	rec, err = svc.GetStock(ctx, 2, 10)
	require.NoError(t, err)
	require.EqualValues(t, 20, rec.Quantity)

	// Events only for the completed transfers.
	require.Len(t, integration.events, 2)
}

func TestCreateTransferBatchChecksCumulativeAvailability(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := seedStock(t, svc, 1, 10, 20)

	// Each item alone fits, together they overdraw the source.
	_, err := svc.CreateTransferBatch(ctx, CreateTransferBatchInput{
		ActorID: 1,
		Items: []TransferBatchItem{
			{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 15},
			{FromStoreID: 10, ToStoreID: 30, SKUID: 1, Quantity: 15},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// All-or-nothing: no transfer rows, no movements.
	require.Empty(t, repo.state.transfers)
	rec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 20, rec.Quantity)
	require.Len(t, repo.transactionsFor(src.ID), 1)
}

func TestCreateTransferBatchFailureRollsBackEverything(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedStock(t, svc, 1, 10, 50)
	seedStock(t, svc, 2, 10, 50)

	repo.failTxnType = TransactionTypeTransferIn
	repo.failErr = errStorageDown

	_, err := svc.CreateTransferBatch(ctx, CreateTransferBatchInput{
		ActorID: 1,
		Items: []TransferBatchItem{
			{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 5},
			{FromStoreID: 10, ToStoreID: 20, SKUID: 2, Quantity: 5},
		},
	})
	require.ErrorIs(t, err, ErrTransferFailed)

	require.Empty(t, repo.state.transfers)
	rec, err := svc.GetStock(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 50, rec.Quantity)
	rec, err = svc.GetStock(ctx, 2, 10)
	require.NoError(t, err)
	require.EqualValues(t, 50, rec.Quantity)
}

func TestCreateTransferBatchValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateTransferBatch(ctx, CreateTransferBatchInput{ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidTransfer)

	_, err = svc.CreateTransferBatch(ctx, CreateTransferBatchInput{
		ActorID: 1,
		Items:   []TransferBatchItem{{FromStoreID: 10, ToStoreID: 10, SKUID: 1, Quantity: 5}},
	})
	require.ErrorIs(t, err, ErrInvalidTransfer)

	_, err = svc.CreateTransferBatch(ctx, CreateTransferBatchInput{
		ActorID: 1,
		Items:   []TransferBatchItem{{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreateTransferBatch(ctx, CreateTransferBatchInput{
		ActorID: 1,
		Items:   []TransferBatchItem{{FromStoreID: 10, ToStoreID: 20, SKUID: 1, Quantity: 5, Status: TransferStatusInTransit}},
	})
	require.ErrorIs(t, err, ErrInvalidTransfer)
}
