package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wareline/wareline/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. Every
// quantity read used for a mutation goes through GetRecordForUpdate so the
// read-modify-write cycle holds a row lock.
type TxRepository interface {
	EnsureRecord(ctx context.Context, skuID, storeID, threshold int64) error
	GetRecordForUpdate(ctx context.Context, skuID, storeID int64) (StockRecord, error)
	UpdateRecordQuantity(ctx context.Context, recordID, quantity int64) error
	UpdateRecordThreshold(ctx context.Context, recordID, threshold int64) error
	InsertTransaction(ctx context.Context, txn StockTransaction) (int64, error)
	InsertTransfer(ctx context.Context, transfer Transfer) (int64, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	UpdateTransferStatus(ctx context.Context, id int64, status TransferStatus, note string) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction,
// retrying a bounded number of times on serialization aborts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetStock returns the record for one SKU at one store.
func (r *Repository) GetStock(ctx context.Context, skuID, storeID int64) (StockRecord, error) {
	var rec StockRecord
	err := r.pool.QueryRow(ctx, `SELECT id, sku_id, store_id, quantity, low_stock_threshold, created_at, updated_at
FROM stock_records WHERE sku_id=$1 AND store_id=$2`, skuID, storeID).
		Scan(&rec.ID, &rec.SKUID, &rec.StoreID, &rec.Quantity, &rec.LowStockThreshold, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

// History lists transactions of a record, newest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]StockTransaction, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transactions
WHERE stock_record_id=$1
  AND ($2::text = '' OR type=$2)
  AND created_at BETWEEN COALESCE($3::timestamptz, '-infinity') AND COALESCE($4::timestamptz, 'infinity')`,
		filter.StockRecordID, string(filter.Type), nullTime(filter.From), nullTime(filter.To)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, stock_record_id, actor_id, type, delta, quantity_before, quantity_after, note, metadata, created_at
FROM stock_transactions
WHERE stock_record_id=$1
  AND ($2::text = '' OR type=$2)
  AND created_at BETWEEN COALESCE($3::timestamptz, '-infinity') AND COALESCE($4::timestamptz, 'infinity')
ORDER BY created_at DESC, id DESC
LIMIT $5 OFFSET $6`,
		filter.StockRecordID, string(filter.Type), nullTime(filter.From), nullTime(filter.To), perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txns := []StockTransaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// LatestTransaction returns the most recent transaction of a record.
func (r *Repository) LatestTransaction(ctx context.Context, recordID int64) (StockTransaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, stock_record_id, actor_id, type, delta, quantity_before, quantity_after, note, metadata, created_at
FROM stock_transactions WHERE stock_record_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, recordID)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockTransaction{}, ErrNotFound
		}
		return StockTransaction{}, err
	}
	return txn, nil
}

// GetTransfer loads one transfer.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, from_store_id, to_store_id, sku_id, quantity, status, actor_id, note, order_id, batch_id, created_at, updated_at
FROM transfers WHERE id=$1`, id)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	return transfer, nil
}

// ListTransfers lists transfers matching the filter, newest first.
func (r *Repository) ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers
WHERE ($1::text = '' OR status=$1)
  AND ($2::bigint = 0 OR from_store_id=$2 OR to_store_id=$2)
  AND ($3::bigint = 0 OR sku_id=$3)`,
		string(filter.Status), filter.StoreID, filter.SKUID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, from_store_id, to_store_id, sku_id, quantity, status, actor_id, note, order_id, batch_id, created_at, updated_at
FROM transfers
WHERE ($1::text = '' OR status=$1)
  AND ($2::bigint = 0 OR from_store_id=$2 OR to_store_id=$2)
  AND ($3::bigint = 0 OR sku_id=$3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`,
		string(filter.Status), filter.StoreID, filter.SKUID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transfers := []Transfer{}
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return transfers, total, nil
}

// ListLowStock lists records at or below their alert threshold.
func (r *Repository) ListLowStock(ctx context.Context) ([]StockRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sku_id, store_id, quantity, low_stock_threshold, created_at, updated_at
FROM stock_records WHERE quantity <= low_stock_threshold ORDER BY store_id ASC, sku_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []StockRecord{}
	for rows.Next() {
		var rec StockRecord
		if err := rows.Scan(&rec.ID, &rec.SKUID, &rec.StoreID, &rec.Quantity, &rec.LowStockThreshold, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *txRepository) EnsureRecord(ctx context.Context, skuID, storeID, threshold int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_records (sku_id, store_id, quantity, low_stock_threshold, created_at, updated_at)
VALUES ($1, $2, 0, $3, NOW(), NOW())
ON CONFLICT (sku_id, store_id) DO NOTHING`, skuID, storeID, threshold)
	return err
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, skuID, storeID int64) (StockRecord, error) {
	var rec StockRecord
	err := r.tx.QueryRow(ctx, `SELECT id, sku_id, store_id, quantity, low_stock_threshold, created_at, updated_at
FROM stock_records WHERE sku_id=$1 AND store_id=$2 FOR UPDATE`, skuID, storeID).
		Scan(&rec.ID, &rec.SKUID, &rec.StoreID, &rec.Quantity, &rec.LowStockThreshold, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func (r *txRepository) UpdateRecordQuantity(ctx context.Context, recordID, quantity int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_records SET quantity=$2, updated_at=NOW() WHERE id=$1`, recordID, quantity)
	return err
}

func (r *txRepository) UpdateRecordThreshold(ctx context.Context, recordID, threshold int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_records SET low_stock_threshold=$2, updated_at=NOW() WHERE id=$1`, recordID, threshold)
	return err
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn StockTransaction) (int64, error) {
	meta, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (stock_record_id, actor_id, type, delta, quantity_before, quantity_after, note, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		txn.StockRecordID, txn.ActorID, string(txn.Type), txn.Delta, txn.QuantityBefore, txn.QuantityAfter, txn.Note, meta).Scan(&id)
	return id, err
}

func (r *txRepository) InsertTransfer(ctx context.Context, transfer Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfers (from_store_id, to_store_id, sku_id, quantity, status, actor_id, note, order_id, batch_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		transfer.FromStoreID, transfer.ToStoreID, transfer.SKUID, transfer.Quantity, string(transfer.Status), transfer.ActorID, transfer.Note, transfer.OrderID, transfer.BatchID).Scan(&id)
	return id, err
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, from_store_id, to_store_id, sku_id, quantity, status, actor_id, note, order_id, batch_id, created_at, updated_at
FROM transfers WHERE id=$1 FOR UPDATE`, id)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	return transfer, nil
}

func (r *txRepository) UpdateTransferStatus(ctx context.Context, id int64, status TransferStatus, note string) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, note=$3, updated_at=NOW() WHERE id=$1`, id, string(status), note)
	return err
}

func scanTransaction(row pgx.Row) (StockTransaction, error) {
	var txn StockTransaction
	var meta []byte
	err := row.Scan(&txn.ID, &txn.StockRecordID, &txn.ActorID, &txn.Type, &txn.Delta,
		&txn.QuantityBefore, &txn.QuantityAfter, &txn.Note, &meta, &txn.CreatedAt)
	if err != nil {
		return StockTransaction{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
			return StockTransaction{}, err
		}
	}
	return txn, nil
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var transfer Transfer
	err := row.Scan(&transfer.ID, &transfer.FromStoreID, &transfer.ToStoreID, &transfer.SKUID,
		&transfer.Quantity, &transfer.Status, &transfer.ActorID, &transfer.Note, &transfer.OrderID,
		&transfer.BatchID, &transfer.CreatedAt, &transfer.UpdatedAt)
	return transfer, err
}

func marshalMetadata(meta Metadata) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
