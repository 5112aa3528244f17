package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/wareline/wareline/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, skuID, storeID int64) (StockRecord, error)
	History(ctx context.Context, filter HistoryFilter) ([]StockTransaction, int, error)
	LatestTransaction(ctx context.Context, recordID int64) (StockTransaction, error)
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int, error)
	ListLowStock(ctx context.Context) ([]StockRecord, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// InvalidatorPort is notified after every committed stock mutation so cached
// read models (low-stock summaries) can drop stale data.
type InvalidatorPort interface {
	Bump(ctx context.Context) error
}

// MovementObserver counts committed movements by transaction type.
type MovementObserver interface {
	ObserveMovement(txType string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// DefaultLowStockThreshold seeds lazily created records.
	DefaultLowStockThreshold int64
}

// Service coordinates ledger and transfer operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	invalidator InvalidatorPort
	metrics     MovementObserver
	integration IntegrationHandler
	threshold   int64
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		integration: integration,
		threshold:   cfg.DefaultLowStockThreshold,
	}
}

// WithInvalidator attaches a cache invalidation hook.
func (s *Service) WithInvalidator(inv InvalidatorPort) *Service {
	s.invalidator = inv
	return s
}

// WithMetrics attaches a movement observer.
func (s *Service) WithMetrics(m MovementObserver) *Service {
	s.metrics = m
	return s
}

// AddStock increases the quantity of one SKU at one store and writes one
// ADDITION transaction atomically with the update.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (StockRecord, error) {
	if input.SKUID == 0 || input.StoreID == 0 {
		return StockRecord{}, fmt.Errorf("%w: sku and store required", ErrInvalidTransfer)
	}
	if input.Amount <= 0 {
		return StockRecord{}, ErrInvalidAmount
	}
	return s.applySingle(ctx, movement{
		SKUID:    input.SKUID,
		StoreID:  input.StoreID,
		Delta:    input.Amount,
		Type:     TransactionTypeAddition,
		ActorID:  input.ActorID,
		Note:     input.Note,
		Metadata: input.Metadata,
	})
}

// ReduceStock decreases the quantity of one SKU at one store and writes one
// REDUCTION transaction. The reduction is rejected whole when the current
// quantity is below the requested amount.
func (s *Service) ReduceStock(ctx context.Context, input ReduceStockInput) (StockRecord, error) {
	if input.SKUID == 0 || input.StoreID == 0 {
		return StockRecord{}, fmt.Errorf("%w: sku and store required", ErrInvalidTransfer)
	}
	if input.Amount <= 0 {
		return StockRecord{}, ErrInvalidAmount
	}
	return s.applySingle(ctx, movement{
		SKUID:    input.SKUID,
		StoreID:  input.StoreID,
		Delta:    -input.Amount,
		Type:     TransactionTypeReduction,
		ActorID:  input.ActorID,
		Note:     input.Note,
		Metadata: input.Metadata,
	})
}

// SetStock sets the absolute quantity, writing one ADJUSTMENT transaction
// carrying the signed difference. Setting the current quantity again is a
// no-op: no transaction is written.
func (s *Service) SetStock(ctx context.Context, input SetStockInput) (StockRecord, error) {
	if input.SKUID == 0 || input.StoreID == 0 {
		return StockRecord{}, fmt.Errorf("%w: sku and store required", ErrInvalidTransfer)
	}
	if input.Quantity < 0 {
		return StockRecord{}, ErrInvalidAmount
	}
	var result StockRecord
	mutated := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledger := newLedgerTx(tx, s.threshold)
		rec, err := ledger.record(ctx, input.SKUID, input.StoreID)
		if err != nil {
			return err
		}
		if rec.Quantity == input.Quantity {
			result = *rec
			return nil
		}
		mutated = true
		_, err = ledger.apply(ctx, movement{
			SKUID:    input.SKUID,
			StoreID:  input.StoreID,
			Delta:    input.Quantity - rec.Quantity,
			Type:     TransactionTypeAdjustment,
			ActorID:  input.ActorID,
			Note:     input.Note,
			Metadata: input.Metadata,
		})
		if err != nil {
			return err
		}
		result = *rec
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	if mutated {
		s.afterMutation(ctx, TransactionTypeAdjustment, input.ActorID, result, input.Note, input.Metadata)
	}
	return result, nil
}

// SetLowStockThreshold updates the alert threshold of a record. Thresholds
// are alert configuration, so no stock transaction is written.
func (s *Service) SetLowStockThreshold(ctx context.Context, input SetThresholdInput) (StockRecord, error) {
	if input.SKUID == 0 || input.StoreID == 0 {
		return StockRecord{}, fmt.Errorf("%w: sku and store required", ErrInvalidTransfer)
	}
	if input.Threshold < 0 {
		return StockRecord{}, ErrInvalidAmount
	}
	var result StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledger := newLedgerTx(tx, s.threshold)
		rec, err := ledger.record(ctx, input.SKUID, input.StoreID)
		if err != nil {
			return err
		}
		if err := tx.UpdateRecordThreshold(ctx, rec.ID, input.Threshold); err != nil {
			return err
		}
		rec.LowStockThreshold = input.Threshold
		result = *rec
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:threshold",
			Entity:   "stock_record",
			EntityID: fmt.Sprintf("%d:%d", input.SKUID, input.StoreID),
			Meta:     map[string]any{"threshold": input.Threshold},
		})
	}
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
	return result, nil
}

// GetStock returns the stock record for one SKU at one store.
func (s *Service) GetStock(ctx context.Context, skuID, storeID int64) (StockRecord, error) {
	if skuID == 0 || storeID == 0 {
		return StockRecord{}, fmt.Errorf("%w: sku and store required", ErrInvalidTransfer)
	}
	return s.repo.GetStock(ctx, skuID, storeID)
}

// History lists the audit trail of a record, newest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]StockTransaction, shared.Pagination, error) {
	if filter.StockRecordID == 0 {
		return nil, shared.Pagination{}, fmt.Errorf("%w: stock record required", ErrNotFound)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("inventory: unknown transaction type %q", filter.Type)
	}
	txns, total, err := s.repo.History(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return txns, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// LatestTransaction returns the most recent transaction of a record.
func (s *Service) LatestTransaction(ctx context.Context, recordID int64) (StockTransaction, error) {
	return s.repo.LatestTransaction(ctx, recordID)
}

// ListLowStock lists records at or below their alert threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]StockRecord, error) {
	return s.repo.ListLowStock(ctx)
}

// applySingle runs one movement in its own transaction and fires the
// post-commit hooks.
func (s *Service) applySingle(ctx context.Context, m movement) (StockRecord, error) {
	var result StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledger := newLedgerTx(tx, s.threshold)
		rec, err := ledger.record(ctx, m.SKUID, m.StoreID)
		if err != nil {
			return err
		}
		if _, err := ledger.apply(ctx, m); err != nil {
			return err
		}
		result = *rec
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.afterMutation(ctx, m.Type, m.ActorID, result, m.Note, m.Metadata)
	return result, nil
}

func (s *Service) afterMutation(ctx context.Context, txType TransactionType, actorID int64, rec StockRecord, note string, meta Metadata) {
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(txType))
	}
	if s.audit != nil {
		auditMeta := map[string]any{
			"store_id": rec.StoreID,
			"sku_id":   rec.SKUID,
			"quantity": rec.Quantity,
			"note":     note,
		}
		for k, v := range meta {
			auditMeta[k] = v
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("inventory:%s", txType),
			Entity:   "stock_record",
			EntityID: fmt.Sprintf("%d:%d", rec.SKUID, rec.StoreID),
			Meta:     auditMeta,
		})
	}
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
}

// movement is one signed quantity change against a record. The transaction
// type is fixed at write time; transfer movements are tagged TRANSFER_OUT /
// TRANSFER_IN directly instead of being reclassified later.
type movement struct {
	SKUID    int64
	StoreID  int64
	Delta    int64
	Type     TransactionType
	ActorID  int64
	Note     string
	Metadata Metadata
}

type recordKey struct {
	skuID   int64
	storeID int64
}

// ledgerTx applies movements inside one repository transaction. Records are
// resolved-or-created and row-locked once, then reused, so a multi-movement
// operation (transfer, batch) sees a consistent view and deadlocks are
// avoided by lock ordering.
type ledgerTx struct {
	tx        TxRepository
	threshold int64
	records   map[recordKey]*StockRecord
}

func newLedgerTx(tx TxRepository, defaultThreshold int64) *ledgerTx {
	return &ledgerTx{tx: tx, threshold: defaultThreshold, records: make(map[recordKey]*StockRecord)}
}

// record resolves the stock record for (sku, store), creating it with
// quantity zero on first reference, and locks its row.
func (l *ledgerTx) record(ctx context.Context, skuID, storeID int64) (*StockRecord, error) {
	key := recordKey{skuID: skuID, storeID: storeID}
	if rec, ok := l.records[key]; ok {
		return rec, nil
	}
	if err := l.tx.EnsureRecord(ctx, skuID, storeID, l.threshold); err != nil {
		return nil, err
	}
	rec, err := l.tx.GetRecordForUpdate(ctx, skuID, storeID)
	if err != nil {
		return nil, err
	}
	l.records[key] = &rec
	return &rec, nil
}

// lockAll pre-locks a set of records in deterministic order.
func (l *ledgerTx) lockAll(ctx context.Context, keys []recordKey) error {
	sorted := make([]recordKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].storeID != sorted[j].storeID {
			return sorted[i].storeID < sorted[j].storeID
		}
		return sorted[i].skuID < sorted[j].skuID
	})
	for _, key := range sorted {
		if _, err := l.record(ctx, key.skuID, key.storeID); err != nil {
			return err
		}
	}
	return nil
}

// apply performs one movement: enforces the non-negative invariant, writes
// exactly one transaction with a before/after snapshot, and updates the
// quantity. The caller's enclosing database transaction makes the pair
// atomic.
func (l *ledgerTx) apply(ctx context.Context, m movement) (StockTransaction, error) {
	if m.Delta == 0 {
		return StockTransaction{}, ErrInvalidAmount
	}
	rec, err := l.record(ctx, m.SKUID, m.StoreID)
	if err != nil {
		return StockTransaction{}, err
	}
	newQty := rec.Quantity + m.Delta
	if newQty < 0 {
		return StockTransaction{}, fmt.Errorf("%w: sku %d at store %d has %d, need %d",
			ErrInsufficientStock, m.SKUID, m.StoreID, rec.Quantity, -m.Delta)
	}
	txn := StockTransaction{
		StockRecordID:  rec.ID,
		ActorID:        m.ActorID,
		Type:           m.Type,
		Delta:          m.Delta,
		QuantityBefore: rec.Quantity,
		QuantityAfter:  newQty,
		Note:           m.Note,
		Metadata:       m.Metadata,
	}
	id, err := l.tx.InsertTransaction(ctx, txn)
	if err != nil {
		return StockTransaction{}, err
	}
	txn.ID = id
	if err := l.tx.UpdateRecordQuantity(ctx, rec.ID, newQty); err != nil {
		return StockTransaction{}, err
	}
	rec.Quantity = newQty
	return txn, nil
}
