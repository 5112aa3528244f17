package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// TaskLedgerIntegrity triggers the nightly ledger consistency check.
	TaskLedgerIntegrity = "inventory:ledger_integrity"
)

// LedgerIntegrityPayload carries scheduling metadata.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity check.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	payload := LedgerIntegrityPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerIntegrityHandler builds the handler wrapping RunLedgerIntegrityCheck.
func NewLedgerIntegrityHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return RunLedgerIntegrityCheck(ctx, pool, logger)
	}
}

// RunLedgerIntegrityCheck verifies the transaction log against the stock
// records: every transaction must satisfy before + delta = after, and the
// latest transaction of each record must land on the record's quantity.
func RunLedgerIntegrityCheck(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	var brokenTxns int64
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM stock_transactions
		WHERE quantity_before + delta <> quantity_after
	`).Scan(&brokenTxns)
	if err != nil {
		return fmt.Errorf("jobs: ledger integrity: %w", err)
	}

	var driftedRecords int64
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM stock_records r
		JOIN LATERAL (
			SELECT quantity_after
			FROM stock_transactions t
			WHERE t.stock_record_id = r.id
			ORDER BY t.created_at DESC, t.id DESC
			LIMIT 1
		) latest ON TRUE
		WHERE latest.quantity_after <> r.quantity
	`).Scan(&driftedRecords)
	if err != nil {
		return fmt.Errorf("jobs: ledger integrity: %w", err)
	}

	if brokenTxns > 0 || driftedRecords > 0 {
		if logger != nil {
			logger.Error("ledger integrity violation",
				slog.Int64("broken_transactions", brokenTxns),
				slog.Int64("drifted_records", driftedRecords))
		}
		return fmt.Errorf("jobs: ledger integrity: %d broken transactions, %d drifted records", brokenTxns, driftedRecords)
	}
	if logger != nil {
		logger.Info("ledger integrity check passed", slog.String("job", "ledger_integrity"))
	}
	return nil
}
