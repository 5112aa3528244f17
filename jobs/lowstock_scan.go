package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wareline/wareline/internal/alerts"
)

const (
	// TaskLowStockScan triggers the periodic low-stock sweep.
	TaskLowStockScan = "inventory:low_stock_scan"
)

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock sweep.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	payload := LowStockScanPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockScanHandler builds the handler that runs the sweep: it renders
// the current low-stock report and enqueues one digest email when any record
// sits at or below its threshold.
func NewLowStockScanHandler(svc *alerts.Service, client *Client, recipient string, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		report, err := svc.LowStock(ctx)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("low stock scan",
				slog.Int("total", report.Total),
				slog.Int("out_of_stock", report.OutOfStock))
		}
		if report.Total == 0 || client == nil {
			return nil
		}
		lines := make([]string, 0, len(report.Alerts))
		for _, alert := range report.Alerts {
			lines = append(lines, alert.Summary)
		}
		_, err = client.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      recipient,
			Subject: fmt.Sprintf("Low stock digest: %d records", report.Total),
			Body:    strings.Join(lines, "\n"),
		})
		return err
	}
}
