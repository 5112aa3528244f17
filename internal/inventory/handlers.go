package inventory

import "context"

// IntegrationHandler receives inventory events for downstream integration.
type IntegrationHandler interface {
	HandleTransferCompleted(ctx context.Context, evt TransferCompletedEvent) error
}
