package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gaspass/gaspass/internal/reconciliation/application"
	"github.com/gaspass/gaspass/internal/reconciliation/domain"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/eventbus"
)

// InboundConsumer receives reconciliation messages addressed to this chain
// and applies them through the reconciler. Processing errors are returned so
// the broker redelivers; application is idempotent, so redelivery is safe.
type InboundConsumer struct {
	reconciler *application.Reconciler
	chainID    uint64
	logger     *slog.Logger
}

// NewInboundConsumer creates a consumer for messages bound for chainID.
func NewInboundConsumer(reconciler *application.Reconciler, chainID uint64, logger *slog.Logger) *InboundConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundConsumer{
		reconciler: reconciler,
		chainID:    chainID,
		logger:     logger,
	}
}

// EventTypes returns the routing key for this chain's inbound stream.
func (c *InboundConsumer) EventTypes() []string {
	return []string{domain.ChainRoutingKey(c.chainID)}
}

// Handle decodes and applies one reconciliation message.
func (c *InboundConsumer) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var msg domain.ReconciliationMessage
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		// Malformed payloads will never parse; drop instead of redelivering
		c.logger.Error("dropping malformed reconciliation message",
			"routing_key", event.RoutingKey,
			"error", err,
		)
		return nil
	}

	if msg.HomeChainID() != c.chainID {
		c.logger.Error("reconciliation message routed to wrong chain",
			"home_chain_id", msg.HomeChainID(),
			"chain_id", c.chainID,
		)
		return nil
	}

	if err := c.reconciler.Receive(ctx, &msg); err != nil {
		return fmt.Errorf("failed to apply reconciliation message %s: %w", msg.MessageID(), err)
	}
	return nil
}

var _ eventbus.EventConsumer = (*InboundConsumer)(nil)
