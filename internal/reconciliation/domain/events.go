package domain

import (
	"fmt"

	sharedDomain "github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/google/uuid"
)

const aggregateType = "ReconciliationMessage"

// ChainRoutingKey returns the routing key for messages bound for the chain.
func ChainRoutingKey(chainID uint64) string {
	return fmt.Sprintf("reconciliation.chain.%d", chainID)
}

// DeductionForwarded is the outbound envelope for a reconciliation message.
// Its routing key addresses the subscription's home chain so only that chain's
// consumer picks it up.
type DeductionForwarded struct {
	sharedDomain.BaseEvent
	MessageID      uuid.UUID `json:"message_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	HomeChainID    uint64    `json:"home_chain_id"`
	SourceChainID  uint64    `json:"source_chain_id"`
	Amount         string    `json:"amount"`
	SequenceNumber uint64    `json:"sequence_number"`
}

// NewDeductionForwarded creates the outbound event for a message.
func NewDeductionForwarded(m *ReconciliationMessage) *DeductionForwarded {
	return &DeductionForwarded{
		BaseEvent:      sharedDomain.NewBaseEvent(m.SubscriptionID(), aggregateType, ChainRoutingKey(m.HomeChainID())),
		MessageID:      m.MessageID(),
		SubscriptionID: m.SubscriptionID(),
		HomeChainID:    m.HomeChainID(),
		SourceChainID:  m.SourceChainID(),
		Amount:         m.Amount().String(),
		SequenceNumber: m.SequenceNumber(),
	}
}

// UsageReconciled is emitted on the home chain after a message is applied.
type UsageReconciled struct {
	sharedDomain.BaseEvent
	MessageID      uuid.UUID `json:"message_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	SourceChainID  uint64    `json:"source_chain_id"`
	DeductedAmount string    `json:"deducted_amount"`
	Shortfall      string    `json:"shortfall"`
	SequenceNumber uint64    `json:"sequence_number"`
}

// NewUsageReconciled creates the applied event.
func NewUsageReconciled(m *ReconciliationMessage, deducted, shortfall string) *UsageReconciled {
	return &UsageReconciled{
		BaseEvent:      sharedDomain.NewBaseEvent(m.SubscriptionID(), aggregateType, "reconciliation.usage.reconciled"),
		MessageID:      m.MessageID(),
		SubscriptionID: m.SubscriptionID(),
		SourceChainID:  m.SourceChainID(),
		DeductedAmount: deducted,
		Shortfall:      shortfall,
		SequenceNumber: m.SequenceNumber(),
	}
}
