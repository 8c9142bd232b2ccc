package domain

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessage   = errors.New("invalid reconciliation message")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrDuplicateMessage = errors.New("reconciliation message already applied")
)

// ReconciliationMessage carries usage settled on one chain back to the chain
// holding the authoritative subscription record. Messages are identified by a
// unique message ID for exactly-once application and carry a per-stream
// sequence number for gap detection.
type ReconciliationMessage struct {
	messageID      uuid.UUID
	subscriptionID uuid.UUID
	homeChainID    uint64
	sourceChainID  uint64
	amount         *big.Int
	sequenceNumber uint64
	createdAt      time.Time
}

// NewReconciliationMessage creates a message for a settled deduction.
func NewReconciliationMessage(subscriptionID uuid.UUID, homeChainID, sourceChainID uint64, amount *big.Int, sequenceNumber uint64) (*ReconciliationMessage, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return &ReconciliationMessage{
		messageID:      uuid.New(),
		subscriptionID: subscriptionID,
		homeChainID:    homeChainID,
		sourceChainID:  sourceChainID,
		amount:         new(big.Int).Set(amount),
		sequenceNumber: sequenceNumber,
		createdAt:      time.Now().UTC(),
	}, nil
}

func (m *ReconciliationMessage) MessageID() uuid.UUID      { return m.messageID }
func (m *ReconciliationMessage) SubscriptionID() uuid.UUID { return m.subscriptionID }
func (m *ReconciliationMessage) HomeChainID() uint64       { return m.homeChainID }
func (m *ReconciliationMessage) SourceChainID() uint64     { return m.sourceChainID }
func (m *ReconciliationMessage) Amount() *big.Int          { return new(big.Int).Set(m.amount) }
func (m *ReconciliationMessage) SequenceNumber() uint64    { return m.sequenceNumber }
func (m *ReconciliationMessage) CreatedAt() time.Time      { return m.createdAt }

type wireMessage struct {
	MessageID      uuid.UUID `json:"message_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	HomeChainID    uint64    `json:"home_chain_id"`
	SourceChainID  uint64    `json:"source_chain_id"`
	Amount         string    `json:"amount"`
	SequenceNumber uint64    `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// MarshalJSON encodes the message for the wire, amounts as decimal strings.
func (m *ReconciliationMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		MessageID:      m.messageID,
		SubscriptionID: m.subscriptionID,
		HomeChainID:    m.homeChainID,
		SourceChainID:  m.sourceChainID,
		Amount:         m.amount.String(),
		SequenceNumber: m.sequenceNumber,
		CreatedAt:      m.createdAt,
	})
}

// UnmarshalJSON decodes a wire message, validating the amount.
func (m *ReconciliationMessage) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.MessageID == uuid.Nil || wire.SubscriptionID == uuid.Nil {
		return ErrInvalidMessage
	}
	amount, ok := new(big.Int).SetString(wire.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	m.messageID = wire.MessageID
	m.subscriptionID = wire.SubscriptionID
	m.homeChainID = wire.HomeChainID
	m.sourceChainID = wire.SourceChainID
	m.amount = amount
	m.sequenceNumber = wire.SequenceNumber
	m.createdAt = wire.CreatedAt
	return nil
}
