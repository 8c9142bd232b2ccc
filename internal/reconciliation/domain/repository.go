package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AppliedMessage is the durable record that a reconciliation message has been
// applied to the home-chain ledger. The record is what makes redelivery safe.
type AppliedMessage struct {
	MessageID      uuid.UUID
	SubscriptionID uuid.UUID
	SourceChainID  uint64
	SequenceNumber uint64
	Amount         *big.Int
	AppliedAt      time.Time
}

// Repository persists the outbound sequence counters and the applied-message
// ledger.
type Repository interface {
	// NextSequence atomically increments and returns the outbound sequence
	// number for the subscription's stream to the destination chain. Streams
	// are independent per (subscription, destination chain) pair.
	NextSequence(ctx context.Context, subscriptionID uuid.UUID, destinationChainID uint64) (uint64, error)

	// IsApplied reports whether the message has already been applied.
	IsApplied(ctx context.Context, messageID uuid.UUID) (bool, error)

	// MarkApplied records that the message has been applied.
	MarkApplied(ctx context.Context, record *AppliedMessage) error

	// LastAppliedSequence returns the highest sequence number applied for the
	// subscription from the source chain, or 0 when none has been.
	LastAppliedSequence(ctx context.Context, subscriptionID uuid.UUID, sourceChainID uint64) (uint64, error)

	// PruneApplied removes applied-message records older than the cutoff.
	PruneApplied(ctx context.Context, cutoff time.Time) (int64, error)
}
