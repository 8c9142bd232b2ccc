package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for reservation persistence.
type Repository interface {
	// Save persists a reservation (create or update).
	Save(ctx context.Context, reservation *Reservation) error

	// FindByID finds a reservation by its ID. Returns (nil, nil) when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// FindLiveByOperationID finds the live reservation for an operation, if any.
	FindLiveByOperationID(ctx context.Context, operationID string) (*Reservation, error)

	// SumLiveBySubscription returns the total amount held by live reservations
	// for the subscription.
	SumLiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*big.Int, error)

	// FindLiveOlderThan returns live reservations created before the cutoff.
	FindLiveOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Reservation, error)
}
