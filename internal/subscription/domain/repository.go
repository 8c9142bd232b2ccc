package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for subscription persistence.
type Repository interface {
	// Save persists a subscription (create or update).
	Save(ctx context.Context, subscription *Subscription) error

	// FindByID finds a subscription by its ID. Returns (nil, nil) when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// FindByOwner finds all subscriptions owned by the given address.
	FindByOwner(ctx context.Context, owner string) ([]*Subscription, error)

	// Delete removes a subscription record.
	Delete(ctx context.Context, id uuid.UUID) error
}

// OwnershipAuthority resolves token ownership for owner-only operations. The
// engine consumes it as a capability check; signature validation lives with
// the implementer.
type OwnershipAuthority interface {
	// IsOwner reports whether caller currently holds the subscription token.
	IsOwner(ctx context.Context, subscriptionID uuid.UUID, caller string) (bool, error)
}
