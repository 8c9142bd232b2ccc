package application

import (
	"context"

	"github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
)

// RecordOwnership resolves ownership from the subscription record itself.
// Deployments with a separate token registry substitute their own authority.
type RecordOwnership struct {
	subscriptions domain.Repository
}

// NewRecordOwnership creates an ownership authority backed by the ledger records.
func NewRecordOwnership(subscriptions domain.Repository) *RecordOwnership {
	return &RecordOwnership{subscriptions: subscriptions}
}

// IsOwner reports whether caller matches the recorded subscription owner.
func (o *RecordOwnership) IsOwner(ctx context.Context, subscriptionID uuid.UUID, caller string) (bool, error) {
	sub, err := o.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	return sub.IsOwnedBy(caller), nil
}

var _ domain.OwnershipAuthority = (*RecordOwnership)(nil)
