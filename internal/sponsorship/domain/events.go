package domain

import (
	sharedDomain "github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/google/uuid"
)

const aggregateType = "Reservation"

// UsageReserved is emitted when balance is tentatively held for an operation.
type UsageReserved struct {
	sharedDomain.BaseEvent
	ReservationID  uuid.UUID `json:"reservation_id"`
	OperationID    string    `json:"operation_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ChainID        uint64    `json:"chain_id"`
	ReservedAmount string    `json:"reserved_amount"`
}

// NewUsageReserved creates a UsageReserved event.
func NewUsageReserved(r *Reservation) *UsageReserved {
	return &UsageReserved{
		BaseEvent:      sharedDomain.NewBaseEvent(r.ID(), aggregateType, "sponsorship.usage.reserved"),
		ReservationID:  r.ID(),
		OperationID:    r.OperationID(),
		SubscriptionID: r.SubscriptionID(),
		ChainID:        r.ChainID(),
		ReservedAmount: r.ReservedAmount().String(),
	}
}

// UsageSettled is emitted when a reservation is committed.
type UsageSettled struct {
	sharedDomain.BaseEvent
	ReservationID  uuid.UUID `json:"reservation_id"`
	OperationID    string    `json:"operation_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	SettledAmount  string    `json:"settled_amount"`
	Shortfall      string    `json:"shortfall"`
}

// NewUsageSettled creates a UsageSettled event.
func NewUsageSettled(r *Reservation) *UsageSettled {
	return &UsageSettled{
		BaseEvent:      sharedDomain.NewBaseEvent(r.ID(), aggregateType, "sponsorship.usage.settled"),
		ReservationID:  r.ID(),
		OperationID:    r.OperationID(),
		SubscriptionID: r.SubscriptionID(),
		SettledAmount:  r.SettledAmount().String(),
		Shortfall:      r.Shortfall().String(),
	}
}

// UsageReleased is emitted when a reservation is discarded without deduction.
type UsageReleased struct {
	sharedDomain.BaseEvent
	ReservationID  uuid.UUID `json:"reservation_id"`
	OperationID    string    `json:"operation_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ReservedAmount string    `json:"reserved_amount"`
}

// NewUsageReleased creates a UsageReleased event.
func NewUsageReleased(r *Reservation) *UsageReleased {
	return &UsageReleased{
		BaseEvent:      sharedDomain.NewBaseEvent(r.ID(), aggregateType, "sponsorship.usage.released"),
		ReservationID:  r.ID(),
		OperationID:    r.OperationID(),
		SubscriptionID: r.SubscriptionID(),
		ReservedAmount: r.ReservedAmount().String(),
	}
}
