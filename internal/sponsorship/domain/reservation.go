package domain

import (
	"errors"
	"math/big"
	"time"

	sharedDomain "github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/google/uuid"
)

var (
	ErrDuplicateOperation    = errors.New("operation already has a live reservation")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrAlreadyCommitted      = errors.New("reservation already committed")
	ErrAlreadyReleased       = errors.New("reservation already released")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrNotSponsored          = errors.New("requester is not sponsored by the subscription")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// ReservationState tracks the reservation lifecycle.
type ReservationState string

const (
	StateReserved ReservationState = "reserved"
	StateSettled  ReservationState = "settled"
	StateReleased ReservationState = "released"
)

// Reservation is a tentative hold against a subscription's available balance,
// keyed by the identity of the sponsored operation. The held amount is not
// subtracted from the subscription's remaining balance until settlement
// commits it; until then it only reduces the balance available to new
// reservations.
type Reservation struct {
	sharedDomain.BaseAggregateRoot
	operationID    string
	subscriptionID uuid.UUID
	chainID        uint64
	reserved       *big.Int
	state          ReservationState
	settledAmount  *big.Int
	shortfall      *big.Int
}

// NewReservation creates a live reservation for an operation.
func NewReservation(operationID string, subscriptionID uuid.UUID, chainID uint64, amount *big.Int) (*Reservation, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	r := &Reservation{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		operationID:       operationID,
		subscriptionID:    subscriptionID,
		chainID:           chainID,
		reserved:          new(big.Int).Set(amount),
		state:             StateReserved,
	}

	r.AddDomainEvent(NewUsageReserved(r))

	return r, nil
}

// RehydrateReservation recreates a reservation from persisted state.
func RehydrateReservation(id uuid.UUID, operationID string, subscriptionID uuid.UUID, chainID uint64, reserved *big.Int, state ReservationState, settledAmount, shortfall *big.Int, createdAt, updatedAt time.Time) *Reservation {
	r := &Reservation{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		),
		operationID:    operationID,
		subscriptionID: subscriptionID,
		chainID:        chainID,
		reserved:       new(big.Int).Set(reserved),
		state:          state,
	}
	if settledAmount != nil {
		r.settledAmount = new(big.Int).Set(settledAmount)
	}
	if shortfall != nil {
		r.shortfall = new(big.Int).Set(shortfall)
	}
	return r
}

func (r *Reservation) OperationID() string       { return r.operationID }
func (r *Reservation) SubscriptionID() uuid.UUID { return r.subscriptionID }
func (r *Reservation) ChainID() uint64           { return r.chainID }
func (r *Reservation) State() ReservationState   { return r.state }
func (r *Reservation) ReservedAmount() *big.Int  { return new(big.Int).Set(r.reserved) }

// SettledAmount returns the amount committed at settlement, or nil while live.
func (r *Reservation) SettledAmount() *big.Int {
	if r.settledAmount == nil {
		return nil
	}
	return new(big.Int).Set(r.settledAmount)
}

// Shortfall returns the uncollectable excess recorded at settlement, or nil.
func (r *Reservation) Shortfall() *big.Int {
	if r.shortfall == nil {
		return nil
	}
	return new(big.Int).Set(r.shortfall)
}

// IsLive reports whether the reservation still holds balance.
func (r *Reservation) IsLive() bool {
	return r.state == StateReserved
}

// IsOlderThan reports whether the reservation was created before the cutoff.
func (r *Reservation) IsOlderThan(cutoff time.Time) bool {
	return r.CreatedAt().Before(cutoff)
}

// Commit transitions Reserved → Settled, recording the amount actually
// deducted and any shortfall. Committing an already-settled reservation is an
// idempotent no-op; committing a released one is an error.
func (r *Reservation) Commit(settledAmount, shortfall *big.Int) error {
	switch r.state {
	case StateSettled:
		return nil
	case StateReleased:
		return ErrAlreadyReleased
	}

	r.state = StateSettled
	r.settledAmount = new(big.Int).Set(settledAmount)
	r.shortfall = new(big.Int).Set(shortfall)
	r.Touch()
	r.AddDomainEvent(NewUsageSettled(r))
	return nil
}

// Release transitions Reserved → Released, discarding the hold. Releasing an
// already-released reservation is an idempotent no-op; releasing a settled one
// is an error.
func (r *Reservation) Release() error {
	switch r.state {
	case StateReleased:
		return nil
	case StateSettled:
		return ErrAlreadyCommitted
	}

	r.state = StateReleased
	r.Touch()
	r.AddDomainEvent(NewUsageReleased(r))
	return nil
}
