package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	sharedApplication "github.com/gaspass/gaspass/internal/shared/application"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	"github.com/gaspass/gaspass/internal/sponsorship/domain"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	"github.com/google/uuid"
)

// UsageTracker holds tentative usage reservations between pre-authorization
// and settlement, keeping concurrent requests against the same subscription
// from over-committing its balance.
type UsageTracker struct {
	reservations domain.Repository
	ledger       *subscriptionApplication.Ledger
	outboxRepo   outbox.Repository
	uow          sharedApplication.UnitOfWork
	locks        *SubscriptionLocks
	chainID      uint64
	logger       *slog.Logger
}

// NewUsageTracker creates a new usage tracker.
func NewUsageTracker(reservations domain.Repository, ledger *subscriptionApplication.Ledger, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork, locks *SubscriptionLocks, chainID uint64, logger *slog.Logger) *UsageTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = NewSubscriptionLocks()
	}
	return &UsageTracker{
		reservations: reservations,
		ledger:       ledger,
		outboxRepo:   outboxRepo,
		uow:          uow,
		locks:        locks,
		chainID:      chainID,
		logger:       logger,
	}
}

// Reserve holds amount against the subscription's available balance for the
// given operation. Available balance is the remaining balance minus every
// other live reservation, computed and committed as one step under the
// subscription's lock so concurrent reservations can't both spend the same
// funds.
func (t *UsageTracker) Reserve(ctx context.Context, operationID string, subscriptionID uuid.UUID, amount *big.Int) (uuid.UUID, error) {
	t.locks.Lock(subscriptionID)
	defer t.locks.Unlock(subscriptionID)

	var reservationID uuid.UUID

	err := sharedApplication.WithUnitOfWork(ctx, t.uow, func(txCtx context.Context) error {
		existing, err := t.reservations.FindLiveByOperationID(txCtx, operationID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, operationID)
		}

		sub, err := t.ledger.Get(txCtx, subscriptionID)
		if err != nil {
			return err
		}

		held, err := t.reservations.SumLiveBySubscription(txCtx, subscriptionID)
		if err != nil {
			return err
		}

		available := sub.RemainingBalance()
		available.Sub(available, held)
		if amount == nil || amount.Cmp(available) > 0 {
			return fmt.Errorf("%w: requested %s, available %s", domain.ErrInsufficientAvailable, amount, available)
		}

		reservation, err := domain.NewReservation(operationID, subscriptionID, t.chainID, amount)
		if err != nil {
			return err
		}

		if err := t.saveWithEvents(txCtx, reservation); err != nil {
			return err
		}

		reservationID = reservation.ID()
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	t.logger.Debug("usage reserved",
		"reservation_id", reservationID,
		"operation_id", operationID,
		"subscription_id", subscriptionID,
		"amount", amount,
	)

	return reservationID, nil
}

// Commit settles a reservation, permanently deducting amount (nil means the
// reserved amount) from the subscription. The deduction is capped at the
// remaining balance; any shortfall is recorded on the reservation rather than
// failing, since the gas was already advanced. Committing an already-settled
// reservation is an idempotent no-op.
func (t *UsageTracker) Commit(ctx context.Context, reservationID uuid.UUID, amount *big.Int) (settled, shortfall *big.Int, err error) {
	reservation, err := t.get(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}

	subscriptionID := reservation.SubscriptionID()
	t.locks.Lock(subscriptionID)
	defer t.locks.Unlock(subscriptionID)

	return t.commitLocked(ctx, reservationID, amount)
}

// commitLocked is Commit without lock acquisition. The caller must already
// hold the subscription's lock; the lock is always taken before the unit of
// work so a transaction never waits on a lock holder that needs the
// connection.
func (t *UsageTracker) commitLocked(ctx context.Context, reservationID uuid.UUID, amount *big.Int) (settled, shortfall *big.Int, err error) {
	var reservation *domain.Reservation

	err = sharedApplication.WithUnitOfWork(ctx, t.uow, func(txCtx context.Context) error {
		reservation, err = t.get(txCtx, reservationID)
		if err != nil {
			return err
		}

		switch reservation.State() {
		case domain.StateSettled:
			settled = reservation.SettledAmount()
			shortfall = reservation.Shortfall()
			return nil
		case domain.StateReleased:
			return domain.ErrAlreadyReleased
		}

		charge := amount
		if charge == nil {
			charge = reservation.ReservedAmount()
		}

		settled, shortfall, err = t.ledger.DeductCapped(txCtx, reservation.SubscriptionID(), charge)
		if err != nil {
			return err
		}

		if err := reservation.Commit(settled, shortfall); err != nil {
			return err
		}
		return t.saveWithEvents(txCtx, reservation)
	})
	if err != nil {
		return nil, nil, err
	}
	return settled, shortfall, nil
}

// Release discards a reservation without any deduction. Releasing an
// already-released reservation is an idempotent no-op.
func (t *UsageTracker) Release(ctx context.Context, reservationID uuid.UUID) error {
	reservation, err := t.get(ctx, reservationID)
	if err != nil {
		return err
	}

	subscriptionID := reservation.SubscriptionID()
	t.locks.Lock(subscriptionID)
	defer t.locks.Unlock(subscriptionID)

	return sharedApplication.WithUnitOfWork(ctx, t.uow, func(txCtx context.Context) error {
		reservation, err := t.get(txCtx, reservationID)
		if err != nil {
			return err
		}
		if err := reservation.Release(); err != nil {
			return err
		}
		return t.saveWithEvents(txCtx, reservation)
	})
}

// Sweep releases live reservations older than maxAge, freeing balance held by
// operations that never settled. Returns the number of reservations released.
// A Commit or Release racing in first wins; the sweep sees the terminal state
// and skips the entry.
func (t *UsageTracker) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	stale, err := t.reservations.FindLiveOlderThan(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, candidate := range stale {
		if err := t.Release(ctx, candidate.ID()); err != nil {
			// Settled in the meantime; leave it be
			if errors.Is(err, domain.ErrAlreadyCommitted) {
				continue
			}
			t.logger.Error("sweep failed to release reservation",
				"reservation_id", candidate.ID(),
				"operation_id", candidate.OperationID(),
				"error", err,
			)
			continue
		}
		released++
		t.logger.Info("swept stale reservation",
			"reservation_id", candidate.ID(),
			"operation_id", candidate.OperationID(),
			"subscription_id", candidate.SubscriptionID(),
			"age", time.Since(candidate.CreatedAt()),
		)
	}

	return released, nil
}

func (t *UsageTracker) get(ctx context.Context, reservationID uuid.UUID) (*domain.Reservation, error) {
	reservation, err := t.reservations.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, reservationID)
	}
	return reservation, nil
}

func (t *UsageTracker) saveWithEvents(ctx context.Context, reservation *domain.Reservation) error {
	if err := t.reservations.Save(ctx, reservation); err != nil {
		return err
	}

	events := reservation.DomainEvents()
	if len(events) == 0 {
		return nil
	}
	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(t.chainID))

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := t.outboxRepo.SaveBatch(ctx, msgs); err != nil {
		return err
	}
	reservation.ClearDomainEvents()
	return nil
}
