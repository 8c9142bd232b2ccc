package application

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	sharedApplication "github.com/gaspass/gaspass/internal/shared/application"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	"github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
)

// Ledger owns subscription records and applies every balance and window
// mutation. Owner-only operations consult the injected ownership authority.
type Ledger struct {
	subscriptions domain.Repository
	ownership     domain.OwnershipAuthority
	outboxRepo    outbox.Repository
	uow           sharedApplication.UnitOfWork
	chainID       uint64
	logger        *slog.Logger
}

// NewLedger creates a new subscription ledger service.
func NewLedger(subscriptions domain.Repository, ownership domain.OwnershipAuthority, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork, chainID uint64, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		subscriptions: subscriptions,
		ownership:     ownership,
		outboxRepo:    outboxRepo,
		uow:           uow,
		chainID:       chainID,
		logger:        logger,
	}
}

// MintParams carries the data needed to mint a subscription.
type MintParams struct {
	Owner              string
	HomeChainID        uint64
	PaymentToken       string
	StartTime          time.Time
	EndTime            time.Time
	PaidAmount         *big.Int
	SponsoredAddresses []string
}

// Mint creates a subscription record with remaining balance equal to the paid
// amount and returns its ID.
func (l *Ledger) Mint(ctx context.Context, params MintParams) (uuid.UUID, error) {
	var id uuid.UUID

	err := sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := domain.NewSubscription(
			params.Owner,
			params.HomeChainID,
			params.PaymentToken,
			params.StartTime,
			params.EndTime,
			params.PaidAmount,
			params.SponsoredAddresses,
		)
		if err != nil {
			return err
		}

		if err := l.saveWithEvents(txCtx, sub); err != nil {
			return err
		}

		id = sub.ID()
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	l.logger.Info("subscription minted",
		"subscription_id", id,
		"owner", params.Owner,
		"home_chain_id", params.HomeChainID,
		"paid_amount", params.PaidAmount,
	)

	return id, nil
}

// IsActive reports whether the subscription has balance left and its validity
// window covers the current instant.
func (l *Ledger) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	sub, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return sub.IsActiveAt(time.Now().UTC()), nil
}

// Get loads a subscription or fails with ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := l.subscriptions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return sub, nil
}

// GetByOwner returns every subscription owned by the address.
func (l *Ledger) GetByOwner(ctx context.Context, owner string) ([]*domain.Subscription, error) {
	return l.subscriptions.FindByOwner(ctx, owner)
}

// Deduct permanently removes amount from the subscription's remaining balance.
func (l *Ledger) Deduct(ctx context.Context, id uuid.UUID, amount *big.Int) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.Get(txCtx, id)
		if err != nil {
			return err
		}
		if err := sub.Deduct(amount, time.Now().UTC()); err != nil {
			return err
		}
		return l.saveWithEvents(txCtx, sub)
	})
}

// DeductCapped removes up to amount, capping at the remaining balance, and
// returns what was actually deducted plus any shortfall. Used where the spend
// already happened (settlement, reconciled cross-chain usage) and a refusal
// would lose the record.
func (l *Ledger) DeductCapped(ctx context.Context, id uuid.UUID, amount *big.Int) (deducted, shortfall *big.Int, err error) {
	err = sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.Get(txCtx, id)
		if err != nil {
			return err
		}
		deducted, shortfall = sub.DeductCapped(amount)
		return l.saveWithEvents(txCtx, sub)
	})
	if err != nil {
		return nil, nil, err
	}
	if shortfall.Sign() > 0 {
		l.logger.Warn("deduction capped at remaining balance",
			"subscription_id", id,
			"requested", amount,
			"deducted", deducted,
			"shortfall", shortfall,
		)
	}
	return deducted, shortfall, nil
}

// TopUp increases the paid amount and remaining balance. Owner-only.
func (l *Ledger) TopUp(ctx context.Context, id uuid.UUID, caller string, amount *big.Int) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.getOwned(txCtx, id, caller)
		if err != nil {
			return err
		}
		if err := sub.TopUp(amount); err != nil {
			return err
		}
		return l.saveWithEvents(txCtx, sub)
	})
}

// ExtendWindow pushes the subscription's end time out. Owner-only.
func (l *Ledger) ExtendWindow(ctx context.Context, id uuid.UUID, caller string, additional time.Duration) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.getOwned(txCtx, id, caller)
		if err != nil {
			return err
		}
		if err := sub.ExtendWindow(additional); err != nil {
			return err
		}
		return l.saveWithEvents(txCtx, sub)
	})
}

// SetSponsoredAddresses replaces the sponsored set. Owner-only.
func (l *Ledger) SetSponsoredAddresses(ctx context.Context, id uuid.UUID, caller string, addresses []string) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.getOwned(txCtx, id, caller)
		if err != nil {
			return err
		}
		sub.SetSponsoredAddresses(addresses)
		return l.saveWithEvents(txCtx, sub)
	})
}

// AddSponsored adds an address to the sponsored set. Owner-only.
func (l *Ledger) AddSponsored(ctx context.Context, id uuid.UUID, caller, address string) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.getOwned(txCtx, id, caller)
		if err != nil {
			return err
		}
		sub.AddSponsored(address)
		return l.saveWithEvents(txCtx, sub)
	})
}

// RemoveSponsored removes an address from the sponsored set. Owner-only.
func (l *Ledger) RemoveSponsored(ctx context.Context, id uuid.UUID, caller, address string) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.getOwned(txCtx, id, caller)
		if err != nil {
			return err
		}
		if err := sub.RemoveSponsored(address); err != nil {
			return err
		}
		return l.saveWithEvents(txCtx, sub)
	})
}

// Burn removes an inactive subscription's record. Owner-only.
func (l *Ledger) Burn(ctx context.Context, id uuid.UUID, caller string) error {
	return sharedApplication.WithUnitOfWork(ctx, l.uow, func(txCtx context.Context) error {
		sub, err := l.getOwned(txCtx, id, caller)
		if err != nil {
			return err
		}
		if err := sub.Burn(time.Now().UTC()); err != nil {
			return err
		}

		if err := l.writeEvents(txCtx, sub); err != nil {
			return err
		}
		return l.subscriptions.Delete(txCtx, sub.ID())
	})
}

func (l *Ledger) getOwned(ctx context.Context, id uuid.UUID, caller string) (*domain.Subscription, error) {
	sub, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	owns, err := l.ownership.IsOwner(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, domain.ErrNotOwner
	}
	return sub, nil
}

func (l *Ledger) saveWithEvents(ctx context.Context, sub *domain.Subscription) error {
	if err := l.subscriptions.Save(ctx, sub); err != nil {
		return err
	}
	return l.writeEvents(ctx, sub)
}

func (l *Ledger) writeEvents(ctx context.Context, sub *domain.Subscription) error {
	events := sub.DomainEvents()
	if len(events) == 0 {
		return nil
	}
	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(l.chainID))

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := l.outboxRepo.SaveBatch(ctx, msgs); err != nil {
		return err
	}
	sub.ClearDomainEvents()
	return nil
}
