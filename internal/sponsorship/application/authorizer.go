package application

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	sharedApplication "github.com/gaspass/gaspass/internal/shared/application"
	"github.com/gaspass/gaspass/internal/sponsorship/domain"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	subscriptionDomain "github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
)

// Outcome classifies how a sponsored operation finished on chain.
type Outcome string

const (
	// OutcomeSucceeded means the operation executed successfully.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailedChargeable means the operation reverted but gas was still
	// consumed on its behalf and must be charged.
	OutcomeFailedChargeable Outcome = "failed_chargeable"
	// OutcomeFailedNotChargeable means the operation never consumed sponsored
	// gas, so the hold is returned in full.
	OutcomeFailedNotChargeable Outcome = "failed_not_chargeable"
)

// AuthorizeRequest carries everything needed to decide sponsorship for one
// operation.
type AuthorizeRequest struct {
	OperationID      string
	Requester        string
	SubscriptionID   uuid.UUID
	ExecutionChainID uint64
	EstimatedAmount  *big.Int
}

// AuthorizeContext is handed back on a successful pre-authorization and must
// be presented again at settlement.
type AuthorizeContext struct {
	OperationID      string
	ReservationID    uuid.UUID
	SubscriptionID   uuid.UUID
	ExecutionChainID uint64
	EstimatedAmount  *big.Int
}

// Reconciler forwards settled cross-chain usage back to the subscription's
// home chain.
type Reconciler interface {
	Send(ctx context.Context, subscriptionID uuid.UUID, homeChainID, sourceChainID uint64, amount *big.Int) error
}

// Authorizer is the sponsorship decision point: it validates a request against
// the subscription's sponsored set and active window, places a hold through
// the usage tracker, and later settles or releases the hold depending on how
// the operation turned out.
type Authorizer struct {
	ledger     *subscriptionApplication.Ledger
	tracker    *UsageTracker
	reconciler Reconciler
	uow        sharedApplication.UnitOfWork
	chainID    uint64
	logger     *slog.Logger
}

// NewAuthorizer creates a new sponsorship authorizer. reconciler may be nil
// when the node only serves subscriptions homed on its own chain.
func NewAuthorizer(ledger *subscriptionApplication.Ledger, tracker *UsageTracker, reconciler Reconciler, uow sharedApplication.UnitOfWork, chainID uint64, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		ledger:     ledger,
		tracker:    tracker,
		reconciler: reconciler,
		uow:        uow,
		chainID:    chainID,
		logger:     logger,
	}
}

// PreAuthorize decides whether the operation may be sponsored. It checks that
// the requester is in the subscription's sponsored set and that the
// subscription is active right now, then reserves the estimated amount. The
// returned context carries the reservation through to Settle.
func (a *Authorizer) PreAuthorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeContext, error) {
	sub, err := a.ledger.Get(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if !sub.IsSponsored(req.Requester) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotSponsored, req.Requester)
	}
	if !sub.IsActiveAt(time.Now().UTC()) {
		return nil, subscriptionDomain.ErrNotActive
	}

	reservationID, err := a.tracker.Reserve(ctx, req.OperationID, req.SubscriptionID, req.EstimatedAmount)
	if err != nil {
		return nil, err
	}

	a.logger.Info("operation pre-authorized",
		"operation_id", req.OperationID,
		"subscription_id", req.SubscriptionID,
		"requester", req.Requester,
		"execution_chain_id", req.ExecutionChainID,
		"estimated_amount", req.EstimatedAmount,
	)

	return &AuthorizeContext{
		OperationID:      req.OperationID,
		ReservationID:    reservationID,
		SubscriptionID:   req.SubscriptionID,
		ExecutionChainID: req.ExecutionChainID,
		EstimatedAmount:  req.EstimatedAmount,
	}, nil
}

// Settle closes out a pre-authorized operation. Chargeable outcomes commit
// the reservation with the actual amount (nil means charge the estimate); a
// not-chargeable failure releases the hold untouched. When the operation ran
// on a chain other than the subscription's home chain, the settled amount is
// queued for reconciliation in the same transaction as the commit.
//
// The stored reservation is authoritative: the context's subscription and
// execution chain must match what was recorded at pre-authorization, and the
// recorded values drive the deduction and reconciliation routing.
func (a *Authorizer) Settle(ctx context.Context, authCtx *AuthorizeContext, outcome Outcome, actualAmount *big.Int) error {
	if authCtx == nil {
		return domain.ErrReservationNotFound
	}

	reservation, err := a.tracker.get(ctx, authCtx.ReservationID)
	if err != nil {
		return err
	}
	subscriptionID := reservation.SubscriptionID()
	executionChainID := reservation.ChainID()
	if authCtx.SubscriptionID != uuid.Nil && authCtx.SubscriptionID != subscriptionID {
		return fmt.Errorf("%w: reservation %s is not held against subscription %s",
			domain.ErrReservationNotFound, authCtx.ReservationID, authCtx.SubscriptionID)
	}
	if authCtx.ExecutionChainID != 0 && authCtx.ExecutionChainID != executionChainID {
		return fmt.Errorf("%w: reservation %s was not placed for chain %d",
			domain.ErrReservationNotFound, authCtx.ReservationID, authCtx.ExecutionChainID)
	}

	if outcome == OutcomeFailedNotChargeable {
		if err := a.tracker.Release(ctx, authCtx.ReservationID); err != nil {
			return err
		}
		a.logger.Info("operation settled without charge",
			"operation_id", authCtx.OperationID,
			"reservation_id", authCtx.ReservationID,
		)
		return nil
	}

	// Lock before opening the unit of work. Every writer takes the
	// subscription lock first and the database connection second.
	a.tracker.locks.Lock(subscriptionID)
	defer a.tracker.locks.Unlock(subscriptionID)

	return sharedApplication.WithUnitOfWork(ctx, a.uow, func(txCtx context.Context) error {
		settled, shortfall, err := a.tracker.commitLocked(txCtx, authCtx.ReservationID, actualAmount)
		if err != nil {
			return err
		}

		sub, err := a.ledger.Get(txCtx, subscriptionID)
		if err != nil {
			return err
		}

		if executionChainID != sub.HomeChainID() && settled.Sign() > 0 {
			if a.reconciler == nil {
				return fmt.Errorf("cross-chain settlement for subscription %s but no reconciler configured", subscriptionID)
			}
			if err := a.reconciler.Send(txCtx, subscriptionID, sub.HomeChainID(), executionChainID, settled); err != nil {
				return err
			}
		}

		a.logger.Info("operation settled",
			"operation_id", authCtx.OperationID,
			"reservation_id", authCtx.ReservationID,
			"outcome", outcome,
			"settled_amount", settled,
			"shortfall", shortfall,
		)
		return nil
	})
}
