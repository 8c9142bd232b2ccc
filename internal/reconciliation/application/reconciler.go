package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gaspass/gaspass/internal/reconciliation/domain"
	sharedApplication "github.com/gaspass/gaspass/internal/shared/application"
	sharedDomain "github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	subscriptionDomain "github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const dedupeTTL = 24 * time.Hour

// Reconciler folds usage settled on other chains back into the authoritative
// subscription record. Outbound messages are written through the outbox in
// the same transaction as the settlement that produced them; inbound messages
// are applied exactly once via the applied-message ledger.
type Reconciler struct {
	repo       domain.Repository
	ledger     *subscriptionApplication.Ledger
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
	cache      *redis.Client
	chainID    uint64
	logger     *slog.Logger
}

// NewReconciler creates a new reconciler. cache may be nil; it is only a
// fast-path duplicate check in front of the durable ledger.
func NewReconciler(repo domain.Repository, ledger *subscriptionApplication.Ledger, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork, cache *redis.Client, chainID uint64, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:       repo,
		ledger:     ledger,
		outboxRepo: outboxRepo,
		uow:        uow,
		cache:      cache,
		chainID:    chainID,
		logger:     logger,
	}
}

// Send queues a reconciliation message for the subscription's home chain. The
// message is written to the outbox before any delivery attempt, so a crash or
// unavailable channel can delay it but never lose it. Joins the caller's
// transaction when one is in flight.
func (r *Reconciler) Send(ctx context.Context, subscriptionID uuid.UUID, homeChainID, sourceChainID uint64, amount *big.Int) error {
	return sharedApplication.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		seq, err := r.repo.NextSequence(txCtx, subscriptionID, homeChainID)
		if err != nil {
			return err
		}

		msg, err := domain.NewReconciliationMessage(subscriptionID, homeChainID, sourceChainID, amount, seq)
		if err != nil {
			return err
		}

		event := domain.NewDeductionForwarded(msg)
		sharedApplication.ApplyEventMetadata(
			[]sharedDomain.DomainEvent{event},
			sharedApplication.NewEventMetadata(r.chainID),
		)

		outboxMsg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		if err := r.outboxRepo.Save(txCtx, outboxMsg); err != nil {
			return err
		}

		r.logger.Info("reconciliation message queued",
			"message_id", msg.MessageID(),
			"subscription_id", subscriptionID,
			"home_chain_id", homeChainID,
			"source_chain_id", sourceChainID,
			"amount", amount,
			"sequence_number", seq,
		)
		return nil
	})
}

// Receive applies an inbound reconciliation message to the home-chain record.
// Redelivery is safe: an already-applied message ID is reported as success
// without touching the balance. The deduction is capped at the remaining
// balance, and a subscription that no longer exists absorbs the message so
// the stream doesn't wedge on it.
func (r *Reconciler) Receive(ctx context.Context, msg *domain.ReconciliationMessage) error {
	if msg == nil {
		return domain.ErrInvalidMessage
	}

	if r.seenInCache(ctx, msg.MessageID()) {
		r.logger.Debug("skipping reconciliation message",
			"message_id", msg.MessageID(),
			"reason", domain.ErrDuplicateMessage,
			"source", "cache",
		)
		return nil
	}

	err := sharedApplication.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		applied, err := r.repo.IsApplied(txCtx, msg.MessageID())
		if err != nil {
			return err
		}
		if applied {
			// Expected under at-least-once delivery; recovered locally
			r.logger.Debug("skipping reconciliation message",
				"message_id", msg.MessageID(),
				"source_chain_id", msg.SourceChainID(),
				"reason", domain.ErrDuplicateMessage,
			)
			return nil
		}

		last, err := r.repo.LastAppliedSequence(txCtx, msg.SubscriptionID(), msg.SourceChainID())
		if err != nil {
			return err
		}
		if msg.SequenceNumber() != last+1 {
			r.logger.Warn("reconciliation sequence gap",
				"subscription_id", msg.SubscriptionID(),
				"source_chain_id", msg.SourceChainID(),
				"expected", last+1,
				"got", msg.SequenceNumber(),
			)
		}

		deducted, shortfall, err := r.ledger.DeductCapped(txCtx, msg.SubscriptionID(), msg.Amount())
		switch {
		case errors.Is(err, subscriptionDomain.ErrNotFound):
			// Burned or never existed here. Absorb the message so the
			// stream can make progress.
			r.logger.Warn("reconciliation target subscription not found",
				"message_id", msg.MessageID(),
				"subscription_id", msg.SubscriptionID(),
			)
			deducted = new(big.Int)
			shortfall = msg.Amount()
		case err != nil:
			return err
		}

		if err := r.repo.MarkApplied(txCtx, &domain.AppliedMessage{
			MessageID:      msg.MessageID(),
			SubscriptionID: msg.SubscriptionID(),
			SourceChainID:  msg.SourceChainID(),
			SequenceNumber: msg.SequenceNumber(),
			Amount:         msg.Amount(),
			AppliedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}

		event := domain.NewUsageReconciled(msg, deducted.String(), shortfall.String())
		sharedApplication.ApplyEventMetadata(
			[]sharedDomain.DomainEvent{event},
			sharedApplication.NewEventMetadata(r.chainID),
		)
		outboxMsg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		if err := r.outboxRepo.Save(txCtx, outboxMsg); err != nil {
			return err
		}

		r.logger.Info("reconciliation message applied",
			"message_id", msg.MessageID(),
			"subscription_id", msg.SubscriptionID(),
			"source_chain_id", msg.SourceChainID(),
			"deducted", deducted,
			"shortfall", shortfall,
		)
		return nil
	})
	if err != nil {
		return err
	}

	r.rememberInCache(ctx, msg.MessageID())
	return nil
}

// Prune removes applied-message records older than the retention period.
func (r *Reconciler) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	pruned, err := r.repo.PruneApplied(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		r.logger.Info("pruned applied reconciliation messages", "count", pruned)
	}
	return pruned, nil
}

func (r *Reconciler) seenInCache(ctx context.Context, messageID uuid.UUID) bool {
	if r.cache == nil {
		return false
	}
	n, err := r.cache.Exists(ctx, dedupeKey(messageID)).Result()
	if err != nil {
		// Cache trouble never blocks; the durable ledger decides
		return false
	}
	return n > 0
}

func (r *Reconciler) rememberInCache(ctx context.Context, messageID uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, dedupeKey(messageID), 1, dedupeTTL).Err(); err != nil {
		r.logger.Debug("failed to cache applied message", "error", err)
	}
}

func dedupeKey(messageID uuid.UUID) string {
	return fmt.Sprintf("gaspass:reconciliation:applied:%s", messageID)
}
