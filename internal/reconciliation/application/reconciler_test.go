package application

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaspass/gaspass/internal/reconciliation/domain"
	reconciliationPersistence "github.com/gaspass/gaspass/internal/reconciliation/infrastructure/persistence"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/database"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	subscriptionPersistence "github.com/gaspass/gaspass/internal/subscription/infrastructure/persistence"
)

type reconcilerStack struct {
	reconciler *Reconciler
	ledger     *subscriptionApplication.Ledger
	repo       domain.Repository
	outboxRepo outbox.Repository
}

func newReconcilerStack(t *testing.T, chainID uint64) *reconcilerStack {
	t.Helper()

	conn, err := database.Open(context.Background(), "file::memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Migrate(context.Background()))
	t.Cleanup(func() { conn.Close() })

	db := conn.DB()
	uow := sharedPersistence.NewSQLiteUnitOfWork(db)
	subscriptionRepo := subscriptionPersistence.NewSQLiteSubscriptionRepository(db)
	reconciliationRepo := reconciliationPersistence.NewSQLiteReconciliationRepository(db)
	outboxRepo := outbox.NewSQLiteRepository(db)

	ownership := subscriptionApplication.NewRecordOwnership(subscriptionRepo)
	ledger := subscriptionApplication.NewLedger(subscriptionRepo, ownership, outboxRepo, uow, chainID, nil)
	reconciler := NewReconciler(reconciliationRepo, ledger, outboxRepo, uow, nil, chainID, nil)

	return &reconcilerStack{
		reconciler: reconciler,
		ledger:     ledger,
		repo:       reconciliationRepo,
		outboxRepo: outboxRepo,
	}
}

func (s *reconcilerStack) mint(t *testing.T, paid int64) uuid.UUID {
	t.Helper()

	start := time.Now().UTC().Add(-time.Hour)
	id, err := s.ledger.Mint(context.Background(), subscriptionApplication.MintParams{
		Owner:              "0xowner",
		HomeChainID:        1,
		PaymentToken:       "0xtoken",
		StartTime:          start,
		EndTime:            start.Add(24 * time.Hour),
		PaidAmount:         big.NewInt(paid),
		SponsoredAddresses: []string{"0xalice"},
	})
	require.NoError(t, err)
	return id
}

func (s *reconcilerStack) remaining(t *testing.T, id uuid.UUID) *big.Int {
	t.Helper()
	sub, err := s.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return sub.RemainingBalance()
}

func (s *reconcilerStack) outboxByRoutingKey(t *testing.T, routingKey string) []*outbox.Message {
	t.Helper()
	msgs, err := s.outboxRepo.GetUnpublished(context.Background(), 100)
	require.NoError(t, err)

	matched := make([]*outbox.Message, 0)
	for _, msg := range msgs {
		if msg.RoutingKey == routingKey {
			matched = append(matched, msg)
		}
	}
	return matched
}

func TestReconciler_Send(t *testing.T) {
	stack := newReconcilerStack(t, 10)
	ctx := context.Background()
	subID := uuid.New()

	require.NoError(t, stack.reconciler.Send(ctx, subID, 1, 10, big.NewInt(60)))
	require.NoError(t, stack.reconciler.Send(ctx, subID, 1, 10, big.NewInt(40)))

	queued := stack.outboxByRoutingKey(t, "reconciliation.chain.1")
	require.Len(t, queued, 2)

	var first, second domain.ReconciliationMessage
	require.NoError(t, json.Unmarshal(queued[0].Payload, &first))
	require.NoError(t, json.Unmarshal(queued[1].Payload, &second))

	assert.Equal(t, subID, first.SubscriptionID())
	assert.Equal(t, uint64(1), first.HomeChainID())
	assert.Equal(t, uint64(10), first.SourceChainID())
	assert.Equal(t, big.NewInt(60), first.Amount())

	// Sequence numbers are contiguous within the subscription's stream
	assert.Equal(t, uint64(1), first.SequenceNumber())
	assert.Equal(t, uint64(2), second.SequenceNumber())
}

func TestReconciler_Send_SequencesArePerSubscription(t *testing.T) {
	stack := newReconcilerStack(t, 10)
	ctx := context.Background()
	subA := uuid.New()
	subB := uuid.New()

	require.NoError(t, stack.reconciler.Send(ctx, subA, 1, 10, big.NewInt(60)))
	require.NoError(t, stack.reconciler.Send(ctx, subA, 1, 10, big.NewInt(40)))
	require.NoError(t, stack.reconciler.Send(ctx, subB, 1, 10, big.NewInt(25)))

	queued := stack.outboxByRoutingKey(t, "reconciliation.chain.1")
	require.Len(t, queued, 3)

	bySubscription := make(map[uuid.UUID][]uint64)
	for _, raw := range queued {
		var msg domain.ReconciliationMessage
		require.NoError(t, json.Unmarshal(raw.Payload, &msg))
		bySubscription[msg.SubscriptionID()] = append(bySubscription[msg.SubscriptionID()], msg.SequenceNumber())
	}

	// One subscription's traffic to a chain never advances another's stream
	assert.Equal(t, []uint64{1, 2}, bySubscription[subA])
	assert.Equal(t, []uint64{1}, bySubscription[subB])
}

func TestReconciler_Send_InvalidAmount(t *testing.T) {
	stack := newReconcilerStack(t, 10)

	err := stack.reconciler.Send(context.Background(), uuid.New(), 1, 10, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestReconciler_Receive(t *testing.T) {
	stack := newReconcilerStack(t, 1)
	ctx := context.Background()
	subID := stack.mint(t, 100)

	msg, err := domain.NewReconciliationMessage(subID, 1, 10, big.NewInt(60), 1)
	require.NoError(t, err)

	require.NoError(t, stack.reconciler.Receive(ctx, msg))
	assert.Equal(t, big.NewInt(40), stack.remaining(t, subID))

	applied, err := stack.repo.IsApplied(ctx, msg.MessageID())
	require.NoError(t, err)
	assert.True(t, applied)

	reconciled := stack.outboxByRoutingKey(t, "reconciliation.usage.reconciled")
	require.Len(t, reconciled, 1)
}

func TestReconciler_Receive_DuplicateIsNoOp(t *testing.T) {
	stack := newReconcilerStack(t, 1)
	ctx := context.Background()
	subID := stack.mint(t, 100)

	msg, err := domain.NewReconciliationMessage(subID, 1, 10, big.NewInt(60), 1)
	require.NoError(t, err)

	require.NoError(t, stack.reconciler.Receive(ctx, msg))
	require.NoError(t, stack.reconciler.Receive(ctx, msg))

	// Redelivery reports success without a second deduction
	assert.Equal(t, big.NewInt(40), stack.remaining(t, subID))
	assert.Len(t, stack.outboxByRoutingKey(t, "reconciliation.usage.reconciled"), 1)
}

func TestReconciler_Receive_CapsAtRemaining(t *testing.T) {
	stack := newReconcilerStack(t, 1)
	ctx := context.Background()
	subID := stack.mint(t, 100)

	msg, err := domain.NewReconciliationMessage(subID, 1, 10, big.NewInt(150), 1)
	require.NoError(t, err)

	require.NoError(t, stack.reconciler.Receive(ctx, msg))
	assert.Equal(t, big.NewInt(0), stack.remaining(t, subID))
}

func TestReconciler_Receive_UnknownSubscriptionIsAbsorbed(t *testing.T) {
	stack := newReconcilerStack(t, 1)
	ctx := context.Background()

	msg, err := domain.NewReconciliationMessage(uuid.New(), 1, 10, big.NewInt(60), 1)
	require.NoError(t, err)

	// The record is gone; the message still counts as applied so the stream
	// can move past it
	require.NoError(t, stack.reconciler.Receive(ctx, msg))

	applied, err := stack.repo.IsApplied(ctx, msg.MessageID())
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestReconciler_Receive_SequenceGapStillApplies(t *testing.T) {
	stack := newReconcilerStack(t, 1)
	ctx := context.Background()
	subID := stack.mint(t, 100)

	// Sequence 5 arrives with 1-4 missing; the deduction is applied anyway
	msg, err := domain.NewReconciliationMessage(subID, 1, 10, big.NewInt(60), 5)
	require.NoError(t, err)

	require.NoError(t, stack.reconciler.Receive(ctx, msg))
	assert.Equal(t, big.NewInt(40), stack.remaining(t, subID))
}

func TestReconciler_Receive_NilMessage(t *testing.T) {
	stack := newReconcilerStack(t, 1)

	err := stack.reconciler.Receive(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestReconciler_Prune(t *testing.T) {
	stack := newReconcilerStack(t, 1)
	ctx := context.Background()
	subID := stack.mint(t, 100)

	msg, err := domain.NewReconciliationMessage(subID, 1, 10, big.NewInt(10), 1)
	require.NoError(t, err)
	require.NoError(t, stack.reconciler.Receive(ctx, msg))

	time.Sleep(20 * time.Millisecond)

	pruned, err := stack.reconciler.Prune(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
