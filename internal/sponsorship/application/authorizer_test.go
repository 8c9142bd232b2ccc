package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaspass/gaspass/internal/sponsorship/domain"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	subscriptionDomain "github.com/gaspass/gaspass/internal/subscription/domain"
)

type recordingReconciler struct {
	calls []reconcilerCall
	err   error
}

type reconcilerCall struct {
	subscriptionID uuid.UUID
	homeChainID    uint64
	sourceChainID  uint64
	amount         *big.Int
}

func (r *recordingReconciler) Send(ctx context.Context, subscriptionID uuid.UUID, homeChainID, sourceChainID uint64, amount *big.Int) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, reconcilerCall{subscriptionID, homeChainID, sourceChainID, new(big.Int).Set(amount)})
	return nil
}

func newTestAuthorizer(t *testing.T, stack *testStack, reconciler Reconciler, chainID uint64) *Authorizer {
	t.Helper()
	return NewAuthorizer(stack.ledger, stack.tracker, reconciler, stack.uow, chainID, nil)
}

func TestAuthorizer_PreAuthorize(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xALICE",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)
	require.NotNil(t, authCtx)
	assert.Equal(t, "op-1", authCtx.OperationID)
	assert.NotEqual(t, uuid.Nil, authCtx.ReservationID)
	assert.Equal(t, subID, authCtx.SubscriptionID)
	assert.Equal(t, big.NewInt(60), authCtx.EstimatedAmount)
}

func TestAuthorizer_PreAuthorize_NotSponsored(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	_, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xmallory",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	assert.ErrorIs(t, err, domain.ErrNotSponsored)
}

func TestAuthorizer_PreAuthorize_NotActive(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)

	// Window opens tomorrow
	start := time.Now().UTC().Add(24 * time.Hour)
	subID, err := stack.ledger.Mint(context.Background(), subscriptionApplication.MintParams{
		Owner:              "0xowner",
		HomeChainID:        1,
		PaymentToken:       "0xtoken",
		StartTime:          start,
		EndTime:            start.Add(24 * time.Hour),
		PaidAmount:         big.NewInt(100),
		SponsoredAddresses: []string{"0xalice"},
	})
	require.NoError(t, err)

	_, err = authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	assert.ErrorIs(t, err, subscriptionDomain.ErrNotActive)
}

func TestAuthorizer_PreAuthorize_UnknownSubscription(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)

	_, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   uuid.New(),
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	assert.ErrorIs(t, err, subscriptionDomain.ErrNotFound)
}

func TestAuthorizer_Settle_Succeeded(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	require.NoError(t, authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, big.NewInt(45)))
	assert.Equal(t, big.NewInt(55), stack.remaining(t, subID))
}

func TestAuthorizer_Settle_FailedChargeable(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	// Reverted on chain but gas was spent; nil actual charges the estimate
	require.NoError(t, authorizer.Settle(context.Background(), authCtx, OutcomeFailedChargeable, nil))
	assert.Equal(t, big.NewInt(40), stack.remaining(t, subID))
}

func TestAuthorizer_Settle_FailedNotChargeable(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	require.NoError(t, authorizer.Settle(context.Background(), authCtx, OutcomeFailedNotChargeable, nil))
	assert.Equal(t, big.NewInt(100), stack.remaining(t, subID))

	// The full balance is available again
	_, err = stack.tracker.Reserve(context.Background(), "op-2", subID, big.NewInt(100))
	assert.NoError(t, err)
}

func TestAuthorizer_Settle_NilContext(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)

	err := authorizer.Settle(context.Background(), nil, OutcomeSucceeded, nil)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestAuthorizer_Settle_SubscriptionMismatch(t *testing.T) {
	stack := newTestStack(t, 1)
	reconciler := &recordingReconciler{}
	authorizer := newTestAuthorizer(t, stack, reconciler, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	// A context naming a different subscription than the one the reservation
	// was placed against is rejected outright
	authCtx.SubscriptionID = uuid.New()
	err = authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, big.NewInt(45))
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	// Nothing was charged or forwarded
	assert.Equal(t, big.NewInt(100), stack.remaining(t, subID))
	assert.Empty(t, reconciler.calls)
}

func TestAuthorizer_Settle_ExecutionChainMismatch(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	authCtx.ExecutionChainID = 42161
	err = authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, nil)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	assert.Equal(t, big.NewInt(100), stack.remaining(t, subID))
}

func TestAuthorizer_ConcurrentReserveAndSettle(t *testing.T) {
	stack := newTestStack(t, 1)
	authorizer := newTestAuthorizer(t, stack, nil, 1)
	subID := stack.mint(t, 100, "0xalice")

	const workers = 30
	const amount = 10

	var settled, live atomic.Int64
	errCh := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
				OperationID:      fmt.Sprintf("op-%d", i),
				Requester:        "0xalice",
				SubscriptionID:   subID,
				ExecutionChainID: 1,
				EstimatedAmount:  big.NewInt(amount),
			})
			if err != nil {
				// The cap rejecting over-subscription is the only acceptable
				// failure here
				if !errors.Is(err, domain.ErrInsufficientAvailable) {
					errCh <- err
				}
				return
			}

			switch i % 3 {
			case 0:
				if err := authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, big.NewInt(amount)); err != nil {
					errCh <- err
					return
				}
				settled.Add(1)
			case 1:
				if err := authorizer.Settle(context.Background(), authCtx, OutcomeFailedNotChargeable, nil); err != nil {
					errCh <- err
					return
				}
			default:
				live.Add(1)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent reserve/settle did not finish; lock ordering is broken")
	}
	close(errCh)
	for err := range errCh {
		t.Errorf("unexpected error: %v", err)
	}

	remaining := stack.remaining(t, subID)
	held, err := stack.reservations.SumLiveBySubscription(context.Background(), subID)
	require.NoError(t, err)

	// Settlements deducted exactly what they committed, live holds match the
	// reservations left open, and holds never exceed what's left to charge
	assert.Equal(t, big.NewInt(100-amount*settled.Load()), remaining)
	assert.Equal(t, big.NewInt(amount*live.Load()), held)
	assert.LessOrEqual(t, held.Cmp(remaining), 0)
}

func TestAuthorizer_Settle_CrossChainForwardsUsage(t *testing.T) {
	// This node serves chain 10; the subscription is homed on chain 1
	stack := newTestStack(t, 10)
	reconciler := &recordingReconciler{}
	authorizer := newTestAuthorizer(t, stack, reconciler, 10)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 10,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	require.NoError(t, authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, big.NewInt(45)))

	require.Len(t, reconciler.calls, 1)
	call := reconciler.calls[0]
	assert.Equal(t, subID, call.subscriptionID)
	assert.Equal(t, uint64(1), call.homeChainID)
	assert.Equal(t, uint64(10), call.sourceChainID)
	assert.Equal(t, big.NewInt(45), call.amount)
}

func TestAuthorizer_Settle_HomeChainSkipsReconciliation(t *testing.T) {
	stack := newTestStack(t, 1)
	reconciler := &recordingReconciler{}
	authorizer := newTestAuthorizer(t, stack, reconciler, 1)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 1,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	require.NoError(t, authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, nil))
	assert.Empty(t, reconciler.calls)
}

func TestAuthorizer_Settle_CrossChainWithoutReconciler(t *testing.T) {
	stack := newTestStack(t, 10)
	authorizer := newTestAuthorizer(t, stack, nil, 10)
	subID := stack.mint(t, 100, "0xalice")

	authCtx, err := authorizer.PreAuthorize(context.Background(), AuthorizeRequest{
		OperationID:      "op-1",
		Requester:        "0xalice",
		SubscriptionID:   subID,
		ExecutionChainID: 10,
		EstimatedAmount:  big.NewInt(60),
	})
	require.NoError(t, err)

	err = authorizer.Settle(context.Background(), authCtx, OutcomeSucceeded, nil)
	assert.Error(t, err)
}
