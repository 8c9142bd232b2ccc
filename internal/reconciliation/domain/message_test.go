package domain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReconciliationMessage(t *testing.T) {
	subscriptionID := uuid.New()
	msg, err := NewReconciliationMessage(subscriptionID, 1, 10, big.NewInt(500), 7)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.MessageID())
	assert.Equal(t, subscriptionID, msg.SubscriptionID())
	assert.Equal(t, uint64(1), msg.HomeChainID())
	assert.Equal(t, uint64(10), msg.SourceChainID())
	assert.Equal(t, big.NewInt(500), msg.Amount())
	assert.Equal(t, uint64(7), msg.SequenceNumber())
	assert.False(t, msg.CreatedAt().IsZero())
}

func TestNewReconciliationMessage_InvalidAmount(t *testing.T) {
	_, err := NewReconciliationMessage(uuid.New(), 1, 10, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewReconciliationMessage(uuid.New(), 1, 10, big.NewInt(0), 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestReconciliationMessage_WireRoundTrip(t *testing.T) {
	msg, err := NewReconciliationMessage(uuid.New(), 1, 10, big.NewInt(500), 3)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ReconciliationMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, msg.MessageID(), decoded.MessageID())
	assert.Equal(t, msg.SubscriptionID(), decoded.SubscriptionID())
	assert.Equal(t, msg.HomeChainID(), decoded.HomeChainID())
	assert.Equal(t, msg.SourceChainID(), decoded.SourceChainID())
	assert.Equal(t, msg.Amount(), decoded.Amount())
	assert.Equal(t, msg.SequenceNumber(), decoded.SequenceNumber())
}

func TestReconciliationMessage_UnmarshalRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{
			name:    "missing message id",
			payload: `{"subscription_id":"` + uuid.NewString() + `","amount":"100"}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "missing subscription id",
			payload: `{"message_id":"` + uuid.NewString() + `","amount":"100"}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "zero amount",
			payload: `{"message_id":"` + uuid.NewString() + `","subscription_id":"` + uuid.NewString() + `","amount":"0"}`,
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "non-numeric amount",
			payload: `{"message_id":"` + uuid.NewString() + `","subscription_id":"` + uuid.NewString() + `","amount":"bogus"}`,
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var decoded ReconciliationMessage
			err := json.Unmarshal([]byte(tc.payload), &decoded)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestChainRoutingKey(t *testing.T) {
	assert.Equal(t, "reconciliation.chain.1", ChainRoutingKey(1))
	assert.Equal(t, "reconciliation.chain.42161", ChainRoutingKey(42161))
}

func TestDeductionForwarded_PayloadDecodesAsMessage(t *testing.T) {
	msg, err := NewReconciliationMessage(uuid.New(), 1, 10, big.NewInt(500), 3)
	require.NoError(t, err)

	event := NewDeductionForwarded(msg)
	assert.Equal(t, "reconciliation.chain.1", event.RoutingKey())

	// The consumer on the home chain unmarshals the event payload straight
	// into a ReconciliationMessage.
	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ReconciliationMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.MessageID(), decoded.MessageID())
	assert.Equal(t, msg.Amount(), decoded.Amount())
	assert.Equal(t, msg.SequenceNumber(), decoded.SequenceNumber())
}
