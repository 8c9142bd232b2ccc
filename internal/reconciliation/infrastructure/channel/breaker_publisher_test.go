package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	err       error
	published int
	closed    bool
}

func (p *flakyPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published++
	return nil
}

func (p *flakyPublisher) Close() error {
	p.closed = true
	return nil
}

func TestBreakerPublisher_PassesThrough(t *testing.T) {
	inner := &flakyPublisher{}
	publisher := NewBreakerPublisher(inner, nil)

	require.NoError(t, publisher.Publish(context.Background(), "reconciliation.chain.1", []byte("{}")))
	assert.Equal(t, 1, inner.published)
	assert.NoError(t, publisher.Healthy())
}

func TestBreakerPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	brokerDown := errors.New("connection refused")
	inner := &flakyPublisher{err: brokerDown}
	publisher := NewBreakerPublisher(inner, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := publisher.Publish(ctx, "reconciliation.chain.1", []byte("{}"))
		assert.ErrorIs(t, err, brokerDown)
	}

	// Circuit is open now; calls fail fast without reaching the broker
	err := publisher.Publish(ctx, "reconciliation.chain.1", []byte("{}"))
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.ErrorIs(t, publisher.Healthy(), ErrChannelUnavailable)
}

func TestBreakerPublisher_Close(t *testing.T) {
	inner := &flakyPublisher{}
	publisher := NewBreakerPublisher(inner, nil)

	require.NoError(t, publisher.Close())
	assert.True(t, inner.closed)
}
