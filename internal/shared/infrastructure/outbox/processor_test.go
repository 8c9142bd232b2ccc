package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/database"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/eventbus"
)

type capturingPublisher struct {
	err         error
	routingKeys []string
	bodies      [][]byte
}

func (p *capturingPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.routingKeys = append(p.routingKeys, routingKey)
	p.bodies = append(p.bodies, payload)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func setupProcessorTest(t *testing.T, publisher eventbus.Publisher, config ProcessorConfig) (*Processor, Repository) {
	t.Helper()

	conn, err := database.Open(context.Background(), "file::memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Migrate(context.Background()))
	t.Cleanup(func() { conn.Close() })

	repo := NewSQLiteRepository(conn.DB())
	return NewProcessor(repo, publisher, config, nil), repo
}

func queueMessage(t *testing.T, repo Repository, chainID uint64) *Message {
	t.Helper()

	metadata, err := json.Marshal(domain.EventMetadata{ChainID: chainID})
	require.NoError(t, err)

	msg := &Message{
		EventID:       uuid.New(),
		AggregateType: "subscription",
		AggregateID:   uuid.New(),
		EventType:     "subscription.minted",
		RoutingKey:    "subscription.minted",
		Payload:       json.RawMessage(`{"subscription_id":"abc"}`),
		Metadata:      metadata,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Save(context.Background(), msg))

	queued, err := repo.GetUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, queued)
	return queued[len(queued)-1]
}

func TestProcessor_ProcessOnce_PublishesEnvelope(t *testing.T) {
	publisher := &capturingPublisher{}
	processor, repo := setupProcessorTest(t, publisher, DefaultProcessorConfig())
	ctx := context.Background()

	queued := queueMessage(t, repo, 1)

	require.NoError(t, processor.ProcessOnce(ctx))
	require.Len(t, publisher.bodies, 1)
	assert.Equal(t, "subscription.minted", publisher.routingKeys[0])

	// The broker body is the consumed-event envelope, not the bare payload
	var event eventbus.ConsumedEvent
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &event))
	assert.Equal(t, queued.EventID, event.EventID)
	assert.Equal(t, queued.AggregateID, event.AggregateID)
	assert.Equal(t, "subscription", event.AggregateType)
	assert.Equal(t, "subscription.minted", event.RoutingKey)
	assert.JSONEq(t, `{"subscription_id":"abc"}`, string(event.Payload))
	assert.Equal(t, uint64(1), event.Metadata.ChainID)
	assert.Empty(t, event.Metadata.CorrelationID)

	remaining, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.PublishedCount)
}

func TestProcessor_ProcessOnce_FailureSchedulesRetry(t *testing.T) {
	publisher := &capturingPublisher{err: errors.New("broker unavailable")}
	config := DefaultProcessorConfig()
	config.RetryBackoffBase = time.Millisecond
	processor, repo := setupProcessorTest(t, publisher, config)
	ctx := context.Background()

	queueMessage(t, repo, 1)
	require.NoError(t, processor.ProcessOnce(ctx))

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, "broker unavailable", stats.LastError)

	// After the backoff the message is picked up again and succeeds
	time.Sleep(20 * time.Millisecond)
	publisher.err = nil
	require.NoError(t, processor.ProcessOnce(ctx))
	require.Len(t, publisher.bodies, 1)

	remaining, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestProcessor_ProcessOnce_DeadLettersAfterMaxRetries(t *testing.T) {
	publisher := &capturingPublisher{err: errors.New("broker unavailable")}
	config := DefaultProcessorConfig()
	config.MaxRetries = 1
	processor, repo := setupProcessorTest(t, publisher, config)
	ctx := context.Background()

	queueMessage(t, repo, 1)
	require.NoError(t, processor.ProcessOnce(ctx))

	stats := processor.GetStats()
	assert.Equal(t, uint64(1), stats.DeadCount)

	// Dead-lettered messages never come back
	publisher.err = nil
	require.NoError(t, processor.ProcessOnce(ctx))
	assert.Empty(t, publisher.bodies)
}

func TestProcessor_StartStop(t *testing.T) {
	publisher := &capturingPublisher{}
	config := DefaultProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	processor, repo := setupProcessorTest(t, publisher, config)
	ctx := context.Background()

	queueMessage(t, repo, 1)

	require.NoError(t, processor.Start(ctx))
	assert.True(t, processor.IsRunning())

	require.Eventually(t, func() bool {
		return processor.GetStats().PublishedCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	processor.Stop()
	assert.False(t, processor.IsRunning())
	// Stopping twice is a no-op
	processor.Stop()
}
