package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gaspass/gaspass/internal/shared/infrastructure/eventbus"
	"github.com/sony/gobreaker/v2"
)

// ErrChannelUnavailable is returned when the delivery channel is down and the
// circuit is open. Callers leave the message in the outbox and retry later.
var ErrChannelUnavailable = errors.New("reconciliation channel unavailable")

// BreakerPublisher wraps a publisher with a circuit breaker so a dead broker
// fails fast instead of stalling every outbox poll on connection timeouts.
type BreakerPublisher struct {
	inner   eventbus.Publisher
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerPublisher wraps the publisher. The circuit opens after five
// consecutive failures and probes again after the timeout.
func NewBreakerPublisher(inner eventbus.Publisher, logger *slog.Logger) *BreakerPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &BreakerPublisher{inner: inner, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "reconciliation-channel",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("delivery channel circuit state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p
}

// Publish delivers through the breaker, mapping an open circuit to
// ErrChannelUnavailable.
func (p *BreakerPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.inner.Publish(ctx, routingKey, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return err
}

// Healthy reports whether the circuit is closed.
func (p *BreakerPublisher) Healthy() error {
	if state := p.breaker.State(); state != gobreaker.StateClosed {
		return fmt.Errorf("%w: circuit %s", ErrChannelUnavailable, state.String())
	}
	return nil
}

// Close closes the underlying publisher.
func (p *BreakerPublisher) Close() error {
	return p.inner.Close()
}

var _ eventbus.Publisher = (*BreakerPublisher)(nil)
