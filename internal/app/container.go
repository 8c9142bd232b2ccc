// Package app wires the node's contexts together: configuration, database,
// repositories, application services, the outbox relay, and the delivery
// channel for cross-chain reconciliation.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	reconciliationApplication "github.com/gaspass/gaspass/internal/reconciliation/application"
	"github.com/gaspass/gaspass/internal/reconciliation/infrastructure/channel"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/database"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/eventbus"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	sponsorshipApplication "github.com/gaspass/gaspass/internal/sponsorship/application"
	subscriptionApplication "github.com/gaspass/gaspass/internal/subscription/application"
	"github.com/gaspass/gaspass/pkg/config"
	"github.com/gaspass/gaspass/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Connection *database.Connection
	Redis      *redis.Client

	OutboxRepo outbox.Repository

	Ledger          *subscriptionApplication.Ledger
	RecordOwnership *subscriptionApplication.RecordOwnership
	Tracker         *sponsorshipApplication.UsageTracker
	Authorizer      *sponsorshipApplication.Authorizer
	Sweeper         *sponsorshipApplication.Sweeper
	Reconciler      *reconciliationApplication.Reconciler

	Publisher        *channel.BreakerPublisher
	InProcessBus     *eventbus.InProcessEventBus
	RabbitMQConsumer *eventbus.RabbitMQConsumer
	OutboxProcessor  *outbox.Processor

	Health *observability.HealthRegistry
}

// NewContainer creates and wires all dependencies. The broker is optional:
// when RabbitMQ is unreachable the node falls back to an in-process bus, which
// keeps single-chain deployments working without any infrastructure.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{Config: cfg, Logger: logger}

	conn, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	c.Connection = conn
	logger.Info("database ready", "driver", conn.Driver())

	if cfg.RedisEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			// Redis is only a dedupe fast path; keep the client and let it
			// reconnect.
			logger.Warn("redis unreachable, dedupe fast path degraded", "error", err)
		}
		c.Redis = client
	}

	factory := NewRepositoryFactory(conn)

	subscriptionRepo, err := factory.SubscriptionRepository()
	if err != nil {
		c.Close()
		return nil, err
	}
	reservationRepo, err := factory.ReservationRepository()
	if err != nil {
		c.Close()
		return nil, err
	}
	reconciliationRepo, err := factory.ReconciliationRepository()
	if err != nil {
		c.Close()
		return nil, err
	}
	outboxRepo, err := factory.OutboxRepository()
	if err != nil {
		c.Close()
		return nil, err
	}
	uow, err := factory.UnitOfWork()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.OutboxRepo = outboxRepo

	c.RecordOwnership = subscriptionApplication.NewRecordOwnership(subscriptionRepo)
	c.Ledger = subscriptionApplication.NewLedger(subscriptionRepo, c.RecordOwnership, outboxRepo, uow, cfg.ChainID, logger)

	locks := sponsorshipApplication.NewSubscriptionLocks()
	c.Tracker = sponsorshipApplication.NewUsageTracker(reservationRepo, c.Ledger, outboxRepo, uow, locks, cfg.ChainID, logger)
	c.Sweeper = sponsorshipApplication.NewSweeper(c.Tracker, cfg.SweepInterval, cfg.ReservationMaxAge, logger)

	c.Reconciler = reconciliationApplication.NewReconciler(reconciliationRepo, c.Ledger, outboxRepo, uow, c.Redis, cfg.ChainID, logger)

	var reconciler sponsorshipApplication.Reconciler
	if cfg.ReconciliationEnabled {
		reconciler = c.Reconciler
	}
	c.Authorizer = sponsorshipApplication.NewAuthorizer(c.Ledger, c.Tracker, reconciler, uow, cfg.ChainID, logger)

	if err := c.wireEventBus(cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	c.OutboxProcessor = outbox.NewProcessor(outboxRepo, c.Publisher, outbox.ProcessorConfig{
		PollInterval:     cfg.OutboxPollInterval,
		BatchSize:        cfg.OutboxBatchSize,
		MaxRetries:       cfg.OutboxMaxRetries,
		RetryBackoffBase: outbox.DefaultProcessorConfig().RetryBackoffBase,
		RetryBackoffMax:  outbox.DefaultProcessorConfig().RetryBackoffMax,
	}, logger)

	c.Health = observability.NewHealthRegistry()
	c.Health.Register("database", observability.DatabaseHealthChecker(conn.Ping))
	if c.Redis != nil {
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}))
	}
	c.Health.Register("channel", observability.ChannelHealthChecker(func(ctx context.Context) error {
		return c.Publisher.Healthy()
	}))

	return c, nil
}

// wireEventBus selects the delivery channel. RabbitMQ when reachable, an
// in-process bus otherwise. Either way the publisher goes through the circuit
// breaker and inbound reconciliation messages for this chain are consumed.
func (c *Container) wireEventBus(cfg *config.Config, logger *slog.Logger) error {
	inbound := channel.NewInboundConsumer(c.Reconciler, cfg.ChainID, logger)

	rabbitPublisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err == nil {
		c.Publisher = channel.NewBreakerPublisher(rabbitPublisher, logger)

		registry := eventbus.NewConsumerRegistry(logger)
		consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			URL:       cfg.RabbitMQURL,
			QueueName: eventbus.DefaultConsumerQueueName,
			Exchange:  eventbus.ExchangeName,
			Logger:    logger,
		}, registry)
		if err != nil {
			return fmt.Errorf("failed to create rabbitmq consumer: %w", err)
		}
		if cfg.ReconciliationEnabled {
			consumer.RegisterConsumer(inbound)
		}
		c.RabbitMQConsumer = consumer
		logger.Info("event bus ready", "mode", "rabbitmq")
		return nil
	}

	logger.Warn("rabbitmq unreachable, using in-process event bus", "error", err)
	bus := eventbus.NewInProcessEventBus(logger)
	if cfg.ReconciliationEnabled {
		bus.RegisterConsumer(inbound)
	}
	c.InProcessBus = bus
	c.Publisher = channel.NewBreakerPublisher(bus, logger)
	return nil
}

// Start launches the background components enabled by configuration.
func (c *Container) Start(ctx context.Context) error {
	if c.Config.OutboxProcessorEnabled {
		if err := c.OutboxProcessor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start outbox processor: %w", err)
		}
	}
	c.Sweeper.Start(ctx)

	if c.RabbitMQConsumer != nil && c.Config.ReconciliationEnabled {
		if err := c.RabbitMQConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
	}
	return nil
}

// Close releases all resources in reverse dependency order.
func (c *Container) Close() error {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}
	if c.Sweeper != nil {
		c.Sweeper.Stop()
	}
	if c.RabbitMQConsumer != nil {
		if err := c.RabbitMQConsumer.Close(); err != nil {
			c.Logger.Warn("error closing consumer", "error", err)
		}
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("error closing publisher", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("error closing redis", "error", err)
		}
	}
	if c.Connection != nil {
		if err := c.Connection.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
