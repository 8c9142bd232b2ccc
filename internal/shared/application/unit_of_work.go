package application

import (
	"context"

	"github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/google/uuid"
)

// UnitOfWork provides transactional support for aggregating multiple operations.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWorkFunc is a function that executes within a unit of work.
type UnitOfWorkFunc func(ctx context.Context) error

// WithUnitOfWork executes the given function within a unit of work.
func WithUnitOfWork(ctx context.Context, uow UnitOfWork, fn UnitOfWorkFunc) error {
	txCtx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		_ = uow.Rollback(txCtx)
		return err
	}

	return uow.Commit(txCtx)
}

// NewEventMetadata builds metadata for events raised on the given chain.
func NewEventMetadata(chainID uint64) domain.EventMetadata {
	correlationID := uuid.New()
	return domain.EventMetadata{
		CorrelationID: correlationID,
		CausationID:   correlationID,
		ChainID:       chainID,
	}
}

// ApplyEventMetadata stamps metadata onto every event that supports it.
func ApplyEventMetadata(events []domain.DomainEvent, metadata domain.EventMetadata) {
	type metadataSetter interface {
		SetMetadata(domain.EventMetadata)
	}
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
}
