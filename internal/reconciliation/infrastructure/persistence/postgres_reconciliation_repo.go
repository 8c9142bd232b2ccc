package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/gaspass/gaspass/internal/reconciliation/domain"
	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReconciliationRepository implements domain.Repository using PostgreSQL.
type PostgresReconciliationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReconciliationRepository creates a new Postgres reconciliation repository.
func NewPostgresReconciliationRepository(pool *pgxpool.Pool) *PostgresReconciliationRepository {
	return &PostgresReconciliationRepository{pool: pool}
}

// NextSequence atomically increments and returns the outbound sequence number
// for the subscription's stream to the destination chain.
func (r *PostgresReconciliationRepository) NextSequence(ctx context.Context, subscriptionID uuid.UUID, destinationChainID uint64) (uint64, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO reconciliation_sequences (subscription_id, destination_chain_id, next_sequence)
		VALUES ($1, $2, 1)
		ON CONFLICT (subscription_id, destination_chain_id)
		DO UPDATE SET next_sequence = reconciliation_sequences.next_sequence + 1
		RETURNING next_sequence
	`, subscriptionID, int64(destinationChainID)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return uint64(seq), nil
}

// IsApplied reports whether the message has already been applied.
func (r *PostgresReconciliationRepository) IsApplied(ctx context.Context, messageID uuid.UUID) (bool, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	var applied bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_messages WHERE message_id = $1)`,
		messageID,
	).Scan(&applied)
	if err != nil {
		return false, err
	}
	return applied, nil
}

// MarkApplied records that the message has been applied.
func (r *PostgresReconciliationRepository) MarkApplied(ctx context.Context, record *domain.AppliedMessage) error {
	q := sharedPersistence.Executor(ctx, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO applied_messages (
			message_id, subscription_id, source_chain_id, sequence_number,
			amount, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		record.MessageID,
		record.SubscriptionID,
		int64(record.SourceChainID),
		int64(record.SequenceNumber),
		record.Amount.String(),
		record.AppliedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark message applied: %w", err)
	}
	return nil
}

// LastAppliedSequence returns the highest sequence number applied for the
// subscription from the source chain, or 0 when none has been.
func (r *PostgresReconciliationRepository) LastAppliedSequence(ctx context.Context, subscriptionID uuid.UUID, sourceChainID uint64) (uint64, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	var seq int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM applied_messages WHERE subscription_id = $1 AND source_chain_id = $2`,
		subscriptionID, int64(sourceChainID),
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// PruneApplied removes applied-message records older than the cutoff.
func (r *PostgresReconciliationRepository) PruneApplied(ctx context.Context, cutoff time.Time) (int64, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	tag, err := q.Exec(ctx,
		`DELETE FROM applied_messages WHERE applied_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ domain.Repository = (*PostgresReconciliationRepository)(nil)
