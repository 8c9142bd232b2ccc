package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gaspass/gaspass/internal/reconciliation/domain"
	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

// SQLiteReconciliationRepository implements domain.Repository using SQLite.
type SQLiteReconciliationRepository struct {
	db *sql.DB
}

// NewSQLiteReconciliationRepository creates a new SQLite reconciliation repository.
func NewSQLiteReconciliationRepository(db *sql.DB) *SQLiteReconciliationRepository {
	return &SQLiteReconciliationRepository{db: db}
}

// NextSequence atomically increments and returns the outbound sequence number
// for the subscription's stream to the destination chain.
func (r *SQLiteReconciliationRepository) NextSequence(ctx context.Context, subscriptionID uuid.UUID, destinationChainID uint64) (uint64, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	var seq uint64
	err := q.QueryRowContext(ctx, `
		INSERT INTO reconciliation_sequences (subscription_id, destination_chain_id, next_sequence)
		VALUES (?, ?, 1)
		ON CONFLICT(subscription_id, destination_chain_id)
		DO UPDATE SET next_sequence = next_sequence + 1
		RETURNING next_sequence
	`, subscriptionID.String(), destinationChainID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	return seq, nil
}

// IsApplied reports whether the message has already been applied.
func (r *SQLiteReconciliationRepository) IsApplied(ctx context.Context, messageID uuid.UUID) (bool, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM applied_messages WHERE message_id = ?`,
		messageID.String(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkApplied records that the message has been applied.
func (r *SQLiteReconciliationRepository) MarkApplied(ctx context.Context, record *domain.AppliedMessage) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	_, err := q.ExecContext(ctx, `
		INSERT INTO applied_messages (
			message_id, subscription_id, source_chain_id, sequence_number,
			amount, applied_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		record.MessageID.String(),
		record.SubscriptionID.String(),
		record.SourceChainID,
		record.SequenceNumber,
		record.Amount.String(),
		record.AppliedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to mark message applied: %w", err)
	}
	return nil
}

// LastAppliedSequence returns the highest sequence number applied for the
// subscription from the source chain, or 0 when none has been.
func (r *SQLiteReconciliationRepository) LastAppliedSequence(ctx context.Context, subscriptionID uuid.UUID, sourceChainID uint64) (uint64, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	var seq sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM applied_messages WHERE subscription_id = ? AND source_chain_id = ?`,
		subscriptionID.String(), sourceChainID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// PruneApplied removes applied-message records older than the cutoff.
func (r *SQLiteReconciliationRepository) PruneApplied(ctx context.Context, cutoff time.Time) (int64, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	result, err := q.ExecContext(ctx,
		`DELETE FROM applied_messages WHERE applied_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var _ domain.Repository = (*SQLiteReconciliationRepository)(nil)
