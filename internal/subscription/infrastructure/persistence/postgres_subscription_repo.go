package persistence

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	"github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriptionRepository implements domain.Repository using PostgreSQL.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionRepository creates a new Postgres subscription repository.
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

// Save persists a subscription, replacing the sponsored set as a whole.
func (r *PostgresSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	q := sharedPersistence.Executor(ctx, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (
			id, owner, home_chain_id, payment_token, start_time, end_time,
			paid_amount, remaining_balance, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			payment_token = EXCLUDED.payment_token,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			paid_amount = EXCLUDED.paid_amount,
			remaining_balance = EXCLUDED.remaining_balance,
			updated_at = EXCLUDED.updated_at
	`,
		sub.ID(),
		sub.Owner(),
		int64(sub.HomeChainID()),
		sub.PaymentToken(),
		sub.StartTime().UTC(),
		sub.EndTime().UTC(),
		sub.PaidAmount().String(),
		sub.RemainingBalance().String(),
		sub.CreatedAt().UTC(),
		sub.UpdatedAt().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	if _, err := q.Exec(ctx,
		`DELETE FROM sponsored_addresses WHERE subscription_id = $1`, sub.ID(),
	); err != nil {
		return fmt.Errorf("failed to clear sponsored addresses: %w", err)
	}
	for _, addr := range sub.SponsoredAddresses() {
		if _, err := q.Exec(ctx,
			`INSERT INTO sponsored_addresses (subscription_id, address) VALUES ($1, $2)`,
			sub.ID(), addr,
		); err != nil {
			return fmt.Errorf("failed to save sponsored address: %w", err)
		}
	}

	return nil
}

// FindByID finds a subscription by its ID. Returns (nil, nil) when absent.
// Inside a unit of work the row is locked until commit, so two transactions
// doing a load-mutate-save on the same subscription serialize instead of the
// second overwriting the first.
func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	query := `
		SELECT id, owner, home_chain_id, payment_token, start_time, end_time,
		       paid_amount, remaining_balance, created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`
	if sharedPersistence.InTransaction(ctx) {
		query += ` FOR UPDATE`
	}
	row := q.QueryRow(ctx, query, id)

	raw, err := scanPgSubscriptionRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return r.rehydrate(ctx, q, raw)
}

// FindByOwner returns all subscriptions owned by the address, newest first.
func (r *PostgresSubscriptionRepository) FindByOwner(ctx context.Context, owner string) ([]*domain.Subscription, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT id, owner, home_chain_id, payment_token, start_time, end_time,
		       paid_amount, remaining_balance, created_at, updated_at
		FROM subscriptions
		WHERE owner = $1
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}

	raws := make([]pgSubscriptionRow, 0)
	for rows.Next() {
		raw, err := scanPgSubscriptionRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		raws = append(raws, raw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subs := make([]*domain.Subscription, 0, len(raws))
	for _, raw := range raws {
		sub, err := r.rehydrate(ctx, q, raw)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Delete removes a subscription and its sponsored set.
func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := sharedPersistence.Executor(ctx, r.pool)

	if _, err := q.Exec(ctx,
		`DELETE FROM sponsored_addresses WHERE subscription_id = $1`, id,
	); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	return err
}

type pgSubscriptionRow struct {
	id           uuid.UUID
	owner        string
	homeChainID  int64
	paymentToken string
	startTime    time.Time
	endTime      time.Time
	paidAmount   string
	remaining    string
	createdAt    time.Time
	updatedAt    time.Time
}

func scanPgSubscriptionRow(row pgx.Row) (pgSubscriptionRow, error) {
	var raw pgSubscriptionRow
	err := row.Scan(&raw.id, &raw.owner, &raw.homeChainID, &raw.paymentToken,
		&raw.startTime, &raw.endTime, &raw.paidAmount, &raw.remaining,
		&raw.createdAt, &raw.updatedAt,
	)
	return raw, err
}

func (r *PostgresSubscriptionRepository) rehydrate(ctx context.Context, q sharedPersistence.DBExecutor, raw pgSubscriptionRow) (*domain.Subscription, error) {
	paid, ok := new(big.Int).SetString(raw.paidAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid paid amount %q", raw.paidAmount)
	}
	remaining, ok := new(big.Int).SetString(raw.remaining, 10)
	if !ok {
		return nil, fmt.Errorf("invalid remaining balance %q", raw.remaining)
	}

	addresses, err := r.loadSponsored(ctx, q, raw.id)
	if err != nil {
		return nil, err
	}

	return domain.Rehydrate(raw.id, raw.owner, uint64(raw.homeChainID), raw.paymentToken,
		raw.startTime, raw.endTime, paid, remaining, addresses, raw.createdAt, raw.updatedAt), nil
}

func (r *PostgresSubscriptionRepository) loadSponsored(ctx context.Context, q sharedPersistence.DBExecutor, subscriptionID uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT address FROM sponsored_addresses WHERE subscription_id = $1 ORDER BY address`,
		subscriptionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addresses := make([]string, 0)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

var _ domain.Repository = (*PostgresSubscriptionRepository)(nil)
