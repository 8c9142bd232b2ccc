package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	"github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/google/uuid"
)

// SQLiteSubscriptionRepository implements domain.Repository using SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a new SQLite subscription repository.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// Save persists a subscription, replacing the sponsored set as a whole.
func (r *SQLiteSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	_, err := q.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, owner, home_chain_id, payment_token, start_time, end_time,
			paid_amount, remaining_balance, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			payment_token = excluded.payment_token,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			paid_amount = excluded.paid_amount,
			remaining_balance = excluded.remaining_balance,
			updated_at = excluded.updated_at
	`,
		sub.ID().String(),
		sub.Owner(),
		sub.HomeChainID(),
		sub.PaymentToken(),
		sub.StartTime().UTC().Format(time.RFC3339Nano),
		sub.EndTime().UTC().Format(time.RFC3339Nano),
		sub.PaidAmount().String(),
		sub.RemainingBalance().String(),
		sub.CreatedAt().UTC().Format(time.RFC3339Nano),
		sub.UpdatedAt().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM sponsored_addresses WHERE subscription_id = ?`,
		sub.ID().String(),
	); err != nil {
		return fmt.Errorf("failed to clear sponsored addresses: %w", err)
	}
	for _, addr := range sub.SponsoredAddresses() {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO sponsored_addresses (subscription_id, address) VALUES (?, ?)`,
			sub.ID().String(), addr,
		); err != nil {
			return fmt.Errorf("failed to save sponsored address: %w", err)
		}
	}

	return nil
}

// FindByID finds a subscription by its ID. Returns (nil, nil) when absent.
func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	row := q.QueryRowContext(ctx, `
		SELECT id, owner, home_chain_id, payment_token, start_time, end_time,
		       paid_amount, remaining_balance, created_at, updated_at
		FROM subscriptions
		WHERE id = ?
	`, id.String())

	raw, err := scanSubscriptionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return r.rehydrate(ctx, q, raw)
}

// FindByOwner returns all subscriptions owned by the address, newest first.
func (r *SQLiteSubscriptionRepository) FindByOwner(ctx context.Context, owner string) ([]*domain.Subscription, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	rows, err := q.QueryContext(ctx, `
		SELECT id, owner, home_chain_id, payment_token, start_time, end_time,
		       paid_amount, remaining_balance, created_at, updated_at
		FROM subscriptions
		WHERE owner = ?
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}

	// Drain the result set before issuing the sponsored-address queries so a
	// shared transaction connection isn't still busy with this cursor.
	raws := make([]subscriptionRow, 0)
	for rows.Next() {
		raw, err := scanSubscriptionRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

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
func (r *SQLiteSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	if _, err := q.ExecContext(ctx,
		`DELETE FROM sponsored_addresses WHERE subscription_id = ?`, id.String(),
	); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id.String())
	return err
}

type subscriptionRow struct {
	id           string
	owner        string
	homeChainID  uint64
	paymentToken string
	startTime    string
	endTime      string
	paidAmount   string
	remaining    string
	createdAt    string
	updatedAt    string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriptionRow(row rowScanner) (subscriptionRow, error) {
	var raw subscriptionRow
	err := row.Scan(&raw.id, &raw.owner, &raw.homeChainID, &raw.paymentToken,
		&raw.startTime, &raw.endTime, &raw.paidAmount, &raw.remaining,
		&raw.createdAt, &raw.updatedAt,
	)
	return raw, err
}

func (r *SQLiteSubscriptionRepository) rehydrate(ctx context.Context, q sharedPersistence.SQLiteQuerier, raw subscriptionRow) (*domain.Subscription, error) {
	id, err := uuid.Parse(raw.id)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription id %q: %w", raw.id, err)
	}

	paid, ok := new(big.Int).SetString(raw.paidAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid paid amount %q", raw.paidAmount)
	}
	remaining, ok := new(big.Int).SetString(raw.remaining, 10)
	if !ok {
		return nil, fmt.Errorf("invalid remaining balance %q", raw.remaining)
	}

	startTime, _ := time.Parse(time.RFC3339Nano, raw.startTime)
	endTime, _ := time.Parse(time.RFC3339Nano, raw.endTime)
	createdAt, _ := time.Parse(time.RFC3339Nano, raw.createdAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, raw.updatedAt)

	addresses, err := r.loadSponsored(ctx, q, raw.id)
	if err != nil {
		return nil, err
	}

	return domain.Rehydrate(id, raw.owner, raw.homeChainID, raw.paymentToken,
		startTime, endTime, paid, remaining, addresses, createdAt, updatedAt), nil
}

func (r *SQLiteSubscriptionRepository) loadSponsored(ctx context.Context, q sharedPersistence.SQLiteQuerier, subscriptionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT address FROM sponsored_addresses WHERE subscription_id = ? ORDER BY address`,
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

var _ domain.Repository = (*SQLiteSubscriptionRepository)(nil)
