package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	"github.com/gaspass/gaspass/internal/sponsorship/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReservationRepository implements domain.Repository using PostgreSQL.
type PostgresReservationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReservationRepository creates a new Postgres reservation repository.
func NewPostgresReservationRepository(pool *pgxpool.Pool) *PostgresReservationRepository {
	return &PostgresReservationRepository{pool: pool}
}

const pgReservationColumns = `
	id, operation_id, subscription_id, chain_id, reserved_amount,
	state, settled_amount, shortfall, created_at, updated_at
`

// Save persists a reservation (create or update).
func (r *PostgresReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	q := sharedPersistence.Executor(ctx, r.pool)

	var settled, shortfall any
	if v := reservation.SettledAmount(); v != nil {
		settled = v.String()
	}
	if v := reservation.Shortfall(); v != nil {
		shortfall = v.String()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO reservations (
			id, operation_id, subscription_id, chain_id, reserved_amount,
			state, settled_amount, shortfall, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			settled_amount = EXCLUDED.settled_amount,
			shortfall = EXCLUDED.shortfall,
			updated_at = EXCLUDED.updated_at
	`,
		reservation.ID(),
		reservation.OperationID(),
		reservation.SubscriptionID(),
		int64(reservation.ChainID()),
		reservation.ReservedAmount().String(),
		string(reservation.State()),
		settled,
		shortfall,
		reservation.CreatedAt().UTC(),
		reservation.UpdatedAt().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

// FindByID finds a reservation by its ID. Returns (nil, nil) when absent.
func (r *PostgresReservationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	row := q.QueryRow(ctx,
		`SELECT `+pgReservationColumns+` FROM reservations WHERE id = $1`, id,
	)
	reservation, err := scanPgReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return reservation, err
}

// FindLiveByOperationID finds the live reservation for an operation, if any.
func (r *PostgresReservationRepository) FindLiveByOperationID(ctx context.Context, operationID string) (*domain.Reservation, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	row := q.QueryRow(ctx,
		`SELECT `+pgReservationColumns+` FROM reservations WHERE operation_id = $1 AND state = $2`,
		operationID, string(domain.StateReserved),
	)
	reservation, err := scanPgReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return reservation, err
}

// SumLiveBySubscription returns the total amount held by live reservations
// for the subscription. Amounts are decimal columns, so the database sums them.
func (r *PostgresReservationRepository) SumLiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*big.Int, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	var sumStr string
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(reserved_amount), 0)::text
		FROM reservations
		WHERE subscription_id = $1 AND state = $2
	`, subscriptionID, string(domain.StateReserved)).Scan(&sumStr)
	if err != nil {
		return nil, err
	}

	total, ok := new(big.Int).SetString(sumStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid reservation sum %q", sumStr)
	}
	return total, nil
}

// FindLiveOlderThan returns live reservations created before the cutoff.
func (r *PostgresReservationRepository) FindLiveOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	q := sharedPersistence.Executor(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT `+pgReservationColumns+`
		FROM reservations
		WHERE state = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, string(domain.StateReserved), cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := make([]*domain.Reservation, 0)
	for rows.Next() {
		reservation, err := scanPgReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, rows.Err()
}

func scanPgReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		id           uuid.UUID
		operationID  string
		subID        uuid.UUID
		chainID      int64
		reservedStr  string
		stateStr     string
		settledStr   sql.NullString
		shortfallStr sql.NullString
		createdAt    time.Time
		updatedAt    time.Time
	)

	if err := row.Scan(&id, &operationID, &subID, &chainID, &reservedStr,
		&stateStr, &settledStr, &shortfallStr, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	reserved, ok := new(big.Int).SetString(reservedStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid reserved amount %q", reservedStr)
	}

	var settled, shortfall *big.Int
	if settledStr.Valid {
		settled, ok = new(big.Int).SetString(settledStr.String, 10)
		if !ok {
			return nil, fmt.Errorf("invalid settled amount %q", settledStr.String)
		}
	}
	if shortfallStr.Valid {
		shortfall, ok = new(big.Int).SetString(shortfallStr.String, 10)
		if !ok {
			return nil, fmt.Errorf("invalid shortfall %q", shortfallStr.String)
		}
	}

	return domain.RehydrateReservation(id, operationID, subID, uint64(chainID),
		reserved, domain.ReservationState(stateStr), settled, shortfall,
		createdAt, updatedAt), nil
}

var _ domain.Repository = (*PostgresReservationRepository)(nil)
