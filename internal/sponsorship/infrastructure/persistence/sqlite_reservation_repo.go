package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	"github.com/gaspass/gaspass/internal/sponsorship/domain"
	"github.com/google/uuid"
)

// SQLiteReservationRepository implements domain.Repository using SQLite.
type SQLiteReservationRepository struct {
	db *sql.DB
}

// NewSQLiteReservationRepository creates a new SQLite reservation repository.
func NewSQLiteReservationRepository(db *sql.DB) *SQLiteReservationRepository {
	return &SQLiteReservationRepository{db: db}
}

const sqliteReservationColumns = `
	id, operation_id, subscription_id, chain_id, reserved_amount,
	state, settled_amount, shortfall, created_at, updated_at
`

// Save persists a reservation (create or update).
func (r *SQLiteReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	var settled, shortfall any
	if v := reservation.SettledAmount(); v != nil {
		settled = v.String()
	}
	if v := reservation.Shortfall(); v != nil {
		shortfall = v.String()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO reservations (
			id, operation_id, subscription_id, chain_id, reserved_amount,
			state, settled_amount, shortfall, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			settled_amount = excluded.settled_amount,
			shortfall = excluded.shortfall,
			updated_at = excluded.updated_at
	`,
		reservation.ID().String(),
		reservation.OperationID(),
		reservation.SubscriptionID().String(),
		reservation.ChainID(),
		reservation.ReservedAmount().String(),
		string(reservation.State()),
		settled,
		shortfall,
		reservation.CreatedAt().UTC().Format(time.RFC3339Nano),
		reservation.UpdatedAt().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

// FindByID finds a reservation by its ID. Returns (nil, nil) when absent.
func (r *SQLiteReservationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	row := q.QueryRowContext(ctx,
		`SELECT `+sqliteReservationColumns+` FROM reservations WHERE id = ?`,
		id.String(),
	)
	reservation, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return reservation, err
}

// FindLiveByOperationID finds the live reservation for an operation, if any.
func (r *SQLiteReservationRepository) FindLiveByOperationID(ctx context.Context, operationID string) (*domain.Reservation, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	row := q.QueryRowContext(ctx,
		`SELECT `+sqliteReservationColumns+` FROM reservations WHERE operation_id = ? AND state = ?`,
		operationID, string(domain.StateReserved),
	)
	reservation, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return reservation, err
}

// SumLiveBySubscription returns the total amount held by live reservations
// for the subscription. Amounts are stored as decimal strings, so the sum is
// computed in Go rather than in SQL.
func (r *SQLiteReservationRepository) SumLiveBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*big.Int, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	rows, err := q.QueryContext(ctx,
		`SELECT reserved_amount FROM reservations WHERE subscription_id = ? AND state = ?`,
		subscriptionID.String(), string(domain.StateReserved),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := new(big.Int)
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid reserved amount %q", amountStr)
		}
		total.Add(total, amount)
	}
	return total, rows.Err()
}

// FindLiveOlderThan returns live reservations created before the cutoff.
func (r *SQLiteReservationRepository) FindLiveOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	q := sharedPersistence.SQLiteExecutor(ctx, r.db)

	rows, err := q.QueryContext(ctx, `
		SELECT `+sqliteReservationColumns+`
		FROM reservations
		WHERE state = ? AND created_at < ?
		ORDER BY created_at
		LIMIT ?
	`, string(domain.StateReserved), cutoff.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := make([]*domain.Reservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var (
		idStr        string
		operationID  string
		subIDStr     string
		chainID      uint64
		reservedStr  string
		stateStr     string
		settledStr   sql.NullString
		shortfallStr sql.NullString
		createdStr   string
		updatedStr   string
	)

	if err := row.Scan(&idStr, &operationID, &subIDStr, &chainID, &reservedStr,
		&stateStr, &settledStr, &shortfallStr, &createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid reservation id %q: %w", idStr, err)
	}
	subscriptionID, err := uuid.Parse(subIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription id %q: %w", subIDStr, err)
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

	createdAt, _ := time.Parse(time.RFC3339Nano, createdStr)
	updatedAt, _ := time.Parse(time.RFC3339Nano, updatedStr)

	return domain.RehydrateReservation(id, operationID, subscriptionID, chainID,
		reserved, domain.ReservationState(stateStr), settled, shortfall,
		createdAt, updatedAt), nil
}

var _ domain.Repository = (*SQLiteReservationRepository)(nil)
