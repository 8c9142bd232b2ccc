package app

import (
	"fmt"

	reconciliationDomain "github.com/gaspass/gaspass/internal/reconciliation/domain"
	reconciliationPersistence "github.com/gaspass/gaspass/internal/reconciliation/infrastructure/persistence"
	sharedApplication "github.com/gaspass/gaspass/internal/shared/application"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/database"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/gaspass/gaspass/internal/shared/infrastructure/persistence"
	sponsorshipDomain "github.com/gaspass/gaspass/internal/sponsorship/domain"
	sponsorshipPersistence "github.com/gaspass/gaspass/internal/sponsorship/infrastructure/persistence"
	subscriptionDomain "github.com/gaspass/gaspass/internal/subscription/domain"
	subscriptionPersistence "github.com/gaspass/gaspass/internal/subscription/infrastructure/persistence"
)

// RepositoryFactory creates repositories for the configured database driver.
type RepositoryFactory struct {
	conn *database.Connection
}

// NewRepositoryFactory creates a new repository factory.
func NewRepositoryFactory(conn *database.Connection) *RepositoryFactory {
	return &RepositoryFactory{conn: conn}
}

// SubscriptionRepository creates a subscription repository.
func (f *RepositoryFactory) SubscriptionRepository() (subscriptionDomain.Repository, error) {
	switch f.conn.Driver() {
	case database.DriverPostgres:
		return subscriptionPersistence.NewPostgresSubscriptionRepository(f.conn.Pool()), nil
	case database.DriverSQLite:
		return subscriptionPersistence.NewSQLiteSubscriptionRepository(f.conn.DB()), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.conn.Driver())
	}
}

// ReservationRepository creates a reservation repository.
func (f *RepositoryFactory) ReservationRepository() (sponsorshipDomain.Repository, error) {
	switch f.conn.Driver() {
	case database.DriverPostgres:
		return sponsorshipPersistence.NewPostgresReservationRepository(f.conn.Pool()), nil
	case database.DriverSQLite:
		return sponsorshipPersistence.NewSQLiteReservationRepository(f.conn.DB()), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.conn.Driver())
	}
}

// ReconciliationRepository creates a reconciliation repository.
func (f *RepositoryFactory) ReconciliationRepository() (reconciliationDomain.Repository, error) {
	switch f.conn.Driver() {
	case database.DriverPostgres:
		return reconciliationPersistence.NewPostgresReconciliationRepository(f.conn.Pool()), nil
	case database.DriverSQLite:
		return reconciliationPersistence.NewSQLiteReconciliationRepository(f.conn.DB()), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.conn.Driver())
	}
}

// OutboxRepository creates an outbox repository.
func (f *RepositoryFactory) OutboxRepository() (outbox.Repository, error) {
	switch f.conn.Driver() {
	case database.DriverPostgres:
		return outbox.NewPostgresRepository(f.conn.Pool()), nil
	case database.DriverSQLite:
		return outbox.NewSQLiteRepository(f.conn.DB()), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.conn.Driver())
	}
}

// UnitOfWork creates a unit of work for the configured driver.
func (f *RepositoryFactory) UnitOfWork() (sharedApplication.UnitOfWork, error) {
	switch f.conn.Driver() {
	case database.DriverPostgres:
		return sharedPersistence.NewPostgresUnitOfWork(f.conn.Pool()), nil
	case database.DriverSQLite:
		return sharedPersistence.NewSQLiteUnitOfWork(f.conn.DB()), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.conn.Driver())
	}
}
