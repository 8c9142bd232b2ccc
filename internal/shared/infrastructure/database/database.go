// Package database opens the backing store and bootstraps its schema. The
// node runs on PostgreSQL in production and on a local SQLite file for
// zero-config development; the driver is detected from the connection URL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Driver represents a database backend type.
type Driver string

const (
	// DriverPostgres represents PostgreSQL.
	DriverPostgres Driver = "postgres"
	// DriverSQLite represents SQLite.
	DriverSQLite Driver = "sqlite"
)

// String returns the string representation of the driver.
func (d Driver) String() string {
	return string(d)
}

// DetectDriver parses a connection string and returns the driver type.
// Returns DriverSQLite for empty URLs to enable zero-config local mode.
func DetectDriver(url string) Driver {
	if url == "" {
		return DriverSQLite
	}

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}

	if strings.HasPrefix(url, "sqlite://") ||
		strings.HasPrefix(url, "file:") ||
		strings.HasSuffix(url, ".db") ||
		strings.HasSuffix(url, ".sqlite") ||
		strings.HasSuffix(url, ".sqlite3") {
		return DriverSQLite
	}

	return DriverPostgres
}

// Connection is an open database handle for one of the supported drivers.
type Connection struct {
	driver Driver
	pool   *pgxpool.Pool
	db     *sql.DB
}

// Open connects to the database identified by url and verifies the
// connection.
func Open(ctx context.Context, url string) (*Connection, error) {
	switch DetectDriver(url) {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		return &Connection{driver: DriverPostgres, pool: pool}, nil

	case DriverSQLite:
		dsn := url
		if dsn == "" {
			dsn = "file:gaspass.db"
		}
		if !strings.Contains(dsn, "_pragma=") {
			if strings.Contains(dsn, "?") {
				dsn += "&"
			} else {
				dsn += "?"
			}
			// WAL for concurrency, busy_timeout so writers wait on the lock
			dsn += "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		}

		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}

		// SQLite doesn't support multiple writers, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
		}
		return &Connection{driver: DriverSQLite, db: db}, nil

	default:
		return nil, fmt.Errorf("unsupported database url: %s", url)
	}
}

// Driver returns the driver type.
func (c *Connection) Driver() Driver {
	return c.driver
}

// Pool returns the pgx pool, or nil when not on Postgres.
func (c *Connection) Pool() *pgxpool.Pool {
	return c.pool
}

// DB returns the sql.DB handle, or nil when not on SQLite.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Ping verifies the connection is still alive.
func (c *Connection) Ping(ctx context.Context) error {
	if c.driver == DriverPostgres {
		return c.pool.Ping(ctx)
	}
	return c.db.PingContext(ctx)
}

// Close releases the connection.
func (c *Connection) Close() error {
	if c.driver == DriverPostgres {
		c.pool.Close()
		return nil
	}
	return c.db.Close()
}

// Migrate creates the schema if it does not exist.
func (c *Connection) Migrate(ctx context.Context) error {
	var statements []string
	if c.driver == DriverPostgres {
		statements = postgresSchema
	} else {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if c.driver == DriverPostgres {
			if _, err := c.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		} else {
			if _, err := c.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
	}
	return nil
}
