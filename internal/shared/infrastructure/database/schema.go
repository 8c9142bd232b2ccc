package database

// Amounts are stored as decimal strings in SQLite and NUMERIC(78, 0) in
// Postgres; both hold a full uint256 without loss.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		home_chain_id INTEGER NOT NULL,
		payment_token TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner)`,

	`CREATE TABLE IF NOT EXISTS sponsored_addresses (
		subscription_id TEXT NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (subscription_id, address)
	)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		reserved_amount TEXT NOT NULL,
		state TEXT NOT NULL,
		settled_amount TEXT,
		shortfall TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_live_operation
		ON reservations(operation_id) WHERE state = 'reserved'`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_subscription_state
		ON reservations(subscription_id, state)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_state_created
		ON reservations(state, created_at)`,

	`CREATE TABLE IF NOT EXISTS applied_messages (
		message_id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		source_chain_id INTEGER NOT NULL,
		sequence_number INTEGER NOT NULL,
		amount TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applied_messages_subscription_source_seq
		ON applied_messages(subscription_id, source_chain_id, sequence_number)`,
	`CREATE INDEX IF NOT EXISTS idx_applied_messages_applied_at
		ON applied_messages(applied_at)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_sequences (
		subscription_id TEXT NOT NULL,
		destination_chain_id INTEGER NOT NULL,
		next_sequence INTEGER NOT NULL,
		PRIMARY KEY (subscription_id, destination_chain_id)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		published_at TEXT,
		next_retry_at TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		dead_lettered_at TEXT,
		dead_letter_reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
		ON outbox(created_at) WHERE published_at IS NULL AND dead_lettered_at IS NULL`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id UUID PRIMARY KEY,
		owner TEXT NOT NULL,
		home_chain_id BIGINT NOT NULL,
		payment_token TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		paid_amount NUMERIC(78, 0) NOT NULL,
		remaining_balance NUMERIC(78, 0) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner)`,

	`CREATE TABLE IF NOT EXISTS sponsored_addresses (
		subscription_id UUID NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (subscription_id, address)
	)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id UUID PRIMARY KEY,
		operation_id TEXT NOT NULL,
		subscription_id UUID NOT NULL,
		chain_id BIGINT NOT NULL,
		reserved_amount NUMERIC(78, 0) NOT NULL,
		state TEXT NOT NULL,
		settled_amount NUMERIC(78, 0),
		shortfall NUMERIC(78, 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_live_operation
		ON reservations(operation_id) WHERE state = 'reserved'`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_subscription_state
		ON reservations(subscription_id, state)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_state_created
		ON reservations(state, created_at)`,

	`CREATE TABLE IF NOT EXISTS applied_messages (
		message_id UUID PRIMARY KEY,
		subscription_id UUID NOT NULL,
		source_chain_id BIGINT NOT NULL,
		sequence_number BIGINT NOT NULL,
		amount NUMERIC(78, 0) NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applied_messages_subscription_source_seq
		ON applied_messages(subscription_id, source_chain_id, sequence_number)`,
	`CREATE INDEX IF NOT EXISTS idx_applied_messages_applied_at
		ON applied_messages(applied_at)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_sequences (
		subscription_id UUID NOT NULL,
		destination_chain_id BIGINT NOT NULL,
		next_sequence BIGINT NOT NULL,
		PRIMARY KEY (subscription_id, destination_chain_id)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT,
		dead_lettered_at TIMESTAMPTZ,
		dead_letter_reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
		ON outbox(created_at) WHERE published_at IS NULL AND dead_lettered_at IS NULL`,
}
