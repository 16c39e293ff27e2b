package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store wraps the shared database handle with the queries the sync engine,
// handlers and notifier need. All writes are single-row upserts or updates
// scoped by primary key.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a store and ensures the schema exists.
func NewStore(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}

	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// NewStoreWithoutMigration wraps an existing handle without touching the
// schema (used by tests with mocked connections).
func NewStoreWithoutMigration(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// createTables creates the schema if it doesn't exist
func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(64) PRIMARY KEY,
			thread_id VARCHAR(64) NOT NULL,
			rfc_message_id TEXT,
			from_addr TEXT NOT NULL,
			to_addrs TEXT NOT NULL DEFAULT '',
			cc_addrs TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			snippet TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL,
			direction VARCHAR(16) NOT NULL,
			is_noise BOOLEAN NOT NULL DEFAULT FALSE,
			applied BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,

		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_key VARCHAR(64) PRIMARY KEY,
			thread_id VARCHAR(64) NOT NULL,
			customer_email TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			is_follow_up BOOLEAN NOT NULL DEFAULT FALSE,
			response_count INTEGER NOT NULL DEFAULT 0,
			last_inbound_at TIMESTAMP,
			last_outbound_at TIMESTAMP,
			claimed_by TEXT,
			claimed_at TIMESTAMP,
			responded_by TEXT,
			responded_at TIMESTAMP,
			summary TEXT,
			notified_at TIMESTAMP,
			version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_thread_id ON tickets(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_customer_email ON tickets(customer_email)`,

		`CREATE TABLE IF NOT EXISTS thread_ticket_map (
			thread_id VARCHAR(64) PRIMARY KEY,
			ticket_key VARCHAR(64) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thread_ticket_map_ticket_key ON thread_ticket_map(ticket_key)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id VARCHAR(36) PRIMARY KEY,
			ticket_key VARCHAR(64) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			actor TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_ticket_key ON activities(ticket_key)`,

		`CREATE TABLE IF NOT EXISTS sync_state (
			id INTEGER PRIMARY KEY,
			last_sync_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS order_items (
			item_id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT '',
			buyer_email TEXT NOT NULL DEFAULT '',
			buyer_first_name TEXT NOT NULL DEFAULT '',
			buyer_last_name TEXT NOT NULL DEFAULT '',
			plan_id VARCHAR(64) NOT NULL DEFAULT '',
			plan_name TEXT NOT NULL DEFAULT '',
			session_name TEXT NOT NULL DEFAULT '',
			venue_name TEXT NOT NULL DEFAULT '',
			currency VARCHAR(8) NOT NULL DEFAULT '',
			unitary_price VARCHAR(32) NOT NULL DEFAULT '',
			discount VARCHAR(32) NOT NULL DEFAULT '',
			purchased_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_buyer_email ON order_items(buyer_email)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}
