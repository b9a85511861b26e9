// Package db provides the database connection helper and idempotent schema migration.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
// Safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notification_new_thread (
			id TEXT PRIMARY KEY,
			channel_id TEXT,
			created_at TIMESTAMPTZ,
			edited_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS source_thread (
			id TEXT PRIMARY KEY,
			name TEXT,
			parent_id TEXT,
			parent_name TEXT,
			author_id TEXT,
			author_name TEXT,
			author_avatar_url TEXT,
			jump_url TEXT,
			member_count INTEGER DEFAULT 0,
			message_count INTEGER DEFAULT 0,
			locked BOOLEAN DEFAULT FALSE,
			archived BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ,
			edited_at TIMESTAMPTZ,
			notification_id TEXT REFERENCES notification_new_thread(id) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_feed (
			id TEXT PRIMARY KEY,
			channel_id TEXT,
			created_at TIMESTAMPTZ,
			edited_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS source_message (
			id TEXT PRIMARY KEY,
			name TEXT,
			parent_id TEXT,
			parent_name TEXT,
			author_id TEXT,
			author_name TEXT,
			author_avatar_url TEXT,
			jump_url TEXT,
			member_count INTEGER DEFAULT 0,
			message_count INTEGER DEFAULT 0,
			locked BOOLEAN DEFAULT FALSE,
			archived BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ,
			edited_at TIMESTAMPTZ,
			notification_id TEXT REFERENCES notification_feed(id) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS external_mirror_message (
			foreign_id BIGINT PRIMARY KEY,
			sent_at TIMESTAMPTZ,
			derived_ids TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS treasury_event (
			tx_hash TEXT PRIMARY KEY,
			value DOUBLE PRECISION,
			asset TEXT,
			from_address TEXT,
			to_address TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_thread_notification ON source_thread(notification_id)`,
		`CREATE INDEX IF NOT EXISTS idx_source_message_notification ON source_message(notification_id)`,
		`CREATE INDEX IF NOT EXISTS idx_source_message_parent ON source_message(parent_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
