// Package migrations applies the ledger schema. Statements are idempotent so
// Apply can run at every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS surety_control (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		operational BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS surety_airlines (
		address TEXT PRIMARY KEY,
		registered BOOLEAN NOT NULL DEFAULT FALSE,
		funded_amount BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS surety_airline_votes (
		candidate TEXT NOT NULL,
		voter TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (candidate, voter)
	)`,

	`CREATE TABLE IF NOT EXISTS surety_flights (
		key TEXT PRIMARY KEY,
		airline TEXT NOT NULL,
		code TEXT NOT NULL,
		departure BIGINT NOT NULL,
		status SMALLINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS surety_policies (
		id UUID PRIMARY KEY,
		flight_key TEXT NOT NULL,
		passenger TEXT NOT NULL,
		premium BIGINT NOT NULL,
		purchased BOOLEAN NOT NULL DEFAULT TRUE,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (flight_key, passenger)
	)`,

	`CREATE TABLE IF NOT EXISTS surety_credits (
		passenger TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS surety_oracles (
		address TEXT PRIMARY KEY,
		index_a SMALLINT NOT NULL,
		index_b SMALLINT NOT NULL,
		index_c SMALLINT NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS surety_rounds (
		flight_key TEXT PRIMARY KEY,
		requested_index SMALLINT NOT NULL,
		state TEXT NOT NULL,
		responses JSONB NOT NULL DEFAULT '{}',
		final_status SMALLINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`INSERT INTO surety_control (id, operational) VALUES (1, TRUE)
		ON CONFLICT (id) DO NOTHING`,
}

// Apply runs all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Count returns the number of schema statements Apply executes.
func Count() int { return len(statements) }
