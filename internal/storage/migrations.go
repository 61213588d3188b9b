package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Practice registry",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS therapists (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					calendar_id TEXT NOT NULL DEFAULT '',
					time_zone TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS patients (
					id TEXT PRIMARY KEY,
					therapist_id TEXT NOT NULL REFERENCES therapists(id),
					name TEXT NOT NULL,
					email TEXT NOT NULL DEFAULT '',
					document TEXT NOT NULL DEFAULT '',
					price INTEGER NOT NULL,
					billing_start_date DATETIME,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_patients_therapist ON patients(therapist_id)`,
				`CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					therapist_id TEXT NOT NULL REFERENCES therapists(id),
					patient_id TEXT NOT NULL REFERENCES patients(id),
					date DATETIME NOT NULL,
					status TEXT NOT NULL,
					price INTEGER NOT NULL,
					payment_status TEXT NOT NULL,
					calendar_event_id TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_sessions_therapist_date ON sessions(therapist_id, date)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Billing periods and payments",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS billing_periods (
					id TEXT PRIMARY KEY,
					therapist_id TEXT NOT NULL REFERENCES therapists(id),
					patient_id TEXT NOT NULL REFERENCES patients(id),
					year INTEGER NOT NULL,
					month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
					session_count INTEGER NOT NULL,
					total_amount INTEGER NOT NULL,
					sessions_snapshot TEXT NOT NULL,
					processed_at DATETIME NOT NULL,
					processed_by TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('processed', 'paid', 'void')),
					voided_at DATETIME,
					voided_by TEXT NOT NULL DEFAULT '',
					void_reason TEXT NOT NULL DEFAULT ''
				)`,
				// At most one non-void period per key.
				`CREATE UNIQUE INDEX idx_billing_periods_active_key
					ON billing_periods(therapist_id, patient_id, year, month)
					WHERE status != 'void'`,
				`CREATE INDEX idx_billing_periods_month ON billing_periods(therapist_id, year, month)`,
				`CREATE TABLE IF NOT EXISTS payments (
					id TEXT PRIMARY KEY,
					billing_period_id TEXT NOT NULL REFERENCES billing_periods(id),
					amount INTEGER NOT NULL,
					method TEXT NOT NULL,
					payment_date DATETIME NOT NULL,
					reference TEXT NOT NULL DEFAULT '',
					recorded_by TEXT NOT NULL,
					notes TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_payments_period ON payments(billing_period_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Bank connections and idempotency ledger",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS bank_connections (
					id TEXT PRIMARY KEY,
					therapist_id TEXT NOT NULL REFERENCES therapists(id),
					provider TEXT NOT NULL,
					provider_account_id TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('active', 'revoked')),
					last_sync_at DATETIME,
					created_at DATETIME NOT NULL
				)`,
				// No payer or amount columns: unmatched transactions leave only this row.
				`CREATE TABLE IF NOT EXISTS processed_events (
					connection_id TEXT NOT NULL REFERENCES bank_connections(id),
					provider_transaction_id TEXT NOT NULL,
					match_found BOOLEAN NOT NULL,
					processed_at DATETIME NOT NULL,
					PRIMARY KEY (connection_id, provider_transaction_id)
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Matched events",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS matched_events (
					id TEXT PRIMARY KEY,
					connection_id TEXT NOT NULL REFERENCES bank_connections(id),
					provider_transaction_id TEXT NOT NULL,
					amount INTEGER NOT NULL,
					date DATETIME NOT NULL,
					sender_first_name TEXT NOT NULL DEFAULT '',
					sender_initials TEXT NOT NULL DEFAULT '',
					settlement_ref TEXT NOT NULL DEFAULT '',
					session_id TEXT NOT NULL REFERENCES sessions(id),
					patient_id TEXT NOT NULL REFERENCES patients(id),
					match_type TEXT NOT NULL,
					confidence REAL NOT NULL CHECK (confidence BETWEEN 0 AND 1),
					reason TEXT NOT NULL,
					amount_difference INTEGER NOT NULL,
					status TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					UNIQUE (connection_id, provider_transaction_id)
				)`,
				// A session is the target of at most one match.
				`CREATE UNIQUE INDEX idx_matched_events_session ON matched_events(session_id)`,
			})
		},
	},
}

// Migrate brings the schema up to ExpectedSchemaVersion.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
