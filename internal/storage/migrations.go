package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					due_date DATETIME NOT NULL,
					vendor_name TEXT NOT NULL DEFAULT '',
					vendor_tax_id TEXT NOT NULL DEFAULT '',
					bank_account TEXT NOT NULL DEFAULT '',
					invoice_number TEXT NOT NULL DEFAULT '',
					vendor_fingerprint TEXT NOT NULL DEFAULT '',
					recurring_template_id TEXT NOT NULL DEFAULT '',
					recurring_instance_id TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT 'other',
					status TEXT NOT NULL DEFAULT 'pending',
					source TEXT NOT NULL DEFAULT 'manual',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_documents_fingerprint ON documents(vendor_fingerprint)`,
				`CREATE INDEX idx_documents_instance ON documents(recurring_instance_id)`,

				`CREATE TABLE IF NOT EXISTS recurring_templates (
					id TEXT PRIMARY KEY,
					vendor_fingerprint TEXT NOT NULL,
					vendor_only_fingerprint TEXT NOT NULL DEFAULT '',
					vendor_display_name TEXT NOT NULL DEFAULT '',
					vendor_short_name TEXT NOT NULL DEFAULT '',
					due_day_of_month INTEGER NOT NULL CHECK (due_day_of_month BETWEEN 1 AND 31),
					tolerance_days INTEGER NOT NULL DEFAULT 0,
					amount_min TEXT,
					amount_max TEXT,
					currency TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT 1,
					source TEXT NOT NULL,
					matched_document_count INTEGER NOT NULL DEFAULT 0,
					paid_instance_count INTEGER NOT NULL DEFAULT 0,
					missed_instance_count INTEGER NOT NULL DEFAULT 0,
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_templates_fingerprint ON recurring_templates(vendor_fingerprint)`,
				`CREATE INDEX idx_templates_vendor_only ON recurring_templates(vendor_only_fingerprint)`,

				`CREATE TABLE IF NOT EXISTS recurring_instances (
					id TEXT PRIMARY KEY,
					template_id TEXT NOT NULL,
					period_key TEXT NOT NULL,
					expected_due_date DATETIME NOT NULL,
					expected_amount TEXT,
					matched_document_id TEXT NOT NULL DEFAULT '',
					final_due_date DATETIME,
					final_amount TEXT,
					invoice_number TEXT NOT NULL DEFAULT '',
					matched_at DATETIME,
					status TEXT NOT NULL,
					side_effects TEXT NOT NULL DEFAULT '[]',
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					FOREIGN KEY (template_id) REFERENCES recurring_templates(id)
				)`,
				`CREATE INDEX idx_instances_template ON recurring_instances(template_id)`,
				`CREATE INDEX idx_instances_status_due ON recurring_instances(status, expected_due_date)`,

				`CREATE TABLE IF NOT EXISTS candidate_suppressions (
					vendor_fingerprint TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					suppressed_until DATETIME,
					created_at DATETIME NOT NULL
				)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Enforce one active template per fingerprint and one live instance per period",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_active_fingerprint
					ON recurring_templates(vendor_fingerprint) WHERE is_active = 1`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_live_period
					ON recurring_instances(template_id, period_key) WHERE status != 'cancelled'`,
			)
		},
	},
	{
		Version:     3,
		Description: "Add reminders table for scheduled payment reminders",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS reminders (
					handle TEXT PRIMARY KEY,
					instance_id TEXT NOT NULL,
					fire_at DATETIME NOT NULL,
					created_at DATETIME NOT NULL,
					cancelled_at DATETIME
				)`,
				`CREATE INDEX idx_reminders_fire_at ON reminders(fire_at)`,
				`CREATE INDEX idx_reminders_instance ON reminders(instance_id)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// Migrate brings the schema up to ExpectedSchemaVersion.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
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

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
