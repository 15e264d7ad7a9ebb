package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// ExpectedSchemaVersion is the latest schema version this build understands.
// A database that cannot be brought to it is a fatal error.
const ExpectedSchemaVersion = 3

// Migration is one forward-only schema step.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Users, donations and append-only status history",
		Up: execAll(
			`CREATE TABLE users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				email TEXT UNIQUE COLLATE NOCASE,
				role TEXT NOT NULL CHECK (role IN ('admin', 'cashier', 'donor')),
				account_status TEXT NOT NULL DEFAULT 'active'
					CHECK (account_status IN ('active', 'inactive')),
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX idx_users_role ON users(role, account_status)`,

			// Donations are written once; status lives in donation_status_history.
			`CREATE TABLE donations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				donor_id INTEGER NOT NULL,
				amount TEXT NOT NULL,
				payment_method TEXT NOT NULL
					CHECK (payment_method IN ('bank_transfer', 'gcash', 'cash', 'check')),
				reference_number TEXT,
				proof_ref TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX idx_donations_donor_created ON donations(donor_id, created_at)`,

			`CREATE TABLE donation_status_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				donation_id INTEGER NOT NULL REFERENCES donations(id),
				status TEXT NOT NULL CHECK (status IN ('pending', 'verified', 'rejected')),
				changed_by INTEGER,
				changed_at TEXT NOT NULL,
				notes TEXT
			)`,
			`CREATE INDEX idx_history_donation_changed
				ON donation_status_history(donation_id, changed_at DESC, id DESC)`,
		),
	},
	{
		Version:     2,
		Description: "Current status view derived from history",
		Up: execAll(
			`CREATE VIEW donation_current_status AS
				SELECT h.donation_id, h.status, h.changed_at, h.changed_by
				FROM donation_status_history h
				WHERE h.id = (
					SELECT h2.id FROM donation_status_history h2
					WHERE h2.donation_id = h.donation_id
					ORDER BY h2.changed_at DESC, h2.id DESC
					LIMIT 1
				)`,
			`CREATE INDEX idx_donations_created ON donations(created_at DESC, id DESC)`,
		),
	},
	{
		Version:     3,
		Description: "In-app notifications",
		Up: execAll(
			`CREATE TABLE notifications (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				kind TEXT NOT NULL DEFAULT 'info',
				read INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX idx_notifications_user ON notifications(user_id, read, id DESC)`,
		),
	},
}

func execAll(queries ...string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, query := range queries {
			if _, err := tx.Exec(query); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
		}
		return nil
	}
}

// Migrate applies every pending migration, each in its own transaction, and
// verifies the database ends at ExpectedSchemaVersion.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Description, formatTime(s.now()),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		s.log.Info("applied migration",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))
	}

	return s.checkSchema(ctx)
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaVersion(ctx)
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return int(version.Int64), nil
}

// CheckSchema fails when the database is not at ExpectedSchemaVersion. The
// server calls it at startup instead of patching the schema on the fly.
func (s *Store) CheckSchema(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkSchema(ctx)
}

func (s *Store) checkSchema(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version != ExpectedSchemaVersion {
		return fmt.Errorf("%w: expected %d, got %d (run `donationd migrate`)",
			ErrSchemaVersion, ExpectedSchemaVersion, version)
	}
	return nil
}
