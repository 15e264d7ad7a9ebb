/*
Package sqlite provides a SQLite-backed implementation of the ledger interfaces.

PURPOSE:
  Implements donation.TxStore, donation.UserStore and
  donation.NotificationStore on SQLite.

INTERFACES IMPLEMENTED:
  donation.TxStore:           Donations + append-only status history
  donation.UserStore:         Accounts
  donation.NotificationStore: In-app inbox

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on donations or donation_status_history
  - A donation's status is never stored on the donation row; the
    donation_current_status view derives it from history
  - AppendStatus with an expected status is a single conditional INSERT,
    so a concurrent reviewer cannot slip in between the check and the write

KEY TABLES:
  donations:               Immutable contribution records
  donation_status_history: Status entries (pending, verified, rejected)
  users:                   Accounts and roles
  notifications:           In-app inbox
  schema_migrations:       Applied migration versions

TIMESTAMPS AND AMOUNTS:
  Times are stored in UTC with a fixed-width nanosecond layout, so text
  comparison in SQL equals chronological order. Amounts are decimal
  strings and are summed in Go with shopspring/decimal, never as REAL.

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. SQLite allows one
  writer at a time anyway, and ":memory:" databases exist per connection.

USAGE:
  store, err := sqlite.New("./data/donations.db", logger)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lc := donation.NewLifecycle(store, notifier, logger)

MIGRATION:
  New() applies pending migrations. Open() does not; call CheckSchema()
  to refuse to start on an outdated database.

SEE ALSO:
  - migrations.go: Versioned schema
  - donation/store.go: Interface definitions
  - donation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/donation-ledger/donation"
)

// ErrSchemaVersion is returned when the database schema is not the one this
// build expects.
var ErrSchemaVersion = errors.New("database schema version mismatch")

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements the ledger interfaces using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger

	// Now stamps migrations and defaulted created_at values.
	Now func() time.Time
}

// Open connects to the database without touching its schema.
// Use ":memory:" for an in-memory database.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db, log: logger.Named("sqlite"), Now: time.Now}, nil
}

// New opens the database and applies pending migrations.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	store, err := Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DONATION STORE (donation.Store interface)
// =============================================================================

// InsertDonation writes a donation row.
func (s *Store) InsertDonation(ctx context.Context, d donation.Donation) (donation.DonationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDonation(ctx, s.db, d)
}

func insertDonation(ctx context.Context, q querier, d donation.Donation) (donation.DonationID, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO donations (donor_id, amount, payment_method, reference_number, proof_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(d.DonorID),
		d.Amount.String(),
		string(d.PaymentMethod),
		nullString(d.ReferenceNumber),
		d.ProofRef,
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert donation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read donation id: %w", err)
	}
	return donation.DonationID(id), nil
}

// AppendStatus adds a history entry, conditional on the current status when
// expect is non-empty.
func (s *Store) AppendStatus(ctx context.Context, e donation.StatusEntry, expect donation.Status) (donation.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendStatus(ctx, s.db, e, expect)
}

func appendStatus(ctx context.Context, q querier, e donation.StatusEntry, expect donation.Status) (donation.EntryID, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM donations WHERE id = ?`, int64(e.DonationID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, donation.ErrDonationNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up donation: %w", err)
	}

	query := `
		INSERT INTO donation_status_history (donation_id, status, changed_by, changed_at, notes)
		VALUES (?, ?, ?, ?, ?)`
	args := []any{
		int64(e.DonationID),
		string(e.Status),
		nullUserID(e.ChangedBy),
		formatTime(e.ChangedAt),
		nullString(e.Notes),
	}
	if expect != "" {
		query = `
		INSERT INTO donation_status_history (donation_id, status, changed_by, changed_at, notes)
		SELECT ?, ?, ?, ?, ?
		WHERE (SELECT status FROM donation_current_status WHERE donation_id = ?) = ?`
		args = append(args, int64(e.DonationID), string(expect))
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to append status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to append status: %w", err)
	}
	if n == 0 {
		return 0, donation.ErrStatusConflict
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read entry id: %w", err)
	}
	return donation.EntryID(id), nil
}

// GetDonation returns a donation by ID.
func (s *Store) GetDonation(ctx context.Context, id donation.DonationID) (donation.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDonation(ctx, s.db, id)
}

func getDonation(ctx context.Context, q querier, id donation.DonationID) (donation.Donation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, donor_id, amount, payment_method, reference_number, proof_ref, created_at
		FROM donations WHERE id = ?`, int64(id))

	var (
		d         donation.Donation
		amount    string
		reference sql.NullString
		createdAt string
	)
	err := row.Scan(&d.ID, &d.DonorID, &amount, &d.PaymentMethod, &reference, &d.ProofRef, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.Donation{}, donation.ErrDonationNotFound
	}
	if err != nil {
		return donation.Donation{}, fmt.Errorf("failed to scan donation: %w", err)
	}
	if err := fillDonation(&d, amount, reference, createdAt); err != nil {
		return donation.Donation{}, err
	}
	return d, nil
}

// History returns all entries of a donation, oldest first.
func (s *Store) History(ctx context.Context, id donation.DonationID) ([]donation.StatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(ctx, s.db, id)
}

func history(ctx context.Context, q querier, id donation.DonationID) ([]donation.StatusEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, donation_id, status, changed_by, changed_at, notes
		FROM donation_status_history
		WHERE donation_id = ?
		ORDER BY changed_at ASC, id ASC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []donation.StatusEntry
	for rows.Next() {
		var (
			e         donation.StatusEntry
			changedBy sql.NullInt64
			changedAt string
			notes     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DonationID, &e.Status, &changedBy, &changedAt, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan status entry: %w", err)
		}
		e.ChangedBy = donation.UserID(changedBy.Int64)
		e.Notes = notes.String
		if e.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QueryDonations returns donations joined with their derived current status,
// newest first.
func (s *Store) QueryDonations(ctx context.Context, f donation.Filter) ([]donation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryDonations(ctx, s.db, f)
}

func queryDonations(ctx context.Context, q querier, f donation.Filter) ([]donation.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.DonorID != nil {
		where = append(where, "d.donor_id = ?")
		args = append(args, int64(*f.DonorID))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "cs.status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.PaymentMethod != "" {
		where = append(where, "d.payment_method = ?")
		args = append(args, string(f.PaymentMethod))
	}
	if !f.Created.Start.IsZero() {
		where = append(where, "d.created_at >= ?")
		args = append(args, formatTime(f.Created.Start))
	}
	if !f.Created.End.IsZero() {
		where = append(where, "d.created_at < ?")
		args = append(args, formatTime(f.Created.End))
	}

	query := `
		SELECT d.id, d.donor_id, d.amount, d.payment_method, d.reference_number, d.proof_ref,
		       d.created_at, cs.status, cs.changed_at
		FROM donations d
		JOIN donation_current_status cs ON cs.donation_id = d.id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY d.created_at DESC, d.id DESC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer rows.Close()

	var records []donation.Record
	for rows.Next() {
		var (
			r         donation.Record
			amount    string
			reference sql.NullString
			createdAt string
			changedAt string
		)
		if err := rows.Scan(&r.ID, &r.DonorID, &amount, &r.PaymentMethod, &reference, &r.ProofRef,
			&createdAt, &r.Status, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		if err := fillDonation(&r.Donation, amount, reference, createdAt); err != nil {
			return nil, err
		}
		if r.StatusChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func fillDonation(d *donation.Donation, amount string, reference sql.NullString, createdAt string) error {
	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return fmt.Errorf("donation %d: bad amount %q: %w", d.ID, amount, err)
	}
	d.ReferenceNumber = reference.String
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (donation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store donation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction. It never takes the
// parent's lock; WithTx already holds it.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertDonation(ctx context.Context, d donation.Donation) (donation.DonationID, error) {
	return insertDonation(ctx, ts.tx, d)
}

func (ts *txStore) AppendStatus(ctx context.Context, e donation.StatusEntry, expect donation.Status) (donation.EntryID, error) {
	return appendStatus(ctx, ts.tx, e, expect)
}

func (ts *txStore) GetDonation(ctx context.Context, id donation.DonationID) (donation.Donation, error) {
	return getDonation(ctx, ts.tx, id)
}

func (ts *txStore) History(ctx context.Context, id donation.DonationID) ([]donation.StatusEntry, error) {
	return history(ctx, ts.tx, id)
}

func (ts *txStore) QueryDonations(ctx context.Context, f donation.Filter) ([]donation.Record, error) {
	return queryDonations(ctx, ts.tx, f)
}

var (
	_ donation.TxStore           = (*Store)(nil)
	_ donation.UserStore         = (*Store)(nil)
	_ donation.NotificationStore = (*Store)(nil)
)

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullUserID(id donation.UserID) sql.NullInt64 {
	if id <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
