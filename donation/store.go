/*
store.go - Persistence and notification interfaces consumed by the core

PURPOSE:
  Defines the boundary between the donation core and the database. The
  core owns the transactional boundary (TxStore.WithTx); stores only
  persist and read.

KEY INTERFACES:
  Store:             Donations + append-only status history
  TxStore:           Store with atomic multi-write support
  UserStore:         Donor/cashier/admin accounts
  NotificationStore: In-app notification inbox
  Notifier:          Fire-and-forget dispatcher used by the lifecycle

APPEND-ONLY CONTRACT:
  - InsertDonation(): writes a donation row once
  - AppendStatus(): adds a history entry
  - NO method updates or deletes donations or history. Ever.

CHECK-AND-SET:
  AppendStatus takes the status the caller expects the donation to be in.
  If the derived current status differs, nothing is written and
  ErrStatusConflict is returned. This is what makes two cashiers verifying
  the same donation at once safe: exactly one append wins.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - donation/store/memory.go: In-memory for testing

SEE ALSO:
  - lifecycle.go: Uses TxStore + Notifier
  - aggregate.go: Uses Store.QueryDonations
*/
package donation

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Donation ledger persistence (append-only)
// =============================================================================

type Store interface {
	// InsertDonation persists a new donation and returns its ID.
	InsertDonation(ctx context.Context, d Donation) (DonationID, error)

	// AppendStatus adds a history entry. If expect is non-empty the entry is
	// only written when the current status equals expect; otherwise
	// ErrStatusConflict. Unknown donation → ErrDonationNotFound.
	AppendStatus(ctx context.Context, e StatusEntry, expect Status) (EntryID, error)

	// GetDonation returns ErrDonationNotFound for unknown IDs.
	GetDonation(ctx context.Context, id DonationID) (Donation, error)

	// History returns entries ordered by (ChangedAt, ID) ascending.
	History(ctx context.Context, id DonationID) ([]StatusEntry, error)

	// QueryDonations returns donations joined with their derived current
	// status, newest first.
	QueryDonations(ctx context.Context, f Filter) ([]Record, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// USERS
// =============================================================================

type UserStore interface {
	CreateUser(ctx context.Context, u User) (UserID, error)
	GetUser(ctx context.Context, id UserID) (User, error)
	UpdateUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationKind string

const (
	KindSuccess NotificationKind = "success"
	KindDanger  NotificationKind = "danger"
	KindInfo    NotificationKind = "info"
)

type Notification struct {
	ID        NotificationID
	UserID    UserID
	Title     string
	Message   string
	Kind      NotificationKind
	Read      bool
	CreatedAt time.Time
}

// Notifier delivers a notification. Callers treat failures as advisory.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

type NotificationStore interface {
	SaveNotification(ctx context.Context, n Notification) (NotificationID, error)
	ListNotifications(ctx context.Context, userID UserID, unreadOnly bool) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, userID UserID, id NotificationID) error
}
