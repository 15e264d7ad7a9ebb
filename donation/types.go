/*
Package donation provides the donation ledger core.

PURPOSE:
  Donors submit donations with a proof of payment, cashiers verify or reject
  them, and reporting reads totals computed from the ledger. This package
  holds the domain types, the lifecycle state machine, the aggregation
  service, and the tier calculator. Storage, notifications, HTTP and export
  live outside and are reached through interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Donation: an immutable contribution record (amount, method, proof)
  - StatusEntry: one row of the append-only status history
  - Record: a donation joined with its DERIVED current status
  - User / Actor: who owns donations and who performs operations

CURRENT STATUS:
  A donation never carries a writable status field. Its status is the most
  recent StatusEntry (latest ChangedAt, ties broken by highest entry ID).
  Record.Status is a read projection of that rule, nothing more.

SEE ALSO:
  - lifecycle.go: pending → verified | rejected transitions
  - aggregate.go: totals, series, summaries
  - tier.go: Blue/Bronze/Silver/Gold classification
*/
package donation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DonationID int64
type EntryID int64
type UserID int64
type NotificationID int64

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentGCash        PaymentMethod = "gcash"
	PaymentCash         PaymentMethod = "cash"
	PaymentCheck        PaymentMethod = "check"
)

// PaymentMethods lists every accepted method in display order.
var PaymentMethods = []PaymentMethod{PaymentBankTransfer, PaymentGCash, PaymentCash, PaymentCheck}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBankTransfer, PaymentGCash, PaymentCash, PaymentCheck:
		return true
	}
	return false
}

// ParsePaymentMethod accepts the canonical values case-insensitively.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ValidationError{Field: "payment_method", Err: ErrInvalidPaymentMethod, Value: s}
	}
	return m, nil
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusVerified, StatusPending, StatusRejected}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool { return s == StatusVerified || s == StatusRejected }

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Field: "status", Err: ErrInvalidStatus, Value: s}
	}
	return st, nil
}

// =============================================================================
// DONATION + STATUS HISTORY
// =============================================================================

// Donation is a single contribution. Rows are written once and never edited.
type Donation struct {
	ID              DonationID
	DonorID         UserID
	Amount          decimal.Decimal
	PaymentMethod   PaymentMethod
	ReferenceNumber string
	ProofRef        string
	CreatedAt       time.Time
}

// StatusEntry is one append-only history row.
type StatusEntry struct {
	ID         EntryID
	DonationID DonationID
	Status     Status
	ChangedBy  UserID
	ChangedAt  time.Time
	Notes      string
}

// Record is a donation with its current status derived from history.
type Record struct {
	Donation
	Status          Status
	StatusChangedAt time.Time
}

// Detail is a donation with its full history, oldest first.
type Detail struct {
	Donation
	Status  Status
	History []StatusEntry
}

// CurrentStatus derives the current status from a donation's history:
// the entry with the latest ChangedAt, ties broken by the highest ID.
func CurrentStatus(entries []StatusEntry) (StatusEntry, error) {
	if len(entries) == 0 {
		return StatusEntry{}, ErrNoHistory
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if laterEntry(e, latest) {
			latest = e
		}
	}
	return latest, nil
}

func laterEntry(a, b StatusEntry) bool {
	if a.ChangedAt.Equal(b.ChangedAt) {
		return a.ID > b.ID
	}
	return a.ChangedAt.After(b.ChangedAt)
}

// =============================================================================
// USERS
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCashier Role = "cashier"
	RoleDonor   Role = "donor"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCashier || r == RoleDonor
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &ValidationError{Field: "role", Err: ErrInvalidRole, Value: s}
	}
	return r, nil
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

type User struct {
	ID            UserID
	Name          string
	Email         string
	Role          Role
	AccountStatus AccountStatus
	CreatedAt     time.Time
}

func ParseAccountStatus(s string) (AccountStatus, error) {
	st := AccountStatus(strings.ToLower(strings.TrimSpace(s)))
	if st != AccountActive && st != AccountInactive {
		return "", &ValidationError{Field: "account_status", Err: ErrInvalidAccountStatus, Value: s}
	}
	return st, nil
}

func (u User) Active() bool { return u.AccountStatus == AccountActive }

// Actor is the authenticated caller of an operation. It is passed explicitly
// instead of living in session state.
type Actor struct {
	ID   UserID
	Role Role
}

// Can reports whether the actor holds one of the given roles.
func (a Actor) Can(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

func (a Actor) String() string { return fmt.Sprintf("%s#%d", a.Role, a.ID) }

// =============================================================================
// QUERY FILTERS
// =============================================================================

// Filter narrows QueryDonations. Zero values mean "no restriction".
// Statuses match the derived current status.
type Filter struct {
	DonorID       *UserID
	Statuses      []Status
	PaymentMethod PaymentMethod
	Created       Period
	Limit         int
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role          Role
	AccountStatus AccountStatus
}
