/*
lifecycle.go - Donation lifecycle (submit, verify, reject)

PURPOSE:
  Owns the state machine of a single donation and is the only place that
  writes status history or triggers notifications about it.

STATE MACHINE:
  ┌─────────┐   verify   ┌──────────┐
  │ pending │ ─────────▶ │ verified │  (terminal)
  └─────────┘            └──────────┘
       │        reject   ┌──────────┐
       └───────────────▶ │ rejected │  (terminal)
                         └──────────┘

ATOMICITY:
  Submit:     donation row + first pending entry in one transaction.
  Transition: read current status + conditional append in one transaction.
              If another reviewer got there first, NotPendingError.

NOTIFICATIONS:
  After a transition commits, exactly one notification attempt is made to
  the donor. Its failure is logged and swallowed; the status change is
  the authoritative outcome.

EXAMPLE:
  lc := donation.NewLifecycle(store, notifier, logger)
  d, err := lc.Submit(ctx, donation.SubmitRequest{DonorID: 7, Amount: amt, ...})
  _, err = lc.Transition(ctx, donation.TransitionRequest{
      DonationID: d.ID, Status: donation.StatusVerified, ActorID: cashierID,
  })

SEE ALSO:
  - store.go: TxStore.WithTx, AppendStatus check-and-set
  - errors.go: NotPendingError, ValidationError
*/
package donation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// REQUESTS
// =============================================================================

type SubmitRequest struct {
	DonorID         UserID
	Amount          decimal.Decimal
	PaymentMethod   PaymentMethod
	ReferenceNumber string
	ProofRef        string
}

// Validate runs the checks that happen before any persistence attempt.
func (r SubmitRequest) Validate() error {
	if r.DonorID <= 0 {
		return &ValidationError{Field: "donor_id", Err: ErrMissingDonor}
	}
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount, Value: r.Amount.String()}
	}
	if !r.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Err: ErrInvalidPaymentMethod, Value: string(r.PaymentMethod)}
	}
	if strings.TrimSpace(r.ProofRef) == "" {
		return &ValidationError{Field: "proof", Err: ErrMissingProof}
	}
	return nil
}

type TransitionRequest struct {
	DonationID DonationID
	Status     Status
	ActorID    UserID
	Notes      string
}

func (r TransitionRequest) Validate() error {
	if r.Status != StatusVerified && r.Status != StatusRejected {
		return &ValidationError{Field: "status", Err: ErrInvalidStatus, Value: string(r.Status)}
	}
	if r.ActorID <= 0 {
		return &ValidationError{Field: "actor_id", Err: ErrMissingActor}
	}
	return nil
}

// RequireRejectionNotes is the caller-level rule that a rejection carries a
// reason. Transition does not enforce it.
func RequireRejectionNotes(status Status, notes string) error {
	if status == StatusRejected && strings.TrimSpace(notes) == "" {
		return &ValidationError{Field: "notes", Err: ErrRejectionNotesRequired}
	}
	return nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type Lifecycle struct {
	Store    TxStore
	Notifier Notifier
	Logger   *zap.Logger

	// Users, when set, is consulted on Submit: the donor must exist, hold
	// the donor role and be active.
	Users UserStore

	// Now defaults to time.Now.
	Now func() time.Time
}

func NewLifecycle(store TxStore, notifier Notifier, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{Store: store, Notifier: notifier, Logger: logger, Now: time.Now}
}

func (l *Lifecycle) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Lifecycle) log() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Submit records a new pending donation.
func (l *Lifecycle) Submit(ctx context.Context, req SubmitRequest) (Donation, error) {
	if err := req.Validate(); err != nil {
		return Donation{}, err
	}
	if err := l.checkDonor(ctx, req.DonorID); err != nil {
		return Donation{}, err
	}

	now := l.now()
	d := Donation{
		DonorID:         req.DonorID,
		Amount:          req.Amount,
		PaymentMethod:   req.PaymentMethod,
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		ProofRef:        req.ProofRef,
		CreatedAt:       now,
	}

	err := l.Store.WithTx(ctx, func(s Store) error {
		id, err := s.InsertDonation(ctx, d)
		if err != nil {
			return fmt.Errorf("insert donation: %w", err)
		}
		d.ID = id

		_, err = s.AppendStatus(ctx, StatusEntry{
			DonationID: id,
			Status:     StatusPending,
			ChangedBy:  req.DonorID,
			ChangedAt:  now,
		}, "")
		if err != nil {
			return fmt.Errorf("insert pending status: %w", err)
		}
		return nil
	})
	if err != nil {
		l.log().Error("donation submit failed",
			zap.Int64("donor_id", int64(req.DonorID)),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return Donation{}, fmt.Errorf("submit donation: %w", err)
	}

	l.log().Info("donation submitted",
		zap.Int64("donation_id", int64(d.ID)),
		zap.Int64("donor_id", int64(d.DonorID)),
		zap.String("amount", d.Amount.String()),
		zap.String("payment_method", string(d.PaymentMethod)))
	return d, nil
}

func (l *Lifecycle) checkDonor(ctx context.Context, id UserID) error {
	if l.Users == nil {
		return nil
	}
	u, err := l.Users.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Role != RoleDonor {
		return ErrNotDonor
	}
	if !u.Active() {
		return ErrInactiveDonor
	}
	return nil
}

// Transition moves a pending donation to verified or rejected. The returned
// entry is the one appended to history.
func (l *Lifecycle) Transition(ctx context.Context, req TransitionRequest) (StatusEntry, error) {
	if err := req.Validate(); err != nil {
		return StatusEntry{}, err
	}

	var (
		d     Donation
		entry StatusEntry
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		d, err = s.GetDonation(ctx, req.DonationID)
		if err != nil {
			return err
		}

		history, err := s.History(ctx, req.DonationID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		current, err := CurrentStatus(history)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return &NotPendingError{DonationID: req.DonationID, Current: current.Status}
		}

		// The new entry must sort after the current one even if the clock
		// went backwards.
		changedAt := l.now()
		if changedAt.Before(current.ChangedAt) {
			changedAt = current.ChangedAt
		}
		entry = StatusEntry{
			DonationID: req.DonationID,
			Status:     req.Status,
			ChangedBy:  req.ActorID,
			ChangedAt:  changedAt,
			Notes:      strings.TrimSpace(req.Notes),
		}

		id, err := s.AppendStatus(ctx, entry, StatusPending)
		if errors.Is(err, ErrStatusConflict) {
			return &NotPendingError{DonationID: req.DonationID, Current: l.currentOrUnknown(ctx, s, req.DonationID)}
		}
		if err != nil {
			return fmt.Errorf("append status: %w", err)
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		if IsNotFound(err) || IsConflict(err) {
			l.log().Info("donation transition refused",
				zap.Int64("donation_id", int64(req.DonationID)),
				zap.String("status", string(req.Status)),
				zap.Int64("actor_id", int64(req.ActorID)),
				zap.Error(err))
			return StatusEntry{}, err
		}
		l.log().Error("donation transition failed",
			zap.Int64("donation_id", int64(req.DonationID)),
			zap.String("status", string(req.Status)),
			zap.Error(err))
		return StatusEntry{}, fmt.Errorf("transition donation: %w", err)
	}

	l.log().Info("donation reviewed",
		zap.Int64("donation_id", int64(d.ID)),
		zap.String("status", string(entry.Status)),
		zap.Int64("actor_id", int64(entry.ChangedBy)))

	l.notify(ctx, transitionNotification(d, entry))
	return entry, nil
}

// Verify is Transition to StatusVerified.
func (l *Lifecycle) Verify(ctx context.Context, id DonationID, actor UserID) (StatusEntry, error) {
	return l.Transition(ctx, TransitionRequest{DonationID: id, Status: StatusVerified, ActorID: actor})
}

// Reject is Transition to StatusRejected.
func (l *Lifecycle) Reject(ctx context.Context, id DonationID, actor UserID, notes string) (StatusEntry, error) {
	return l.Transition(ctx, TransitionRequest{DonationID: id, Status: StatusRejected, ActorID: actor, Notes: notes})
}

func (l *Lifecycle) currentOrUnknown(ctx context.Context, s Store, id DonationID) Status {
	history, err := s.History(ctx, id)
	if err != nil {
		return ""
	}
	e, err := CurrentStatus(history)
	if err != nil {
		return ""
	}
	return e.Status
}

// CurrentStatus derives the status of a donation from its history.
func (l *Lifecycle) CurrentStatus(ctx context.Context, id DonationID) (Status, error) {
	detail, err := l.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return detail.Status, nil
}

// Get returns a donation with its full history.
func (l *Lifecycle) Get(ctx context.Context, id DonationID) (Detail, error) {
	d, err := l.Store.GetDonation(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	history, err := l.Store.History(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("load history: %w", err)
	}
	current, err := CurrentStatus(history)
	if err != nil {
		return Detail{}, fmt.Errorf("donation %d: %w", id, err)
	}
	return Detail{Donation: d, Status: current.Status, History: history}, nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (l *Lifecycle) notify(ctx context.Context, n Notification) {
	if l.Notifier == nil {
		return
	}
	if err := l.Notifier.Notify(ctx, n); err != nil {
		l.log().Warn("notification failed",
			zap.Int64("user_id", int64(n.UserID)),
			zap.String("title", n.Title),
			zap.Error(err))
	}
}

func transitionNotification(d Donation, e StatusEntry) Notification {
	n := Notification{UserID: d.DonorID, CreatedAt: e.ChangedAt}
	amount := FormatAmount(d.Amount)
	ref := ""
	if d.ReferenceNumber != "" {
		ref = fmt.Sprintf(" (reference %s)", d.ReferenceNumber)
	}

	switch e.Status {
	case StatusVerified:
		n.Title = "Donation Verified"
		n.Kind = KindSuccess
		n.Message = fmt.Sprintf("Your donation of %s%s has been verified. Thank you for your support!", amount, ref)
	case StatusRejected:
		n.Title = "Donation Rejected"
		n.Kind = KindDanger
		n.Message = fmt.Sprintf("Your donation of %s%s has been rejected.", amount, ref)
		if e.Notes != "" {
			n.Message += " Reason: " + e.Notes
		}
	default:
		n.Title = "Donation Updated"
		n.Kind = KindInfo
		n.Message = fmt.Sprintf("Your donation of %s%s is now %s.", amount, ref, e.Status)
	}
	return n
}

// FormatAmount renders an amount with two decimals and thousands separators.
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
