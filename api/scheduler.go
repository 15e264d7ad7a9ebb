/*
scheduler.go - Pending-review reminder

PURPOSE:
  Periodically looks for donations that have stayed pending longer than
  PendingAge and sends every active cashier one in-app reminder listing how
  many are waiting. The reminder only reads the ledger.

DESIGN:
  - gocron scheduler with a single duration job
  - Singleton mode: a slow run is never overlapped by the next tick
  - Runs once immediately on Start
  - Notification failures are logged and skipped, like lifecycle notices

CONFIGURATION (config.ReminderConfig):
  - Interval:   How often to check (default: 1 hour)
  - PendingAge: How old a pending donation must be (default: 48 hours)

USAGE:
  reminder := NewPendingReminder(store, users, notifier, logger)
  reminder.Start()
  // ... later
  reminder.Stop()

SEE ALSO:
  - donation/lifecycle.go: Where donations leave pending
  - notify/notify.go: Notifier implementations
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/warp/donation-ledger/donation"
)

// PendingReminder nudges cashiers about donations awaiting review.
type PendingReminder struct {
	Store      donation.Store
	Users      donation.UserStore
	Notifier   donation.Notifier
	Logger     *zap.Logger
	Interval   time.Duration
	PendingAge time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

func NewPendingReminder(store donation.Store, users donation.UserStore, notifier donation.Notifier, logger *zap.Logger) *PendingReminder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingReminder{
		Store:      store,
		Users:      users,
		Notifier:   notifier,
		Logger:     logger.Named("reminder"),
		Interval:   time.Hour,
		PendingAge: 48 * time.Hour,
		Now:        time.Now,
	}
}

func (p *PendingReminder) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Start schedules the job and runs it once right away.
func (p *PendingReminder) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scheduler != nil {
		return nil
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(p.Interval),
		gocron.NewTask(p.run),
		gocron.WithName("pending_review_reminder"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule reminder: %w", err)
	}

	s.Start()
	p.scheduler = s
	p.Logger.Info("reminder started",
		zap.Duration("interval", p.Interval),
		zap.Duration("pending_age", p.PendingAge))
	return nil
}

// Stop waits for a running check to finish.
func (p *PendingReminder) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scheduler == nil {
		return nil
	}
	err := p.scheduler.Shutdown()
	p.scheduler = nil
	p.Logger.Info("reminder stopped")
	return err
}

func (p *PendingReminder) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := p.RunOnce(ctx); err != nil {
		p.Logger.Error("reminder check failed", zap.Error(err))
	}
}

// RunOnce performs a single check and returns how many donations are
// overdue for review.
func (p *PendingReminder) RunOnce(ctx context.Context) (int, error) {
	now := p.now()
	cutoff := now.Add(-p.PendingAge)

	overdue, err := p.Store.QueryDonations(ctx, donation.Filter{
		Statuses: []donation.Status{donation.StatusPending},
		Created:  donation.Period{End: cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("query pending donations: %w", err)
	}
	if len(overdue) == 0 {
		p.Logger.Debug("no overdue donations", zap.Time("cutoff", cutoff))
		return 0, nil
	}

	cashiers, err := p.Users.ListUsers(ctx, donation.UserFilter{
		Role:          donation.RoleCashier,
		AccountStatus: donation.AccountActive,
	})
	if err != nil {
		return len(overdue), fmt.Errorf("list cashiers: %w", err)
	}

	// QueryDonations is newest first.
	oldest := overdue[len(overdue)-1]
	msg := fmt.Sprintf("%d donation(s) have been pending for more than %s. The oldest (#%d, %s) was submitted on %s.",
		len(overdue), p.PendingAge, oldest.ID, donation.FormatAmount(oldest.Amount), oldest.CreatedAt.Format("January 2, 2006"))

	sent := 0
	for _, c := range cashiers {
		err := p.Notifier.Notify(ctx, donation.Notification{
			UserID:    c.ID,
			Title:     "Donations awaiting review",
			Message:   msg,
			Kind:      donation.KindInfo,
			CreatedAt: now,
		})
		if err != nil {
			p.Logger.Warn("reminder not delivered", zap.Int64("user_id", int64(c.ID)), zap.Error(err))
			continue
		}
		sent++
	}

	p.Logger.Info("reminder check completed",
		zap.Int("overdue", len(overdue)),
		zap.Int("cashiers_notified", sent))
	return len(overdue), nil
}
