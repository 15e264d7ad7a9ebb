// Package notify provides donation.Notifier implementations: structured
// log output, the in-app inbox, and fan-out to several of them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/donation-ledger/donation"
)

// Log writes notifications to the logger. Useful as a stand-in for email.
type Log struct {
	Logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{Logger: logger}
}

func (l *Log) Notify(_ context.Context, n donation.Notification) error {
	l.Logger.Info("notification",
		zap.Int64("user_id", int64(n.UserID)),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
	return nil
}

// InApp stores notifications in the user's inbox.
type InApp struct {
	Store donation.NotificationStore
	Now   func() time.Time
}

func NewInApp(store donation.NotificationStore) *InApp {
	return &InApp{Store: store, Now: time.Now}
}

func (a *InApp) Notify(ctx context.Context, n donation.Notification) error {
	if n.UserID <= 0 {
		return fmt.Errorf("notify: missing recipient")
	}
	if n.Kind == "" {
		n.Kind = donation.KindInfo
	}
	if n.CreatedAt.IsZero() {
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		n.CreatedAt = now().UTC()
	}
	if _, err := a.Store.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []donation.Notifier

func (m Multi) Notify(ctx context.Context, n donation.Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, donation.Notification) error { return nil }

var (
	_ donation.Notifier = (*Log)(nil)
	_ donation.Notifier = (*InApp)(nil)
	_ donation.Notifier = Multi(nil)
	_ donation.Notifier = Nop{}
)
