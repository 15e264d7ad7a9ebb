package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/donation/store"
)

type capturingNotifier struct {
	mu   sync.Mutex
	sent []donation.Notification
}

func (c *capturingNotifier) Notify(_ context.Context, n donation.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *capturingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func reminderFixture(t *testing.T) (*PendingReminder, *donation.Lifecycle, *capturingNotifier, donation.UserID) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()

	donor, err := mem.CreateUser(ctx, donation.User{Name: "Dana", Role: donation.RoleDonor})
	require.NoError(t, err)
	cashier, err := mem.CreateUser(ctx, donation.User{Name: "Cass", Role: donation.RoleCashier})
	require.NoError(t, err)
	_, err = mem.CreateUser(ctx, donation.User{Name: "Gone", Role: donation.RoleCashier, AccountStatus: donation.AccountInactive})
	require.NoError(t, err)

	lc := donation.NewLifecycle(mem, nil, zaptest.NewLogger(t))
	submitAt := func(at time.Time, amount int64) {
		lc.Now = func() time.Time { return at }
		_, err := lc.Submit(ctx, donation.SubmitRequest{
			DonorID:       donor,
			Amount:        decimal.NewFromInt(amount),
			PaymentMethod: donation.PaymentCash,
			ProofRef:      "r.png",
		})
		require.NoError(t, err)
	}
	submitAt(t0.Add(-72*time.Hour), 500)
	submitAt(t0.Add(-time.Hour), 900)

	n := &capturingNotifier{}
	r := NewPendingReminder(mem, mem, n, zaptest.NewLogger(t))
	r.PendingAge = 48 * time.Hour
	r.Now = func() time.Time { return t0 }
	return r, lc, n, cashier
}

func TestPendingReminder_NotifiesActiveCashiers(t *testing.T) {
	// GIVEN: One donation pending for three days and one for an hour
	r, _, n, cashier := reminderFixture(t)

	// WHEN: The reminder runs
	overdue, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	// THEN: Only the old one counts, and only the active cashier hears about it
	assert.Equal(t, 1, overdue)
	require.Len(t, n.sent, 1)
	assert.Equal(t, cashier, n.sent[0].UserID)
	assert.Equal(t, donation.KindInfo, n.sent[0].Kind)
	assert.Contains(t, n.sent[0].Message, "#1")
	assert.Contains(t, n.sent[0].Message, "500.00")
	assert.Contains(t, n.sent[0].Message, "March 7, 2025")
}

func TestPendingReminder_SilentWhenNothingOverdue(t *testing.T) {
	r, lc, n, cashier := reminderFixture(t)

	lc.Now = func() time.Time { return t0 }
	_, err := lc.Verify(context.Background(), 1, cashier)
	require.NoError(t, err)

	overdue, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, overdue)
	assert.Empty(t, n.sent)
}

func TestPendingReminder_StartRunsImmediately(t *testing.T) {
	r, _, n, _ := reminderFixture(t)
	r.Interval = time.Hour

	require.NoError(t, r.Start())
	require.NoError(t, r.Start(), "second start is a no-op")

	require.Eventually(t, func() bool { return n.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}
