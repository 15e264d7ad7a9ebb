package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/donation/store"
)

func TestInApp_SavesToInbox(t *testing.T) {
	mem := store.NewMemory()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	n := NewInApp(mem)
	n.Now = func() time.Time { return at }

	err := n.Notify(context.Background(), donation.Notification{UserID: 5, Title: "Donation Verified", Kind: donation.KindSuccess})
	require.NoError(t, err)

	inbox, err := mem.ListNotifications(context.Background(), 5, true)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Donation Verified", inbox[0].Title)
	assert.Equal(t, at, inbox[0].CreatedAt)
	assert.False(t, inbox[0].Read)
}

func TestInApp_DefaultsKindAndRejectsMissingRecipient(t *testing.T) {
	mem := store.NewMemory()
	n := NewInApp(mem)

	require.NoError(t, n.Notify(context.Background(), donation.Notification{UserID: 1, Title: "x"}))
	inbox, _ := mem.ListNotifications(context.Background(), 1, false)
	require.Len(t, inbox, 1)
	assert.Equal(t, donation.KindInfo, inbox[0].Kind)

	assert.Error(t, n.Notify(context.Background(), donation.Notification{Title: "nobody"}))
}

func TestLog_WritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLog(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), donation.Notification{UserID: 9, Title: "Donation Rejected", Kind: donation.KindDanger}))

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(9), fields["user_id"])
	assert.Equal(t, "Donation Rejected", fields["title"])
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var calls int
	ok := donation.NotifierFunc(func(context.Context, donation.Notification) error {
		calls++
		return nil
	})
	bad := donation.NotifierFunc(func(context.Context, donation.Notification) error {
		calls++
		return errors.New("mailer down")
	})

	err := Multi{ok, nil, bad, ok}.Notify(context.Background(), donation.Notification{UserID: 1})
	assert.Equal(t, 3, calls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailer down")

	assert.NoError(t, Multi{ok}.Notify(context.Background(), donation.Notification{UserID: 1}))
	assert.NoError(t, Nop{}.Notify(context.Background(), donation.Notification{}))
}
