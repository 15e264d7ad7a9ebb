package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/donation-ledger/donation"
)

var base = time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertPending(t *testing.T, s donation.Store, donor donation.UserID, amount string, at time.Time) donation.DonationID {
	t.Helper()
	ctx := context.Background()
	id, err := s.InsertDonation(ctx, donation.Donation{
		DonorID:         donor,
		Amount:          decimal.RequireFromString(amount),
		PaymentMethod:   donation.PaymentBankTransfer,
		ReferenceNumber: "BT-1",
		ProofRef:        "proofs/a.png",
		CreatedAt:       at,
	})
	require.NoError(t, err)
	_, err = s.AppendStatus(ctx, donation.StatusEntry{
		DonationID: id, Status: donation.StatusPending, ChangedBy: donor, ChangedAt: at,
	}, "")
	require.NoError(t, err)
	return id
}

func TestMigrate_IsIdempotentAndVersioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, v)

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.CheckSchema(ctx))
}

func TestCheckSchema_FailsOnFreshDatabase(t *testing.T) {
	s, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	err = s.CheckSchema(context.Background())
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestDonation_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insertPending(t, s, 7, "1234.56", base)

	d, err := s.GetDonation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, donation.UserID(7), d.DonorID)
	assert.Equal(t, "1234.56", d.Amount.String())
	assert.Equal(t, donation.PaymentBankTransfer, d.PaymentMethod)
	assert.Equal(t, "BT-1", d.ReferenceNumber)
	assert.True(t, d.CreatedAt.Equal(base), "nanoseconds survive storage")

	_, err = s.GetDonation(ctx, 999)
	assert.ErrorIs(t, err, donation.ErrDonationNotFound)
}

func TestAppendStatus_CheckAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insertPending(t, s, 7, "100", base)

	_, err := s.AppendStatus(ctx, donation.StatusEntry{
		DonationID: id, Status: donation.StatusVerified, ChangedBy: 2, ChangedAt: base.Add(time.Minute),
	}, donation.StatusPending)
	require.NoError(t, err)

	_, err = s.AppendStatus(ctx, donation.StatusEntry{
		DonationID: id, Status: donation.StatusRejected, ChangedBy: 3, ChangedAt: base.Add(2 * time.Minute),
	}, donation.StatusPending)
	assert.ErrorIs(t, err, donation.ErrStatusConflict)

	_, err = s.AppendStatus(ctx, donation.StatusEntry{DonationID: 404, Status: donation.StatusVerified, ChangedAt: base}, "")
	assert.ErrorIs(t, err, donation.ErrDonationNotFound)

	entries, err := s.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, donation.StatusPending, entries[0].Status)
	assert.Equal(t, donation.StatusVerified, entries[1].Status)
	assert.Equal(t, donation.UserID(2), entries[1].ChangedBy)
}

func TestCurrentStatusView_TieBreaksByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insertPending(t, s, 7, "100", base)

	// Same timestamp as the pending entry: the higher ID wins.
	_, err := s.AppendStatus(ctx, donation.StatusEntry{DonationID: id, Status: donation.StatusRejected, ChangedAt: base}, "")
	require.NoError(t, err)

	records, err := s.QueryDonations(ctx, donation.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, donation.StatusRejected, records[0].Status)

	entries, err := s.History(ctx, id)
	require.NoError(t, err)
	current, err := donation.CurrentStatus(entries)
	require.NoError(t, err)
	assert.Equal(t, records[0].Status, current.Status, "view and Go derivation agree")
}

func TestQueryDonations_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := insertPending(t, s, 1, "100", base)
	b := insertPending(t, s, 2, "200", base.Add(time.Hour))
	c := insertPending(t, s, 1, "300", base.Add(2*time.Hour))
	_, err := s.AppendStatus(ctx, donation.StatusEntry{DonationID: b, Status: donation.StatusVerified, ChangedAt: base.Add(3 * time.Hour)}, donation.StatusPending)
	require.NoError(t, err)

	all, err := s.QueryDonations(ctx, donation.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []donation.DonationID{c, b, a}, []donation.DonationID{all[0].ID, all[1].ID, all[2].ID})

	donor := donation.UserID(1)
	mine, err := s.QueryDonations(ctx, donation.Filter{DonorID: &donor})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	verified, err := s.QueryDonations(ctx, donation.Filter{Statuses: []donation.Status{donation.StatusVerified}})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, b, verified[0].ID)
	assert.True(t, verified[0].StatusChangedAt.Equal(base.Add(3*time.Hour)))

	both, err := s.QueryDonations(ctx, donation.Filter{Statuses: []donation.Status{donation.StatusVerified, donation.StatusPending}})
	require.NoError(t, err)
	assert.Len(t, both, 3)

	window, err := s.QueryDonations(ctx, donation.Filter{Created: donation.Period{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, b, window[0].ID)

	byMethod, err := s.QueryDonations(ctx, donation.Filter{PaymentMethod: donation.PaymentGCash})
	require.NoError(t, err)
	assert.Empty(t, byMethod)

	limited, err := s.QueryDonations(ctx, donation.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx donation.Store) error {
		insertPending(t, tx, 1, "50", base)
		records, err := tx.QueryDonations(ctx, donation.Filter{})
		require.NoError(t, err)
		require.Len(t, records, 1, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	records, err := s.QueryDonations(ctx, donation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLifecycle_OnSQLite(t *testing.T) {
	// GIVEN: the lifecycle running on SQLite with two racing reviewers
	s := newTestStore(t)
	ctx := context.Background()
	lc := donation.NewLifecycle(s, nil, zaptest.NewLogger(t))
	lc.Now = func() time.Time { return base }

	d, err := lc.Submit(ctx, donation.SubmitRequest{
		DonorID: 7, Amount: decimal.NewFromInt(1000), PaymentMethod: donation.PaymentGCash, ProofRef: "p",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = lc.Verify(ctx, d.ID, donation.UserID(10+i))
		}(i)
	}
	wg.Wait()

	// THEN: exactly one wins
	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, donation.ErrNotPending)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	entries, err := s.History(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	agg := donation.NewAggregator(s, donation.DefaultThresholds(), time.UTC)
	total, err := agg.TotalForDonor(ctx, 7, donation.StatusVerified, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000", total.String())
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, donation.User{Name: "Ana", Email: "ana@example.org", Role: donation.RoleDonor})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, donation.User{Name: "Cy", Role: donation.RoleCashier})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, donation.User{Name: "Dup", Email: "ANA@example.org", Role: donation.RoleDonor})
	assert.ErrorIs(t, err, donation.ErrDuplicateEmail)

	u, err := s.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Name)
	assert.True(t, u.Active())
	created := u.CreatedAt

	u.AccountStatus = donation.AccountInactive
	require.NoError(t, s.UpdateUser(ctx, u))
	u, err = s.GetUser(ctx, id)
	require.NoError(t, err)
	assert.False(t, u.Active())
	assert.True(t, created.Equal(u.CreatedAt))

	inactive, err := s.ListUsers(ctx, donation.UserFilter{AccountStatus: donation.AccountInactive})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, id, inactive[0].ID)

	_, err = s.GetUser(ctx, 999)
	assert.ErrorIs(t, err, donation.ErrUserNotFound)
	assert.ErrorIs(t, s.UpdateUser(ctx, donation.User{ID: 999, Name: "x", Role: donation.RoleDonor, AccountStatus: donation.AccountActive}), donation.ErrUserNotFound)
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SaveNotification(ctx, donation.Notification{UserID: 1, Title: "a", Message: "m", Kind: donation.KindSuccess})
	require.NoError(t, err)
	_, err = s.SaveNotification(ctx, donation.Notification{UserID: 1, Title: "b", Message: "m"})
	require.NoError(t, err)

	inbox, err := s.ListNotifications(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "b", inbox[0].Title)
	assert.Equal(t, donation.KindInfo, inbox[0].Kind)

	require.NoError(t, s.MarkNotificationRead(ctx, 1, first))
	unread, err := s.ListNotifications(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.False(t, unread[0].Read)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, 2, first), donation.ErrNotificationNotFound)
}
