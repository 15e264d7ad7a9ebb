package donation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/donation/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	donorID   donation.UserID = 7
	cashierID donation.UserID = 2
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []donation.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n donation.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) Sent() []donation.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]donation.Notification(nil), r.sent...)
}

func newLifecycle(t *testing.T) (*donation.Lifecycle, *store.TxMemory, *recordingNotifier) {
	t.Helper()
	st := store.NewTxMemory()
	n := &recordingNotifier{}
	lc := donation.NewLifecycle(st, n, zaptest.NewLogger(t))
	lc.Now = func() time.Time { return t0 }
	return lc, st, n
}

func submitReq(amount string) donation.SubmitRequest {
	return donation.SubmitRequest{
		DonorID:         donorID,
		Amount:          dec(amount),
		PaymentMethod:   donation.PaymentGCash,
		ReferenceNumber: "REF1",
		ProofRef:        "proofs/ref1.jpg",
	}
}

func mustSubmit(t *testing.T, lc *donation.Lifecycle, amount string) donation.Donation {
	t.Helper()
	d, err := lc.Submit(context.Background(), submitReq(amount))
	require.NoError(t, err)
	return d
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_CreatesPendingDonation(t *testing.T) {
	lc, st, _ := newLifecycle(t)
	ctx := context.Background()

	d := mustSubmit(t, lc, "1000")
	assert.NotZero(t, d.ID)
	assert.Equal(t, t0, d.CreatedAt)

	status, err := lc.CurrentStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusPending, status)

	history, err := st.History(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, donation.StatusPending, history[0].Status)
	assert.Equal(t, donorID, history[0].ChangedBy)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*donation.SubmitRequest)
		wantErr error
	}{
		{"zero amount", func(r *donation.SubmitRequest) { r.Amount = dec("0") }, donation.ErrInvalidAmount},
		{"negative amount", func(r *donation.SubmitRequest) { r.Amount = dec("-5") }, donation.ErrInvalidAmount},
		{"bad method", func(r *donation.SubmitRequest) { r.PaymentMethod = "paypal" }, donation.ErrInvalidPaymentMethod},
		{"missing proof", func(r *donation.SubmitRequest) { r.ProofRef = "  " }, donation.ErrMissingProof},
		{"missing donor", func(r *donation.SubmitRequest) { r.DonorID = 0 }, donation.ErrMissingDonor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, st, _ := newLifecycle(t)
			req := submitReq("100")
			tt.mutate(&req)

			_, err := lc.Submit(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, donation.IsClientError(err))

			records, err := st.QueryDonations(context.Background(), donation.Filter{})
			require.NoError(t, err)
			assert.Empty(t, records, "nothing must be persisted")
		})
	}
}

func TestSubmit_ChecksDonorAccount(t *testing.T) {
	ctx := context.Background()
	lc, st, _ := newLifecycle(t)
	lc.Users = st

	active, _ := st.CreateUser(ctx, donation.User{Name: "Ana", Role: donation.RoleDonor})
	inactive, _ := st.CreateUser(ctx, donation.User{Name: "Ben", Role: donation.RoleDonor, AccountStatus: donation.AccountInactive})
	cashier, _ := st.CreateUser(ctx, donation.User{Name: "Cy", Role: donation.RoleCashier})

	req := submitReq("100")

	req.DonorID = active
	_, err := lc.Submit(ctx, req)
	assert.NoError(t, err)

	req.DonorID = inactive
	_, err = lc.Submit(ctx, req)
	assert.ErrorIs(t, err, donation.ErrInactiveDonor)

	req.DonorID = cashier
	_, err = lc.Submit(ctx, req)
	assert.ErrorIs(t, err, donation.ErrNotDonor)

	req.DonorID = 999
	_, err = lc.Submit(ctx, req)
	assert.ErrorIs(t, err, donation.ErrUserNotFound)
}

type failAppendStore struct{ *store.TxMemory }

func (f failAppendStore) WithTx(ctx context.Context, fn func(donation.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s donation.Store) error {
		return fn(failAppend{s})
	})
}

type failAppend struct{ donation.Store }

func (failAppend) AppendStatus(context.Context, donation.StatusEntry, donation.Status) (donation.EntryID, error) {
	return 0, errors.New("disk full")
}

func TestSubmit_RollsBackWhenHistoryInsertFails(t *testing.T) {
	// GIVEN: a store whose status append always fails
	mem := store.NewTxMemory()
	lc := donation.NewLifecycle(failAppendStore{mem}, nil, zaptest.NewLogger(t))

	// WHEN: a donation is submitted
	_, err := lc.Submit(context.Background(), submitReq("100"))

	// THEN: the error surfaces and no orphan donation row exists
	require.Error(t, err)
	assert.False(t, donation.IsClientError(err))
	records, err := mem.QueryDonations(context.Background(), donation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = mem.GetDonation(context.Background(), 1)
	assert.ErrorIs(t, err, donation.ErrDonationNotFound)
}

// =============================================================================
// TRANSITION
// =============================================================================

func TestVerify_FullFlow(t *testing.T) {
	// GIVEN: a pending donation of 1000 by gcash
	lc, st, n := newLifecycle(t)
	ctx := context.Background()
	agg := donation.NewAggregator(st, donation.DefaultThresholds(), time.UTC)
	d := mustSubmit(t, lc, "1000")

	before, err := agg.TotalForDonor(ctx, donorID, donation.StatusVerified, nil)
	require.NoError(t, err)

	// WHEN: a cashier verifies it
	entry, err := lc.Verify(ctx, d.ID, cashierID)
	require.NoError(t, err)

	// THEN: current status is verified and the verified total grew by 1000
	assert.Equal(t, donation.StatusVerified, entry.Status)
	assert.Equal(t, cashierID, entry.ChangedBy)

	status, err := lc.CurrentStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusVerified, status)

	after, err := agg.TotalForDonor(ctx, donorID, donation.StatusVerified, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000", after.Sub(before).String())

	// AND: the donor got exactly one success notification
	sent := n.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, donorID, sent[0].UserID)
	assert.Equal(t, "Donation Verified", sent[0].Title)
	assert.Equal(t, donation.KindSuccess, sent[0].Kind)
	assert.Contains(t, sent[0].Message, "1,000.00")
	assert.Contains(t, sent[0].Message, "REF1")
}

func TestReject_NotificationCarriesReason(t *testing.T) {
	lc, _, n := newLifecycle(t)
	d := mustSubmit(t, lc, "250")

	entry, err := lc.Reject(context.Background(), d.ID, cashierID, "  blurry receipt ")
	require.NoError(t, err)
	assert.Equal(t, "blurry receipt", entry.Notes)

	sent := n.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Donation Rejected", sent[0].Title)
	assert.Equal(t, donation.KindDanger, sent[0].Kind)
	assert.Contains(t, sent[0].Message, "Reason: blurry receipt")
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	lc, st, n := newLifecycle(t)
	ctx := context.Background()
	d := mustSubmit(t, lc, "100")

	_, err := lc.Verify(ctx, d.ID, cashierID)
	require.NoError(t, err)

	_, err = lc.Reject(ctx, d.ID, cashierID, "changed my mind")
	require.ErrorIs(t, err, donation.ErrNotPending)
	assert.True(t, donation.IsConflict(err))

	var npe *donation.NotPendingError
	require.True(t, errors.As(err, &npe))
	assert.Equal(t, donation.StatusVerified, npe.Current)

	_, err = lc.Verify(ctx, d.ID, cashierID)
	require.ErrorIs(t, err, donation.ErrNotPending)

	history, err := st.History(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "refused transitions must not append")
	assert.Len(t, n.Sent(), 1)
}

func TestTransition_HistoryIsAppendOnly(t *testing.T) {
	lc, st, _ := newLifecycle(t)
	ctx := context.Background()
	d := mustSubmit(t, lc, "100")

	first, err := st.History(ctx, d.ID)
	require.NoError(t, err)

	_, err = lc.Reject(ctx, d.ID, cashierID, "wrong amount")
	require.NoError(t, err)

	second, err := st.History(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, second, len(first)+1)
	assert.Equal(t, first[0], second[0], "existing entries are never modified")
	assert.Equal(t, donation.StatusRejected, second[1].Status)
}

func TestTransition_NotFound(t *testing.T) {
	lc, _, n := newLifecycle(t)

	_, err := lc.Verify(context.Background(), 404, cashierID)
	require.ErrorIs(t, err, donation.ErrDonationNotFound)
	assert.True(t, donation.IsNotFound(err))
	assert.Empty(t, n.Sent())
}

func TestTransition_InvalidRequests(t *testing.T) {
	lc, _, _ := newLifecycle(t)
	ctx := context.Background()
	d := mustSubmit(t, lc, "100")

	_, err := lc.Transition(ctx, donation.TransitionRequest{DonationID: d.ID, Status: donation.StatusPending, ActorID: cashierID})
	assert.ErrorIs(t, err, donation.ErrInvalidStatus)

	_, err = lc.Transition(ctx, donation.TransitionRequest{DonationID: d.ID, Status: "refunded", ActorID: cashierID})
	assert.ErrorIs(t, err, donation.ErrInvalidStatus)

	_, err = lc.Transition(ctx, donation.TransitionRequest{DonationID: d.ID, Status: donation.StatusVerified})
	assert.ErrorIs(t, err, donation.ErrMissingActor)

	status, err := lc.CurrentStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusPending, status)
}

func TestTransition_RejectWithoutNotesIsAllowedByCore(t *testing.T) {
	lc, _, _ := newLifecycle(t)
	d := mustSubmit(t, lc, "100")

	_, err := lc.Reject(context.Background(), d.ID, cashierID, "")
	assert.NoError(t, err)

	assert.ErrorIs(t, donation.RequireRejectionNotes(donation.StatusRejected, " "), donation.ErrRejectionNotesRequired)
	assert.NoError(t, donation.RequireRejectionNotes(donation.StatusRejected, "no match"))
	assert.NoError(t, donation.RequireRejectionNotes(donation.StatusVerified, ""))
}

func TestTransition_NotificationFailureDoesNotFail(t *testing.T) {
	// GIVEN: a notifier that always errors
	lc, _, n := newLifecycle(t)
	n.err = errors.New("smtp down")
	d := mustSubmit(t, lc, "100")

	// WHEN: the donation is verified
	_, err := lc.Verify(context.Background(), d.ID, cashierID)

	// THEN: the status change still stands
	require.NoError(t, err)
	status, err := lc.CurrentStatus(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusVerified, status)
	assert.Len(t, n.Sent(), 1, "one attempt, no retry")
}

func TestTransition_ClockGoingBackwards(t *testing.T) {
	lc, _, _ := newLifecycle(t)
	ctx := context.Background()
	d := mustSubmit(t, lc, "100")

	lc.Now = func() time.Time { return t0.Add(-time.Hour) }
	entry, err := lc.Verify(ctx, d.ID, cashierID)
	require.NoError(t, err)
	assert.Equal(t, t0, entry.ChangedAt)

	status, err := lc.CurrentStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusVerified, status)
}

func TestTransition_ConcurrentReviewersExactlyOneWins(t *testing.T) {
	// GIVEN: one pending donation and two cashiers acting at once
	lc, st, n := newLifecycle(t)
	ctx := context.Background()
	d := mustSubmit(t, lc, "500")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, errs[0] = lc.Verify(ctx, d.ID, cashierID)
	}()
	go func() {
		defer wg.Done()
		<-start
		_, errs[1] = lc.Reject(ctx, d.ID, cashierID+1, "duplicate")
	}()
	close(start)
	wg.Wait()

	// THEN: exactly one succeeds; the other sees "not pending"
	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, donation.ErrNotPending):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)

	history, err := st.History(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, n.Sent(), 1)
}

// =============================================================================
// CURRENT STATUS DERIVATION
// =============================================================================

func TestCurrentStatus_LatestWinsAndTiesBreakByID(t *testing.T) {
	entries := []donation.StatusEntry{
		{ID: 3, Status: donation.StatusRejected, ChangedAt: t0.Add(time.Minute)},
		{ID: 1, Status: donation.StatusPending, ChangedAt: t0},
		{ID: 2, Status: donation.StatusVerified, ChangedAt: t0.Add(time.Minute)},
	}

	got, err := donation.CurrentStatus(entries)
	require.NoError(t, err)
	assert.Equal(t, donation.EntryID(3), got.ID)
	assert.Equal(t, donation.StatusRejected, got.Status)

	// Same answer regardless of order.
	reversed := []donation.StatusEntry{entries[2], entries[1], entries[0]}
	got2, err := donation.CurrentStatus(reversed)
	require.NoError(t, err)
	assert.Equal(t, got, got2)

	_, err = donation.CurrentStatus(nil)
	assert.ErrorIs(t, err, donation.ErrNoHistory)
}

func TestGet_ReturnsHistoryOldestFirst(t *testing.T) {
	lc, _, _ := newLifecycle(t)
	ctx := context.Background()
	d := mustSubmit(t, lc, "100")

	lc.Now = func() time.Time { return t0.Add(time.Hour) }
	_, err := lc.Verify(ctx, d.ID, cashierID)
	require.NoError(t, err)

	detail, err := lc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, donation.StatusVerified, detail.Status)
	require.Len(t, detail.History, 2)
	assert.Equal(t, donation.StatusPending, detail.History[0].Status)
	assert.Equal(t, donation.StatusVerified, detail.History[1].Status)
	assert.Equal(t, "100", detail.Amount.String())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1,000.00", donation.FormatAmount(dec("1000")))
	assert.Equal(t, "999.50", donation.FormatAmount(dec("999.5")))
	assert.Equal(t, "1,234,567.89", donation.FormatAmount(dec("1234567.891")))
	assert.Equal(t, "-12,000.00", donation.FormatAmount(dec("-12000")))
}
