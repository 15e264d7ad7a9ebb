package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/donation/store"
)

var now = time.Date(2025, time.March, 20, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*donation.Lifecycle, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	lc := donation.NewLifecycle(mem, nil, zaptest.NewLogger(t))
	lc.Users = mem
	lc.Now = func() time.Time { return now.Add(time.Hour) }
	return lc, mem
}

func TestLoad_TierLadder(t *testing.T) {
	ctx := context.Background()
	lc, mem := setup(t)

	res, err := Load(ctx, "tier-ladder", lc, mem, now)
	require.NoError(t, err)
	assert.Len(t, res.Users, 7)
	assert.Equal(t, 5, res.Donations)

	agg := donation.NewAggregator(mem, donation.DefaultThresholds(), time.UTC)
	standings, err := agg.Standings(ctx, 2025, time.March)
	require.NoError(t, err)

	var tiers []donation.Tier
	for _, s := range standings {
		tiers = append(tiers, s.Tier)
	}
	assert.Equal(t, []donation.Tier{donation.TierGold, donation.TierSilver, donation.TierBronze, donation.TierBlue, donation.TierNewDonor}, tiers)

	assert.Equal(t, now.Add(time.Hour), lc.Now(), "caller's lifecycle clock is untouched")
}

func TestLoad_MixedMonth(t *testing.T) {
	ctx := context.Background()
	lc, mem := setup(t)

	_, err := Load(ctx, "mixed-month", lc, mem, now)
	require.NoError(t, err)

	agg := donation.NewAggregator(mem, donation.DefaultThresholds(), time.UTC)
	s, err := agg.SummaryForPeriod(ctx, donation.SummaryQuery{Period: donation.MonthPeriod(2025, time.March, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "300", s.ByStatus[donation.StatusVerified].String())
	assert.Equal(t, "50", s.ByStatus[donation.StatusPending].String())
	assert.Equal(t, "75", s.ByStatus[donation.StatusRejected].String())
	assert.Equal(t, 4, s.TransactionCount)
}

func TestLoad_ReviewQueue(t *testing.T) {
	ctx := context.Background()
	lc, mem := setup(t)

	_, err := Load(ctx, "review-queue", lc, mem, now)
	require.NoError(t, err)

	overdue, err := mem.QueryDonations(ctx, donation.Filter{
		Statuses: []donation.Status{donation.StatusPending},
		Created:  donation.Period{End: now.Add(-48 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Len(t, overdue, 2)
}

func TestLoad_Refusals(t *testing.T) {
	ctx := context.Background()
	lc, mem := setup(t)

	_, err := Load(ctx, "nope", lc, mem, now)
	assert.ErrorIs(t, err, ErrUnknownScenario)

	_, err = Load(ctx, "review-queue", lc, mem, now)
	require.NoError(t, err)
	_, err = Load(ctx, "mixed-month", lc, mem, now)
	assert.ErrorIs(t, err, ErrLedgerNotEmpty)
}

func TestList_SortedAndComplete(t *testing.T) {
	list := List()
	require.Len(t, list, 3)
	assert.Equal(t, "mixed-month", list[0].ID)
	for _, s := range list {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Description)
	}
}
