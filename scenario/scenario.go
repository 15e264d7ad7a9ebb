/*
scenario.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate an empty ledger with realistic
	data for demos and manual testing. Every donation goes through
	donation.Lifecycle, so history rows and notifications are exactly what
	production would write.

AVAILABLE SCENARIOS:

	tier-ladder:   One donor per tier band for the current month
	review-queue:  A backlog of pending donations, some past the reminder age
	mixed-month:   100 verified, 50 pending, 200 verified, 75 rejected

HOW SCENARIOS WORK:
 1. Refuse to run unless the ledger has no donations
 2. Create staff and donor accounts
 3. Submit donations at back-dated times
 4. Verify or reject some of them as the cashier

USAGE VIA CLI:

	donationd seed tier-ladder

NOTE:

	The ledger is append-only and cannot be reset, so scenarios only load
	into a fresh database.

SEE ALSO:
  - cmd/donationd/main.go: seed command
  - donation/lifecycle.go: Submit and Transition
*/
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/donation-ledger/donation"
)

var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrLedgerNotEmpty  = errors.New("ledger already contains donations")
)

// Scenario is a named demo data set.
type Scenario struct {
	ID          string
	Name        string
	Description string
	load        func(ctx context.Context, b *builder) error
}

// Result reports what a load created.
type Result struct {
	Scenario  string
	Users     []donation.User
	Donations int
}

var scenarios = []Scenario{
	{
		ID:          "tier-ladder",
		Name:        "Tier Ladder",
		Description: "Five donors, one in each tier band for the current month",
		load:        loadTierLadder,
	},
	{
		ID:          "review-queue",
		Name:        "Review Queue",
		Description: "Pending donations waiting for a cashier, two of them past three days",
		load:        loadReviewQueue,
	},
	{
		ID:          "mixed-month",
		Name:        "Mixed Month",
		Description: "One donor with verified, pending and rejected donations in the current month",
		load:        loadMixedMonth,
	},
}

// List returns the available scenarios sorted by ID.
func List() []Scenario {
	out := append([]Scenario(nil), scenarios...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load runs scenario id at time now. lc must share its store with users.
// lc itself is not modified.
func Load(ctx context.Context, id string, lc *donation.Lifecycle, users donation.UserStore, now time.Time) (Result, error) {
	var sc *Scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			sc = &scenarios[i]
			break
		}
	}
	if sc == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	existing, err := lc.Store.QueryDonations(ctx, donation.Filter{Limit: 1})
	if err != nil {
		return Result{}, fmt.Errorf("check ledger: %w", err)
	}
	if len(existing) > 0 {
		return Result{}, ErrLedgerNotEmpty
	}

	b := &builder{users: users, now: now, result: Result{Scenario: sc.ID}}
	seeded := *lc
	seeded.Now = func() time.Time { return b.at }
	b.lc = &seeded

	if err := sc.load(ctx, b); err != nil {
		return b.result, fmt.Errorf("load %s: %w", sc.ID, err)
	}
	return b.result, nil
}

// =============================================================================
// BUILDER
// =============================================================================

type builder struct {
	lc     *donation.Lifecycle
	users  donation.UserStore
	now    time.Time
	at     time.Time
	result Result
}

func (b *builder) user(ctx context.Context, name, email string, role donation.Role) (donation.UserID, error) {
	u := donation.User{Name: name, Email: email, Role: role, AccountStatus: donation.AccountActive}
	id, err := b.users.CreateUser(ctx, u)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", email, err)
	}
	u.ID = id
	b.result.Users = append(b.result.Users, u)
	return id, nil
}

// donate submits at b.now-ago and, unless final is pending, reviews it
// ago/2 later as reviewer.
func (b *builder) donate(ctx context.Context, donor, reviewer donation.UserID, amount int64, method donation.PaymentMethod, ago time.Duration, final donation.Status, notes string) error {
	b.at = b.now.Add(-ago)
	d, err := b.lc.Submit(ctx, donation.SubmitRequest{
		DonorID:         donor,
		Amount:          decimal.NewFromInt(amount),
		PaymentMethod:   method,
		ReferenceNumber: fmt.Sprintf("DEMO-%04d", b.result.Donations+1),
		ProofRef:        fmt.Sprintf("demo/receipt-%04d.png", b.result.Donations+1),
	})
	if err != nil {
		return err
	}
	b.result.Donations++

	if final == donation.StatusPending {
		return nil
	}
	b.at = b.now.Add(-ago / 2)
	_, err = b.lc.Transition(ctx, donation.TransitionRequest{
		DonationID: d.ID,
		Status:     final,
		ActorID:    reviewer,
		Notes:      notes,
	})
	return err
}

func (b *builder) staff(ctx context.Context) (admin, cashier donation.UserID, err error) {
	if admin, err = b.user(ctx, "Demo Admin", "admin@demo.local", donation.RoleAdmin); err != nil {
		return 0, 0, err
	}
	if cashier, err = b.user(ctx, "Demo Cashier", "cashier@demo.local", donation.RoleCashier); err != nil {
		return 0, 0, err
	}
	return admin, cashier, nil
}

// sinceMonthStart keeps back-dated donations inside the current month.
func (b *builder) sinceMonthStart(frac float64) time.Duration {
	start := time.Date(b.now.Year(), b.now.Month(), 1, 0, 0, 0, 0, b.now.Location())
	return time.Duration(float64(b.now.Sub(start)) * frac)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadTierLadder(ctx context.Context, b *builder) error {
	_, cashier, err := b.staff(ctx)
	if err != nil {
		return err
	}

	ladder := []struct {
		name   string
		email  string
		amount int64
	}{
		{"Nina New", "nina@demo.local", 500},
		{"Ben Blue", "ben@demo.local", 1000},
		{"Bea Bronze", "bea@demo.local", 5000},
		{"Sam Silver", "sam@demo.local", 12000},
		{"Gil Gold", "gil@demo.local", 25000},
	}
	for _, l := range ladder {
		donor, err := b.user(ctx, l.name, l.email, donation.RoleDonor)
		if err != nil {
			return err
		}
		if err := b.donate(ctx, donor, cashier, l.amount, donation.PaymentBankTransfer, b.sinceMonthStart(0.5), donation.StatusVerified, ""); err != nil {
			return err
		}
	}
	return nil
}

func loadReviewQueue(ctx context.Context, b *builder) error {
	if _, _, err := b.staff(ctx); err != nil {
		return err
	}
	donor, err := b.user(ctx, "Quinn Queue", "quinn@demo.local", donation.RoleDonor)
	if err != nil {
		return err
	}

	waits := []time.Duration{5 * 24 * time.Hour, 4 * 24 * time.Hour, 6 * time.Hour, time.Hour}
	for i, ago := range waits {
		method := donation.PaymentMethods[i%len(donation.PaymentMethods)]
		if err := b.donate(ctx, donor, 0, int64(250*(i+1)), method, ago, donation.StatusPending, ""); err != nil {
			return err
		}
	}
	return nil
}

func loadMixedMonth(ctx context.Context, b *builder) error {
	_, cashier, err := b.staff(ctx)
	if err != nil {
		return err
	}
	donor, err := b.user(ctx, "Mia Mixed", "mia@demo.local", donation.RoleDonor)
	if err != nil {
		return err
	}

	steps := []struct {
		amount int64
		final  donation.Status
		notes  string
	}{
		{100, donation.StatusVerified, ""},
		{50, donation.StatusPending, ""},
		{200, donation.StatusVerified, ""},
		{75, donation.StatusRejected, "Reference number does not match the bank statement"},
	}
	for i, s := range steps {
		ago := b.sinceMonthStart(float64(len(steps)-i) / float64(len(steps)+1))
		if err := b.donate(ctx, donor, cashier, s.amount, donation.PaymentGCash, ago, s.final, s.notes); err != nil {
			return err
		}
	}
	return nil
}
