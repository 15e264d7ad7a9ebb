/*
aggregate.go - Read-side totals, series and summaries over the ledger

PURPOSE:
  Computes everything reporting and dashboards need from donations and
  their DERIVED current status. Nothing here writes.

WHY DERIVED STATUS?
  A donation verified in March that was pending in February must count
  once, as verified. Every aggregation reads Store.QueryDonations, which
  joins each donation to the latest history entry, and sums in Go with
  decimal arithmetic.

TIER BASIS:
  DonorTier and Standings classify the donor's VERIFIED total for one
  calendar month. Annual and lifetime totals are reported alongside for
  context but never fed to the tier calculator.

SEE ALSO:
  - tier.go: Thresholds.TierFor
  - export/csv.go: Consumes Summary, series and Standings
*/
package donation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Aggregator struct {
	Store      Store
	Thresholds Thresholds
	Location   *time.Location

	// Now defaults to time.Now. Used for "current month/year" defaults.
	Now func() time.Time
}

func NewAggregator(store Store, thresholds Thresholds, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{Store: store, Thresholds: thresholds, Location: loc, Now: time.Now}
}

func (a *Aggregator) loc() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

func (a *Aggregator) now() time.Time {
	if a.Now == nil {
		return time.Now().In(a.loc())
	}
	return a.Now().In(a.loc())
}

// =============================================================================
// DONOR TOTALS
// =============================================================================

// TotalForDonor sums donations of donorID whose current status is status
// (verified when empty). A non-nil year restricts to that calendar year.
func (a *Aggregator) TotalForDonor(ctx context.Context, donorID UserID, status Status, year *int) (decimal.Decimal, error) {
	if status == "" {
		status = StatusVerified
	}
	f := Filter{DonorID: &donorID, Statuses: []Status{status}}
	if year != nil {
		f.Created = YearPeriod(*year, a.loc())
	}
	records, err := a.Store.QueryDonations(ctx, f)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query donations: %w", err)
	}
	return sumRecords(records, status, f.Created), nil
}

// MonthlyTotalForDonor sums verified donations for one calendar month. Zero
// month or year default to the current ones.
func (a *Aggregator) MonthlyTotalForDonor(ctx context.Context, donorID UserID, month time.Month, year int) (decimal.Decimal, error) {
	now := a.now()
	if month == 0 {
		month = now.Month()
	}
	if year == 0 {
		year = now.Year()
	}
	period := MonthPeriod(year, month, a.loc())
	records, err := a.Store.QueryDonations(ctx, Filter{
		DonorID:  &donorID,
		Statuses: []Status{StatusVerified},
		Created:  period,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("query donations: %w", err)
	}
	return sumRecords(records, StatusVerified, period), nil
}

func sumRecords(records []Record, status Status, period Period) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.Status != status || !period.Contains(r.CreatedAt) {
			continue
		}
		total = total.Add(r.Amount)
	}
	return total
}

// =============================================================================
// MONTHLY SERIES
// =============================================================================

// MonthlySeries returns verified totals for January..December of year.
// Months without donations are zero. A nil donorID covers all donors.
func (a *Aggregator) MonthlySeries(ctx context.Context, donorID *UserID, year int) ([12]decimal.Decimal, error) {
	var series [12]decimal.Decimal
	for i := range series {
		series[i] = decimal.Zero
	}

	period := YearPeriod(year, a.loc())
	records, err := a.Store.QueryDonations(ctx, Filter{
		DonorID:  donorID,
		Statuses: []Status{StatusVerified},
		Created:  period,
	})
	if err != nil {
		return series, fmt.Errorf("query donations: %w", err)
	}

	for _, r := range records {
		if r.Status != StatusVerified || !period.Contains(r.CreatedAt) {
			continue
		}
		m := r.CreatedAt.In(a.loc()).Month()
		series[m-1] = series[m-1].Add(r.Amount)
	}
	return series, nil
}

// =============================================================================
// PERIOD SUMMARY
// =============================================================================

type SummaryQuery struct {
	// Status restricts every figure to one current status.
	Status        *Status
	PaymentMethod PaymentMethod
	DonorID       *UserID
	Period        Period
}

type Summary struct {
	Period           Period
	TotalAmount      decimal.Decimal
	TransactionCount int
	ByStatus         map[Status]decimal.Decimal
	CountByStatus    map[Status]int
	ByPaymentMethod  map[PaymentMethod]int
	AmountByMethod   map[PaymentMethod]decimal.Decimal
}

func newSummary(p Period) Summary {
	s := Summary{
		Period:          p,
		TotalAmount:     decimal.Zero,
		ByStatus:        make(map[Status]decimal.Decimal, len(Statuses)),
		CountByStatus:   make(map[Status]int, len(Statuses)),
		ByPaymentMethod: make(map[PaymentMethod]int, len(PaymentMethods)),
		AmountByMethod:  make(map[PaymentMethod]decimal.Decimal, len(PaymentMethods)),
	}
	for _, st := range Statuses {
		s.ByStatus[st] = decimal.Zero
		s.CountByStatus[st] = 0
	}
	for _, m := range PaymentMethods {
		s.ByPaymentMethod[m] = 0
		s.AmountByMethod[m] = decimal.Zero
	}
	return s
}

// SummaryForPeriod scans the matching donations once and accumulates totals
// by status and payment method.
func (a *Aggregator) SummaryForPeriod(ctx context.Context, q SummaryQuery) (Summary, error) {
	if err := q.Period.Validate(); err != nil {
		return Summary{}, err
	}
	f := Filter{DonorID: q.DonorID, PaymentMethod: q.PaymentMethod, Created: q.Period}
	if q.Status != nil {
		f.Statuses = []Status{*q.Status}
	}
	records, err := a.Store.QueryDonations(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("query donations: %w", err)
	}

	s := newSummary(q.Period)
	for _, r := range records {
		if q.Status != nil && r.Status != *q.Status {
			continue
		}
		if !q.Period.Contains(r.CreatedAt) {
			continue
		}
		s.TotalAmount = s.TotalAmount.Add(r.Amount)
		s.TransactionCount++
		s.ByStatus[r.Status] = s.ByStatus[r.Status].Add(r.Amount)
		s.CountByStatus[r.Status]++
		s.ByPaymentMethod[r.PaymentMethod]++
		s.AmountByMethod[r.PaymentMethod] = s.AmountByMethod[r.PaymentMethod].Add(r.Amount)
	}
	return s, nil
}

// =============================================================================
// TIERS
// =============================================================================

type TierStanding struct {
	DonorID       UserID
	Year          int
	Month         time.Month
	MonthlyTotal  decimal.Decimal
	AnnualTotal   decimal.Decimal
	LifetimeTotal decimal.Decimal
	Tier          Tier
	NextTier      Tier
	Shortfall     decimal.Decimal
}

// DonorTier classifies the donor by the verified total of the calendar month
// containing at (now when zero).
func (a *Aggregator) DonorTier(ctx context.Context, donorID UserID, at time.Time) (TierStanding, error) {
	if at.IsZero() {
		at = a.now()
	}
	at = at.In(a.loc())

	records, err := a.Store.QueryDonations(ctx, Filter{
		DonorID:  &donorID,
		Statuses: []Status{StatusVerified},
	})
	if err != nil {
		return TierStanding{}, fmt.Errorf("query donations: %w", err)
	}

	month := MonthPeriod(at.Year(), at.Month(), a.loc())
	year := YearPeriod(at.Year(), a.loc())
	st := TierStanding{
		DonorID:       donorID,
		Year:          at.Year(),
		Month:         at.Month(),
		MonthlyTotal:  decimal.Zero,
		AnnualTotal:   decimal.Zero,
		LifetimeTotal: decimal.Zero,
	}
	for _, r := range records {
		if r.Status != StatusVerified {
			continue
		}
		st.LifetimeTotal = st.LifetimeTotal.Add(r.Amount)
		if year.Contains(r.CreatedAt) {
			st.AnnualTotal = st.AnnualTotal.Add(r.Amount)
		}
		if month.Contains(r.CreatedAt) {
			st.MonthlyTotal = st.MonthlyTotal.Add(r.Amount)
		}
	}
	st.Tier = a.Thresholds.TierFor(st.MonthlyTotal)
	st.NextTier, st.Shortfall = a.Thresholds.NextTier(st.MonthlyTotal)
	return st, nil
}

type Standing struct {
	DonorID       UserID
	MonthlyTotal  decimal.Decimal
	AnnualTotal   decimal.Decimal
	DonationCount int
	Tier          Tier
}

// Standings ranks donors with verified donations in year by their total for
// month, then by annual total.
func (a *Aggregator) Standings(ctx context.Context, year int, month time.Month) ([]Standing, error) {
	if month < time.January || month > time.December {
		return nil, &ValidationError{Field: "month", Err: ErrInvalidPeriod, Value: int(month)}
	}
	yp := YearPeriod(year, a.loc())
	mp := MonthPeriod(year, month, a.loc())

	records, err := a.Store.QueryDonations(ctx, Filter{
		Statuses: []Status{StatusVerified},
		Created:  yp,
	})
	if err != nil {
		return nil, fmt.Errorf("query donations: %w", err)
	}

	byDonor := make(map[UserID]*Standing)
	for _, r := range records {
		if r.Status != StatusVerified || !yp.Contains(r.CreatedAt) {
			continue
		}
		s, ok := byDonor[r.DonorID]
		if !ok {
			s = &Standing{DonorID: r.DonorID, MonthlyTotal: decimal.Zero, AnnualTotal: decimal.Zero}
			byDonor[r.DonorID] = s
		}
		s.AnnualTotal = s.AnnualTotal.Add(r.Amount)
		s.DonationCount++
		if mp.Contains(r.CreatedAt) {
			s.MonthlyTotal = s.MonthlyTotal.Add(r.Amount)
		}
	}

	out := make([]Standing, 0, len(byDonor))
	for _, s := range byDonor {
		s.Tier = a.Thresholds.TierFor(s.MonthlyTotal)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].MonthlyTotal.Cmp(out[j].MonthlyTotal); c != 0 {
			return c > 0
		}
		if c := out[i].AnnualTotal.Cmp(out[j].AnnualTotal); c != 0 {
			return c > 0
		}
		return out[i].DonorID < out[j].DonorID
	})
	return out, nil
}
