// Package export renders aggregation results as CSV. It consumes only the
// outputs of donation.Aggregator and never queries the ledger itself.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/donation-ledger/donation"
)

// Names resolves donor display names. A nil map or missing entry leaves
// the name column empty.
type Names map[donation.UserID]string

// WriteSummary writes one row per status and per payment method, then a
// total row.
func WriteSummary(w io.Writer, s donation.Summary) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"period", s.Period.String()},
		{},
		{"section", "key", "count", "amount"},
	}
	for _, st := range donation.Statuses {
		rows = append(rows, []string{"status", string(st), strconv.Itoa(s.CountByStatus[st]), money(s.ByStatus[st])})
	}
	for _, m := range donation.PaymentMethods {
		rows = append(rows, []string{"payment_method", string(m), strconv.Itoa(s.ByPaymentMethod[m]), money(s.AmountByMethod[m])})
	}
	rows = append(rows, []string{"total", "", strconv.Itoa(s.TransactionCount), money(s.TotalAmount)})
	return writeAll(cw, rows)
}

// WriteSeries writes twelve month rows for year.
func WriteSeries(w io.Writer, year int, series [12]decimal.Decimal) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"year", "month", "verified_total"}}
	total := decimal.Zero
	for i, v := range series {
		rows = append(rows, []string{strconv.Itoa(year), time.Month(i + 1).String(), money(v)})
		total = total.Add(v)
	}
	rows = append(rows, []string{strconv.Itoa(year), "Total", money(total)})
	return writeAll(cw, rows)
}

// WriteStandings writes ranked donors with their tier.
func WriteStandings(w io.Writer, year int, month time.Month, standings []donation.Standing, names Names) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"rank", "donor_id", "name", "year", "month", "monthly_total", "annual_total", "donations", "tier"}}
	for i, s := range standings {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(int64(s.DonorID), 10),
			names[s.DonorID],
			strconv.Itoa(year),
			month.String(),
			money(s.MonthlyTotal),
			money(s.AnnualTotal),
			strconv.Itoa(s.DonationCount),
			s.Tier.String(),
		})
	}
	return writeAll(cw, rows)
}

func writeAll(cw *csv.Writer, rows [][]string) error {
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }
