package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/export"
	"github.com/warp/donation-ledger/store/sqlite"
)

type reportFlags struct {
	year    int
	month   int
	from    string
	to      string
	status  string
	method  string
	donorID int64
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export reports as CSV to stdout",
	}
	cmd.AddCommand(reportSummaryCmd())
	cmd.AddCommand(reportSeriesCmd())
	cmd.AddCommand(reportStandingsCmd())
	return cmd
}

func reportSummaryCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Totals by status and payment method for a period",
		Example: `  donationd report summary --year 2025 --month 3
  donationd report summary --from 2025-01-01 --to 2025-06-30 --status verified`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAggregator(cmd, func(agg *donation.Aggregator, _ *sqlite.Store) error {
				q, err := f.summaryQuery(agg.Location)
				if err != nil {
					return err
				}
				s, err := agg.SummaryForPeriod(cmd.Context(), q)
				if err != nil {
					return err
				}
				return export.WriteSummary(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().IntVar(&f.year, "year", 0, "calendar year")
	cmd.Flags().IntVar(&f.month, "month", 0, "calendar month 1-12 (requires --year)")
	cmd.Flags().StringVar(&f.from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.status, "status", "", "only this status (pending, verified, rejected)")
	cmd.Flags().StringVar(&f.method, "payment-method", "", "only this payment method")
	cmd.Flags().Int64Var(&f.donorID, "donor", 0, "only this donor ID")
	return cmd
}

func reportSeriesCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Verified totals for each month of a year",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAggregator(cmd, func(agg *donation.Aggregator, _ *sqlite.Store) error {
				year := f.year
				if year == 0 {
					year = time.Now().In(agg.Location).Year()
				}
				var donor *donation.UserID
				if f.donorID > 0 {
					id := donation.UserID(f.donorID)
					donor = &id
				}
				series, err := agg.MonthlySeries(cmd.Context(), donor, year)
				if err != nil {
					return err
				}
				return export.WriteSeries(cmd.OutOrStdout(), year, series)
			})
		},
	}
	cmd.Flags().IntVar(&f.year, "year", 0, "calendar year (default: current)")
	cmd.Flags().Int64Var(&f.donorID, "donor", 0, "only this donor ID")
	return cmd
}

func reportStandingsCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "standings",
		Short: "Donors ranked by monthly verified total, with tiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAggregator(cmd, func(agg *donation.Aggregator, st *sqlite.Store) error {
				now := time.Now().In(agg.Location)
				year, month := f.year, time.Month(f.month)
				if year == 0 {
					year = now.Year()
				}
				if month == 0 {
					month = now.Month()
				}

				standings, err := agg.Standings(cmd.Context(), year, month)
				if err != nil {
					return err
				}
				donors, err := st.ListUsers(cmd.Context(), donation.UserFilter{Role: donation.RoleDonor})
				if err != nil {
					return err
				}
				names := make(export.Names, len(donors))
				for _, u := range donors {
					names[u.ID] = u.Name
				}
				return export.WriteStandings(cmd.OutOrStdout(), year, month, standings, names)
			})
		},
	}
	cmd.Flags().IntVar(&f.year, "year", 0, "calendar year (default: current)")
	cmd.Flags().IntVar(&f.month, "month", 0, "calendar month 1-12 (default: current)")
	return cmd
}

// withAggregator opens the store read-side and builds an Aggregator from
// the configured tiers and timezone.
func withAggregator(cmd *cobra.Command, fn func(*donation.Aggregator, *sqlite.Store) error) error {
	st, err := openStore(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer st.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	thresholds, err := cfg.Thresholds()
	if err != nil {
		return err
	}
	return fn(donation.NewAggregator(st, thresholds, loc), st)
}

func (f reportFlags) summaryQuery(loc *time.Location) (donation.SummaryQuery, error) {
	var q donation.SummaryQuery
	switch {
	case f.year != 0 && f.month != 0:
		if f.month < 1 || f.month > 12 {
			return q, fmt.Errorf("--month must be 1-12")
		}
		q.Period = donation.MonthPeriod(f.year, time.Month(f.month), loc)
	case f.year != 0:
		q.Period = donation.YearPeriod(f.year, loc)
	case f.month != 0:
		return q, fmt.Errorf("--month requires --year")
	default:
		from, err := parseDay(f.from, loc)
		if err != nil {
			return q, fmt.Errorf("--from: %w", err)
		}
		to, err := parseDay(f.to, loc)
		if err != nil {
			return q, fmt.Errorf("--to: %w", err)
		}
		q.Period = donation.DayRange(from, to, loc)
	}

	if f.status != "" {
		st, err := donation.ParseStatus(f.status)
		if err != nil {
			return q, err
		}
		q.Status = &st
	}
	if f.method != "" {
		m, err := donation.ParsePaymentMethod(f.method)
		if err != nil {
			return q, err
		}
		q.PaymentMethod = m
	}
	if f.donorID > 0 {
		id := donation.UserID(f.donorID)
		q.DonorID = &id
	}
	return q, nil
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}
