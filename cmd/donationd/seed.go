package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/notify"
	"github.com/warp/donation-ledger/scenario"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [scenario]",
		Short: "Load a demo scenario into an empty ledger",
		Long: `Load a demo scenario into an empty ledger. Without an argument the
available scenarios are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for _, s := range scenario.List() {
					fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Description)
				}
				return tw.Flush()
			}

			st, err := openStore(cmd.Context(), cfg.Database.AutoMigrate)
			if err != nil {
				return err
			}
			defer st.Close()

			lc := donation.NewLifecycle(st, notify.NewInApp(st), appLog.Named("seed"))
			lc.Users = st

			res, err := scenario.Load(cmd.Context(), args[0], lc, st, time.Now())
			if err != nil {
				return err
			}
			appLog.Info("scenario loaded",
				zap.String("scenario", res.Scenario),
				zap.Int("users", len(res.Users)),
				zap.Int("donations", res.Donations))

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tROLE\tNAME\tEMAIL")
			for _, u := range res.Users {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Role, u.Name, u.Email)
			}
			return tw.Flush()
		},
	}
}
