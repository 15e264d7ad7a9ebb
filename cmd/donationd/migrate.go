package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/donation-ledger/store/sqlite"
)

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var (
				st  *sqlite.Store
				err error
			)
			if status {
				st, err = sqlite.Open(cfg.Database.Path, appLog)
			} else {
				st, err = openStore(ctx, true)
			}
			if err != nil {
				return err
			}
			defer st.Close()

			current, err := st.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (expected %d)\n", current, sqlite.ExpectedSchemaVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print the schema version without migrating")
	return cmd
}
