/*
main.go - Application entry point

PURPOSE:
  donationd runs the donation ledger HTTP API and its maintenance commands.
  Handles configuration, logging and signal-driven shutdown for all of them.

COMMANDS:
  serve       Run the HTTP API (and the pending-review reminder)
  migrate     Apply pending schema migrations
  report      Export summary, series or standings as CSV to stdout
  seed        Load a demo scenario into an empty ledger
  version     Print the build version

CONFIGURATION:
  config.yaml in ., ./config or /etc/donation-ledger (or --config),
  overridden by DONATION_* environment variables, e.g.
  DONATION_DATABASE_PATH=/var/lib/donations.db

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the command context is cancelled:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the reminder and close the database

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/donation-ledger/config"
	"github.com/warp/donation-ledger/logger"
	"github.com/warp/donation-ledger/store/sqlite"

	_ "time/tzdata"
)

var (
	cfgFile string
	version = "dev"

	v      = viper.New()
	cfg    *config.Config
	appLog = zap.NewNop()

	rootCmd = &cobra.Command{
		Use:   "donationd",
		Short: "Donation ledger service",
		Long: `donationd records donations with proof of payment, lets cashiers verify
or reject them, and reports verified totals and donor tiers.`,
		PersistentPreRunE:  initConfig,
		PersistentPostRunE: syncLogger,
		SilenceUsage:       true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "./data/donations.db", "SQLite database path")

	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLog.Info("received interrupt signal, shutting down")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	l, err := logger.New(cfg.Logger())
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	appLog = l
	if used := v.ConfigFileUsed(); used != "" {
		appLog.Debug("config loaded", zap.String("file", used))
	}
	return nil
}

func syncLogger(_ *cobra.Command, _ []string) error {
	_ = appLog.Sync()
	return nil
}

// openStore connects to the configured database. With auto_migrate off it
// refuses to return a store whose schema is behind.
func openStore(ctx context.Context, migrate bool) (*sqlite.Store, error) {
	path := cfg.Database.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	st, err := sqlite.Open(path, appLog)
	if err != nil {
		return nil, err
	}
	if migrate {
		err = st.Migrate(ctx)
	} else {
		err = st.CheckSchema(ctx)
	}
	if err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "donationd", version)
		},
	}
}
