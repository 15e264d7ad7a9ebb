package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/donation-ledger/api"
	"github.com/warp/donation-ledger/donation"
	"github.com/warp/donation-ledger/notify"
	"github.com/warp/donation-ledger/proof"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg.Database.AutoMigrate)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
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
	proofs, err := newProofStore(ctx)
	if err != nil {
		return err
	}

	notifier := notify.Multi{notify.NewInApp(st), notify.NewLog(appLog)}

	lc := donation.NewLifecycle(st, notifier, appLog.Named("lifecycle"))
	lc.Users = st
	agg := donation.NewAggregator(st, thresholds, loc)

	handler := api.NewHandler(lc, agg, st, st, proofs, appLog.Named("api"))
	handler.MaxUploadBytes = cfg.Server.MaxUploadMB << 20

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Reminder.Enabled {
		reminder := api.NewPendingReminder(st, st, notifier, appLog)
		reminder.Interval = cfg.Reminder.Interval
		reminder.PendingAge = cfg.Reminder.PendingAge
		if err := reminder.Start(); err != nil {
			return err
		}
		defer reminder.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("proof_backend", cfg.Proof.Backend),
			zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	appLog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	appLog.Info("server stopped")
	return nil
}

func newProofStore(ctx context.Context) (proof.Store, error) {
	switch cfg.Proof.Backend {
	case "s3":
		s, err := proof.NewS3(ctx, cfg.Proof.S3Bucket, cfg.Proof.S3Region, cfg.Proof.S3Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		l, err := proof.NewLocal(cfg.Proof.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
