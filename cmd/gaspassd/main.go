package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaspass/gaspass/adapter/api"
	"github.com/gaspass/gaspass/internal/app"
	"github.com/gaspass/gaspass/internal/shared/infrastructure/database"
	"github.com/gaspass/gaspass/pkg/config"
	"github.com/gaspass/gaspass/pkg/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gaspassd",
		Short: "Gas sponsorship node",
		Long: "gaspassd runs a gas sponsorship node: it tracks subscription balances,\n" +
			"pre-authorizes and settles sponsored operations, and reconciles usage\n" +
			"from other chains back to the subscription's home chain.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background workers",
		RunE:  runServe,
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conn, err := database.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.Migrate(cmd.Context())
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	logCfg.Level = observability.LogLevel(cfg.LogLevel)
	logCfg.ChainID = cfg.ChainID
	logger := observability.NewLogger(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		return err
	}
	defer container.Close()

	if err := container.Start(ctx); err != nil {
		logger.Error("failed to start background components", "error", err)
		return err
	}

	server := api.NewServer(api.ServerConfig{
		Addr:         cfg.APIAddr,
		ReadTimeout:  cfg.APIReadTimeout,
		WriteTimeout: cfg.APIWriteTimeout,
		IdleTimeout:  60 * time.Second,
	},
		api.NewSubscriptionHandler(container.Ledger, logger),
		api.NewSponsorshipHandler(container.Authorizer, logger),
		logger,
	)
	server.SetHealth(container.Health)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("gaspassd started", "chain_id", cfg.ChainID, "addr", cfg.APIAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("API server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", "error", err)
	}

	return nil
}
