// Package cmd defines and implements the CLI commands for the catalog crawler.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/server"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgFile string) (*server.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a storefront catalog and republishes it downstream.",
		Long: `catalog-crawler collects product listings from storefront collection
pages, enriches each listing with its detail page, keeps the result in a
time-bounded cache and can export or upload the catalog to another service.`,
		SilenceUsage: true,

		// Builds the application once config is known and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, err := resolveApp(cmd.Context()); err == nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newUploadCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*server.App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("command context is nil")
	}
	appInstance, ok := ctx.Value(appKey).(*server.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
