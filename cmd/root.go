// Package cmd defines the CLI commands for the pricewatch executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/app"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/logging"
)

type options struct {
	configPath string
}

// buildApp loads configuration and assembles the application. It is a
// variable so tests can substitute a prepared config.
var buildApp = func(ctx context.Context, opts *options) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "Track product prices and alert when they drop.",
		Long: `pricewatch polls tracked product pages once an hour, spreading the
work over 60 per-minute shards. It records price changes, backs off from
anti-bot challenges and sends an alert when a price reaches its alarm.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newTickCmd(opts),
		newShardsCmd(opts),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the app, runs fn and closes the app afterwards.
func withApp(cmd *cobra.Command, opts *options, fn func(*app.App) error) error {
	a, err := buildApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			a.Logger().Warn("close failed", zap.Error(cerr))
		}
	}()
	return fn(a)
}
