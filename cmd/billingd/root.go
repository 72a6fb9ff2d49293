package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/motorlot/pkg/config"
	"github.com/dmitrymomot/motorlot/pkg/logger"
	"github.com/dmitrymomot/motorlot/pkg/requestid"
	"github.com/dmitrymomot/motorlot/svc/billing"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "billingd",
		Short:         "Subscription lifecycle and usage billing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if len(envFiles) == 0 {
				return nil
			}
			return config.LoadEnv(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newPackagesCmd(),
		newInventoryCmd(),
	)
	return root
}

// loadConfig reads billing.Config and builds the process logger from it.
func loadConfig() (billing.Config, *slog.Logger, error) {
	var cfg billing.Config
	if err := config.Load(&cfg); err != nil {
		return cfg, nil, err
	}
	log := logger.New(
		logger.WithEnvironment(cfg.AppEnv, cfg.AppName),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)
	return cfg, log, nil
}

// withApp connects the engine, runs fn and closes the connections.
func withApp(ctx context.Context, fn func(ctx context.Context, app *billing.App, log *slog.Logger) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := billing.Connect(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			log.ErrorContext(ctx, "shutdown", logger.Error(err))
		}
	}()
	return fn(ctx, app, log)
}
