package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"BTCIngest/internal/app"
	"BTCIngest/internal/config"
	"BTCIngest/internal/logging"
)

type rootOptions struct {
	configPath string
	dataDir    string
	workers    int
	pooled     bool
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "btcingest",
		Short: "Load daily BTC/USD minute candles into Postgres",
		Long: `
Loads every btcusd-YYYY-MM-DD.csv file from the data directory that has not been
ingested yet, then keeps watching the directory for new files until interrupted.
`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c, opts, func(ctx context.Context, a *app.Application) error {
				return a.Run(ctx)
			})
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding the daily CSV files")
	flags.IntVar(&opts.workers, "workers", 0, "number of concurrent file workers in pooled mode")
	flags.BoolVar(&opts.pooled, "pooled", false, "process files on a worker pool")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newScanCommand(opts), newLedgerCommand(opts))
	return root
}

func newScanCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Ingest the current backlog once and exit",
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c, opts, func(ctx context.Context, a *app.Application) error {
				return a.RunOnce(ctx)
			})
		},
	}
}

func newLedgerCommand(opts *rootOptions) *cobra.Command {
	ledger := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or modify the processed-files ledger",
	}
	ledger.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget every processed file so the next run reloads them",
		RunE: func(c *cobra.Command, args []string) error {
			cfg := opts.apply(c, config.Load(opts.configPath))
			logger := logging.New(cfg.Logging.EffectiveLevel())
			if err := app.ResetLedger(c.Context(), cfg, logger); err != nil {
				logger.Error("ledger reset failed", slog.Any("error", err))
				return err
			}
			return nil
		},
	})
	return ledger
}

func withApp(c *cobra.Command, opts *rootOptions, fn func(context.Context, *app.Application) error) error {
	ctx := c.Context()
	cfg := opts.apply(c, config.Load(opts.configPath))
	logger := logging.New(cfg.Logging.EffectiveLevel())

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Debug("close application", "error", err)
		}
	}()

	if err := fn(ctx, application); err != nil {
		logger.Error("application stopped", slog.Any("error", err))
		return err
	}
	return nil
}

// apply overlays explicitly set flags on top of file and environment settings.
func (o *rootOptions) apply(c *cobra.Command, cfg config.Config) config.Config {
	flags := c.Flags()
	if flags.Changed("data-dir") {
		cfg.Ingest.DataDirectory = o.dataDir
	}
	if flags.Changed("workers") {
		cfg.Concurrency.Workers = o.workers
	}
	if flags.Changed("pooled") {
		pooled := o.pooled
		cfg.Concurrency.Enabled = &pooled
	}
	if flags.Changed("debug") {
		cfg.Logging.Debug = o.debug
	}
	return cfg
}
