package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/courier"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/internal/logging"
	"github.com/xraph/courier/provider"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/step"
)

// commandContext carries the state shared by subcommands.
type commandContext struct {
	configPath string
	cfg        *courier.FileConfig
	logger     *slog.Logger
}

func (c *commandContext) ensureConfig() (courier.FileConfig, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := courier.LoadConfig(c.configPath)
	if err != nil {
		return cfg, err
	}
	logger, err := logging.FromSection(cfg.Log, os.Stderr)
	if err != nil {
		return cfg, err
	}
	c.cfg = &cfg
	c.logger = logger
	return cfg, nil
}

// openEngine opens the configured store, migrates it and builds an engine
// delivering every channel through the log provider. The returned func
// closes the store.
func (c *commandContext) openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	s, closeStore, err := openStore(ctx, cfg.Store, c.logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := closeStore(); err != nil {
			c.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
	if err := s.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}

	opts := []engine.Option{
		engine.WithConfig(cfg.EngineConfig()),
		engine.WithLogger(c.logger),
		engine.WithQueueConfig(queue.FromSections(cfg.Channels)...),
	}
	logProvider := provider.NewLog(c.logger)
	for _, t := range step.Types {
		if t.IsChannel() {
			opts = append(opts, engine.WithProvider(t, logProvider))
		}
	}
	eng, err := engine.New(s, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return eng, closeFn, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "courier",
		Short:         "Notification workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newTriggerCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	return rootCmd
}
