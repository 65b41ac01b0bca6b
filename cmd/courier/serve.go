package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and worker pool until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, closeStore, err := ctx.openEngine(sigCtx)
			if err != nil {
				return err
			}
			defer closeStore()

			g, gctx := errgroup.WithContext(sigCtx)
			g.Go(func() error {
				return eng.Start(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), eng.Config().ShutdownTimeout)
				defer cancel()
				ctx.logger.Info("shutting down")
				return eng.Stop(shutdownCtx)
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				ctx.logger.Error("serve exited", slog.String("error", err.Error()))
			}
			return err
		},
	}
}
