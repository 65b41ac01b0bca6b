package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Release due jobs and execute the ready queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !once {
				return errors.New("run requires --once; use serve for a long-running process")
			}
			eng, closeStore, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			released, executed, err := eng.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d, executed %d\n", released, executed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single release and drain pass")
	return cmd
}
