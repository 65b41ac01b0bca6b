package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/courier/job"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var transactionID string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the jobs of a transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, closeStore, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			jobs, err := eng.Jobs(cmd.Context(), transactionID)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
			return nil
		},
	}
	cmd.Flags().StringVar(&transactionID, "transaction-id", "", "Transaction id")
	_ = cmd.MarkFlagRequired("transaction-id")
	return cmd
}

func renderJobs(jobs []*job.Job) string {
	headers := []string{"Subscriber", "Step", "Type", "Status", "Available", "Completed", "Error"}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.SubscriberID,
			strconv.Itoa(j.StepIndex),
			string(j.Type),
			string(j.Status),
			formatTime(j.AvailableAt),
			formatTime(j.CompletedAt),
			j.LastError,
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignRight})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
