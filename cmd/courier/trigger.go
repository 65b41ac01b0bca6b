package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/courier/step"
	"github.com/xraph/courier/trigger"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var (
		templatePath  string
		to            []string
		payload       string
		transactionID string
		environmentID string
		overrides     []string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Compile a template for subscribers and schedule it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tpl, err := step.LoadTemplate(templatePath)
			if err != nil {
				return err
			}
			trg := trigger.Trigger{
				TransactionID: transactionID,
				TemplateID:    tpl.ID,
				EnvironmentID: environmentID,
				To:            to,
			}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &trg.Payload); err != nil {
					return fmt.Errorf("parse --payload: %w", err)
				}
			}
			if trg.Overrides, err = parseOverrides(overrides); err != nil {
				return err
			}

			eng, closeStore, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := eng.Trigger(cmd.Context(), tpl, trg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d jobs\n", res.TransactionID, res.JobCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&templatePath, "template", "t", "", "Template file (TOML)")
	cmd.Flags().StringSliceVar(&to, "to", nil, "Subscriber ids, comma separated")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON object passed to templates")
	cmd.Flags().StringVar(&transactionID, "transaction-id", "", "Transaction id (generated when empty)")
	cmd.Flags().StringVar(&environmentID, "environment-id", "", "Environment id (defaults to the configured one)")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "Deferred step override as type=duration, e.g. delay=3s")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// parseOverrides turns "delay=90s" style flags into trigger overrides. The
// duration is expressed in the largest unit that divides it exactly.
func parseOverrides(values []string) (map[step.Type]trigger.Override, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[step.Type]trigger.Override, len(values))
	for _, v := range values {
		name, dur, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("override %q: want type=duration", v)
		}
		typ := step.Type(strings.TrimSpace(name))
		if !typ.IsDeferred() {
			return nil, fmt.Errorf("override %q: %s is not a delay or digest step", v, typ)
		}
		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", v, err)
		}
		if d < 0 || d%time.Second != 0 {
			return nil, fmt.Errorf("override %q: duration must be a non-negative number of seconds", v)
		}
		out[typ] = toOverride(d)
	}
	return out, nil
}

func toOverride(d time.Duration) trigger.Override {
	switch {
	case d == 0:
		return trigger.Override{Amount: 0, Unit: step.Seconds}
	case d%time.Hour == 0:
		return trigger.Override{Amount: int(d / time.Hour), Unit: step.Hours}
	case d%time.Minute == 0:
		return trigger.Override{Amount: int(d / time.Minute), Unit: step.Minutes}
	default:
		return trigger.Override{Amount: int(d / time.Second), Unit: step.Seconds}
	}
}
