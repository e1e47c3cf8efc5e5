package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/riskeye/internal/api/client"
)

// NewRemoteCommand talks to a running daemon over its API.
func NewRemoteCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Commands against a running riskeye daemon",
		Long: `Remote commands use the daemon's HTTP API. Set --api-url and --token,
or RISKEYE_API_URL and RISKEYE_API_TOKEN.`,
		Aliases: []string{"r"},
	}

	cmd.AddCommand(newRemoteStatusCommand(opts))
	cmd.AddCommand(newRemoteAlertsCommand(opts))
	cmd.AddCommand(newRemoteLogsCommand(opts))
	cmd.AddCommand(newRemoteCycleCommand(opts))
	cmd.AddCommand(newRemoteSnoozeCommand(opts))
	cmd.AddCommand(newRemoteUnsnoozeCommand(opts))
	cmd.AddCommand(newRemotePrecedenceCommand(opts))

	return cmd
}

func newRemoteStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			status, err := c.Scheduler(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get scheduler status: %w", err)
			}
			if !isTable(opts.Output) {
				return render(cmd.OutOrStdout(), opts.Output, status)
			}

			s := status.Stats
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "CYCLES\tSKIPPED\tTIMED OUT\tFAILED\tLAST RUN\tHALTED")
			halted := "-"
			if status.Error != "" {
				halted = status.Error
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%s\n", s.Cycles, s.Skipped, s.TimedOut, s.Failed, fmtTime(&s.LastRun), halted)
			if err := w.Flush(); err != nil {
				return err
			}
			if s.LastReport != nil {
				return printCycleReport(cmd, opts, *s.LastReport)
			}
			return nil
		},
	}
}

func newRemoteAlertsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List alerts on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			alerts, err := c.ListAlerts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}
			if !isTable(opts.Output) {
				return render(cmd.OutOrStdout(), opts.Output, alerts)
			}
			printAlerts(cmd, alerts)
			return nil
		},
	}
}

func newRemoteLogsCommand(opts *Options) *cobra.Command {
	var (
		filter client.LogFilter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			logs, err := c.ListLogs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list logs: %w", err)
			}
			if !isTable(opts.Output) {
				return render(cmd.OutOrStdout(), opts.Output, logs)
			}
			printLogs(cmd, logs)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.AlertID, "alert", "", "Filter by alert id")
	cmd.Flags().StringVar(&filter.Phase, "phase", "", "Filter by phase")
	cmd.Flags().StringVar(&filter.Level, "level", "", "Filter by level")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of entries")
	return cmd
}

func newRemoteCycleCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Trigger one cycle on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			report, err := c.RunCycle(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to run cycle: %w", err)
			}
			return printCycleReport(cmd, opts, *report)
		},
	}
}

func newRemoteSnoozeCommand(opts *Options) *cobra.Command {
	var d time.Duration

	cmd := &cobra.Command{
		Use:   "snooze [alert_id]",
		Short: "Snooze an alert on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			state, err := c.Snooze(cmd.Context(), args[0], d)
			if err != nil {
				return fmt.Errorf("failed to snooze alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s snoozed until %s\n", args[0], fmtTime(state.SnoozedUntil))
			return nil
		},
	}

	cmd.Flags().DurationVar(&d, "for", 30*time.Minute, "Snooze duration")
	return cmd
}

func newRemoteUnsnoozeCommand(opts *Options) *cobra.Command {
	var section string

	cmd := &cobra.Command{
		Use:   "unsnooze [alert_id]",
		Short: "Clear a snooze on the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if section != "" {
				n, err := c.ResetSection(cmd.Context(), section)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d snooze(s) in %s\n", n, section)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("an alert id or --section is required")
			}
			if _, err := c.Unsnooze(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to unsnooze alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s unsnoozed\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&section, "section", "", "Reset every snooze in a section")
	return cmd
}

func newRemotePrecedenceCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "precedence [JSON_FIRST|DB_FIRST]",
		Short: "Show or change the daemon's precedence policy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := c.SetPolicy(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			res, err := c.Config(cmd.Context())
			if err != nil {
				return err
			}
			return printSources(cmd, res)
		},
	}
}
