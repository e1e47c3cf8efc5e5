package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/riskeye/internal/app"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
)

func NewAlertCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert management commands",
		Aliases: []string{"alerts", "a"},
	}

	// Add subcommands
	cmd.AddCommand(newAlertAddCommand(opts))
	cmd.AddCommand(newAlertListCommand(opts))
	cmd.AddCommand(newAlertRemoveCommand(opts))
	cmd.AddCommand(newAlertSnoozeCommand(opts))
	cmd.AddCommand(newAlertUnsnoozeCommand(opts))
	cmd.AddCommand(newAlertLogsCommand(opts))

	return cmd
}

func newAlertAddCommand(opts *Options) *cobra.Command {
	var (
		cfg      models.AlertConfig
		cond     string
		notify   string
		position string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Provision an alert with a NORMAL state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Condition = models.Condition(strings.ToUpper(cond))
			cfg.NotificationType = models.NotificationType(strings.ToUpper(notify))
			if position != "" {
				cfg.PositionReferenceID = &position
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Manager.ProvisionAlert(ctx, &cfg); err != nil {
					return fmt.Errorf("failed to add alert: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Alert %s added\n", cfg.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.ID, "id", "", "Alert id (generated when empty)")
	cmd.Flags().StringVar(&cfg.Description, "description", "", "Free text description")
	cmd.Flags().StringVar(&cfg.AlertType, "type", "", "Alert type (e.g. LiquidationDistance, Profit, Price)")
	cmd.Flags().StringVar(&cfg.AlertClass, "class", "", "Alert class (e.g. Position, Portfolio)")
	cmd.Flags().Float64Var(&cfg.TriggerValue, "trigger", 0, "Trigger value")
	cmd.Flags().StringVar(&cond, "condition", "ABOVE", "ABOVE or BELOW")
	cmd.Flags().StringVar(&notify, "notify", "WINDOWS", "SMS, EMAIL, WINDOWS or PHONECALL")
	cmd.Flags().StringVar(&position, "position", "", "Position reference id")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("trigger")
	return cmd
}

func newAlertListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List alerts with their state",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				alerts, err := a.Store.ActiveAlerts(ctx)
				if err != nil {
					return fmt.Errorf("failed to list alerts: %w", err)
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, alerts)
				}
				printAlerts(cmd, alerts)
				return nil
			})
		},
	}
}

func printAlerts(cmd *cobra.Command, alerts []models.AlertConfig) {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tTYPE\tCLASS\tCOND\tTRIGGER\tNOTIFY\tLEVEL\tNOTIFIED\tSNOOZED UNTIL")
	for _, a := range alerts {
		level, notified, snoozed := "-", "-", "-"
		if a.State != nil {
			level = string(a.State.Level)
			notified = string(a.State.NotifiedLevel)
			snoozed = fmtTime(a.State.SnoozedUntil)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%s\t%s\t%s\t%s\n",
			a.ID, a.AlertType, a.AlertClass, a.Condition, a.TriggerValue,
			a.NotificationType, level, notified, snoozed)
	}
	w.Flush()
}

func newAlertRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove [alert_id]",
		Short:   "Delete an alert and its state",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.DeleteConfig(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to remove alert: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Alert %s removed\n", args[0])
				return nil
			})
		},
	}
}

func newAlertSnoozeCommand(opts *Options) *cobra.Command {
	var d time.Duration

	cmd := &cobra.Command{
		Use:   "snooze [alert_id]",
		Short: "Suppress notifications for an alert for a while",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				state, err := a.Snooze.Snooze(ctx, args[0], d)
				if err != nil {
					return fmt.Errorf("failed to snooze alert: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Alert %s snoozed until %s\n", args[0], fmtTime(state.SnoozedUntil))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&d, "for", 30*time.Minute, "Snooze duration")
	return cmd
}

func newAlertUnsnoozeCommand(opts *Options) *cobra.Command {
	var section string

	cmd := &cobra.Command{
		Use:   "unsnooze [alert_id]",
		Short: "Clear the snooze of an alert, or of every alert in a section",
		Args: func(cmd *cobra.Command, args []string) error {
			if section == "" && len(args) != 1 {
				return fmt.Errorf("an alert id or --section is required")
			}
			return cobra.MaximumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if section != "" {
					n, err := a.Snooze.UnsnoozeSection(ctx, section)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d snooze(s) in %s\n", n, section)
					return nil
				}
				if _, err := a.Snooze.Unsnooze(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to unsnooze alert: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Alert %s unsnoozed\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&section, "section", "", "Reset every snooze in a section (liquid, profit, price)")
	return cmd
}

func newAlertLogsCommand(opts *Options) *cobra.Command {
	var (
		alertID string
		phase   string
		level   string
		since   time.Duration
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the alert audit log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := repository.ListLogsParams{Limit: limit}
			if alertID != "" {
				params.AlertID = &alertID
			}
			if phase != "" {
				p := models.Phase(strings.ToUpper(phase))
				params.Phase = &p
			}
			if level != "" {
				l := models.LogLevel(strings.ToUpper(level))
				params.Level = &l
			}
			if since > 0 {
				t := time.Now().Add(-since)
				params.Since = &t
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				logs, err := a.Store.ListLogs(ctx, params)
				if err != nil {
					return err
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, logs)
				}
				printLogs(cmd, logs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&alertID, "alert", "", "Filter by alert id")
	cmd.Flags().StringVar(&phase, "phase", "", "Filter by phase (CONFIG, ENRICH, EVAL, NOTIFY, ERROR)")
	cmd.Flags().StringVar(&level, "level", "", "Filter by level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	return cmd
}

func printLogs(cmd *cobra.Command, logs []models.AlertLog) {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "TIME\tPHASE\tLEVEL\tALERT\tMESSAGE")
	for _, l := range logs {
		alertID := "-"
		if l.AlertID != nil {
			alertID = *l.AlertID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", fmtTime(&l.Timestamp), l.Phase, l.Level, alertID, l.Message)
	}
	w.Flush()
}
