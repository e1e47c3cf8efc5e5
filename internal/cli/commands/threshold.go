package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/app"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/threshold"
)

func NewThresholdCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threshold",
		Short:   "Threshold resolution and band management",
		Aliases: []string{"thresholds", "th"},
	}

	cmd.AddCommand(newThresholdResolveCommand(opts))
	cmd.AddCommand(newThresholdInspectCommand(opts))
	cmd.AddCommand(newThresholdAddCommand(opts))
	cmd.AddCommand(newThresholdListCommand(opts))
	cmd.AddCommand(newThresholdSeedCommand(opts))
	cmd.AddCommand(newThresholdImportCommand(opts))
	cmd.AddCommand(newThresholdExportCommand(opts))
	cmd.AddCommand(newThresholdTestCommand(opts))

	return cmd
}

func resolveTrace(ctx context.Context, r *threshold.Resolver, kind, key string) (threshold.Trace, error) {
	switch strings.ToLower(kind) {
	case "liquid":
		_, trace := r.LiquidThreshold(ctx, key)
		return trace, nil
	case "profit":
		_, trace := r.ProfitLimit(ctx, key)
		return trace, nil
	case "blast":
		_, trace := r.BlastRadius(ctx, key)
		return trace, nil
	case "snooze":
		_, trace := r.SnoozeSeconds(ctx, key)
		return trace, nil
	default:
		return threshold.Trace{}, fmt.Errorf("unknown threshold kind %q (liquid, profit, blast, snooze)", kind)
	}
}

func newThresholdResolveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [liquid|profit|blast|snooze] [key]",
		Short: "Resolve one threshold and show where it came from",
		Example: `  riskeyectl threshold resolve liquid BTC
  riskeyectl threshold resolve profit portfolio_profit_usd`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				trace, err := resolveTrace(ctx, a.Thresholds, args[0], args[1])
				if err != nil {
					return err
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, trace)
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintln(w, "MONITOR\tKEY\tVALUE\tSOURCE\tLAYER\tEVIDENCE")
				fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%s\t%s\n",
					trace.Monitor, trace.Key, trace.Value, trace.Source, trace.Layer, trace.Evidence)
				return w.Flush()
			})
		},
	}
}

func newThresholdInspectCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [liquid|profit] [key]",
		Short: "Show the value every layer holds for a threshold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var insp *threshold.Inspection
				switch strings.ToLower(args[0]) {
				case "liquid":
					insp = a.Thresholds.InspectLiquid(ctx, args[1])
				case "profit":
					insp = a.Thresholds.InspectProfit(ctx, args[1])
				default:
					return fmt.Errorf("unknown threshold kind %q (liquid, profit)", args[0])
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, insp)
				}

				w := newTable(cmd.OutOrStdout())
				fmt.Fprintln(w, "SOURCE\tLAYER\tVALUE\tWINNER")
				for _, l := range insp.Layers {
					value := "-"
					if l.Value != nil {
						value = fmt.Sprintf("%g", *l.Value)
					}
					winner := ""
					if l.Source == insp.Trace.Source && l.Layer == insp.Trace.Layer {
						winner = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Source, l.Layer, value, winner)
				}
				return w.Flush()
			})
		},
	}
}

func newThresholdAddCommand(opts *Options) *cobra.Command {
	var (
		t        models.Threshold
		cond     string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a banded threshold; it supersedes older rows for the same key",
		RunE: func(cmd *cobra.Command, args []string) error {
			t.Condition = models.Condition(strings.ToUpper(cond))
			t.Enabled = !disabled
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Manager.AddThreshold(ctx, &t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Threshold %s added\n", t.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&t.AlertType, "type", "", "Alert type (e.g. LiquidationDistance)")
	cmd.Flags().StringVar(&t.AlertClass, "class", "", "Alert class (e.g. Position)")
	cmd.Flags().StringVar(&t.MetricKey, "metric", "", "Metric key")
	cmd.Flags().StringVar(&cond, "condition", "ABOVE", "ABOVE or BELOW")
	cmd.Flags().Float64Var(&t.Low, "low", 0, "LOW band")
	cmd.Flags().Float64Var(&t.Medium, "medium", 0, "MEDIUM band")
	cmd.Flags().Float64Var(&t.High, "high", 0, "HIGH band")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Store the row disabled")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("class")
	return cmd
}

func newThresholdListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List threshold rows, newest first",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Manager.ListThresholds(ctx)
				if err != nil {
					return err
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, items)
				}
				w := newTable(cmd.OutOrStdout())
				fmt.Fprintln(w, "ID\tTYPE\tCLASS\tMETRIC\tCOND\tLOW\tMEDIUM\tHIGH\tENABLED\tMODIFIED")
				for _, t := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%g\t%g\t%g\t%t\t%s\n",
						t.ID, t.AlertType, t.AlertClass, t.MetricKey, t.Condition,
						t.Low, t.Medium, t.High, t.Enabled, fmtTime(&t.LastModified))
				}
				return w.Flush()
			})
		},
	}
}

func newThresholdSeedCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default threshold rows when missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Manager.CreateDefaultThresholds(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d default threshold(s) created\n", n)
				return nil
			})
		},
	}
}

func newThresholdImportCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import thresholds from a JSON file; nothing is written if any row is invalid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Manager.ImportThresholdsFromFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d threshold(s) imported\n", n)
				return nil
			})
		},
	}
}

func newThresholdExportCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all threshold rows to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Manager.ExportThresholdsToFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d threshold(s) exported to %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newThresholdTestCommand(opts *Options) *cobra.Command {
	var (
		alertType  string
		alertClass string
		cond       string
		bands      string
		values     string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Dry-run band evaluation over a series of values",
		Example: `  riskeyectl threshold test --type LiquidationDistance --class Position --condition BELOW --values 8,4,0.5
  riskeyectl threshold test --condition ABOVE --bands 10,25,50 --values 5,30,60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := parseValues(values)
			if err != nil {
				return err
			}
			condition := models.Condition(strings.ToUpper(cond))

			var steps []alert.SimulationStep
			if bands != "" {
				b, err := parseValues(bands)
				if err != nil {
					return err
				}
				if len(b) != 3 {
					return fmt.Errorf("--bands needs low,medium,high")
				}
				steps, err = alert.SimulateBands(condition, alert.Bands{Low: b[0], Medium: b[1], High: b[2]}, series)
				if err != nil {
					return err
				}
				return printSteps(cmd, opts, steps)
			}

			if alertType == "" || alertClass == "" {
				return fmt.Errorf("--type and --class are required without --bands")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				steps, err := a.Manager.Simulate(ctx, alertType, alertClass, condition, series)
				if err != nil {
					return err
				}
				return printSteps(cmd, opts, steps)
			})
		},
	}

	cmd.Flags().StringVar(&alertType, "type", "", "Alert type of the stored threshold")
	cmd.Flags().StringVar(&alertClass, "class", "", "Alert class of the stored threshold")
	cmd.Flags().StringVar(&cond, "condition", "ABOVE", "ABOVE or BELOW")
	cmd.Flags().StringVar(&bands, "bands", "", "Explicit bands as low,medium,high")
	cmd.Flags().StringVar(&values, "values", "", "Comma separated metric values")
	cmd.MarkFlagRequired("values")
	return cmd
}

func printSteps(cmd *cobra.Command, opts *Options, steps []alert.SimulationStep) error {
	if !isTable(opts.Output) {
		return render(cmd.OutOrStdout(), opts.Output, steps)
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "STEP\tVALUE\tLEVEL\tTRANSITION")
	for i, s := range steps {
		mark := ""
		if s.Transition {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%g\t%s\t%s\n", i+1, s.Value, s.Level, mark)
	}
	return w.Flush()
}
