package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/riskeye/internal/app"
	"github.com/riskeye/internal/monitorcfg"
)

func NewConfigCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Monitor configuration commands",
		Aliases: []string{"cfg"},
	}

	cmd.AddCommand(newConfigShowCommand(opts))
	cmd.AddCommand(newConfigSourcesCommand(opts))
	cmd.AddCommand(newConfigValidateCommand(opts))
	cmd.AddCommand(newConfigSaveCommand(opts))
	cmd.AddCommand(newConfigGetCommand(opts))
	cmd.AddCommand(newConfigPrecedenceCommand(opts))

	return cmd
}

func readDocument(path string) (monitorcfg.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc monitorcfg.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

func newConfigShowCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective monitor config with its sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.MonitorConfig.Load(ctx, monitorcfg.DocumentMonitor)
				if err != nil {
					return err
				}
				format := opts.Output
				if isTable(format) {
					format = "json"
				}
				return render(cmd.OutOrStdout(), format, res)
			})
		},
	}
}

func printSources(cmd *cobra.Command, res *monitorcfg.LoadResult) error {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintf(w, "POLICY\t%s\n", res.Policy)
	fmt.Fprintln(w, "LAYER\tSOURCE")
	layers := make([]string, 0, len(res.Sources))
	for l := range res.Sources {
		layers = append(layers, string(l))
	}
	sort.Strings(layers)
	for _, l := range layers {
		fmt.Fprintf(w, "%s\t%s\n", l, res.Sources[monitorcfg.Layer(l)])
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "ERROR\t%s\n", e)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "WARNING\t%s\n", warn)
	}
	return w.Flush()
}

func newConfigSourcesCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Show which layers contributed to the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.MonitorConfig.Load(ctx, monitorcfg.DocumentMonitor)
				if err != nil {
					return err
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, map[string]any{"policy": res.Policy, "sources": res.Sources})
				}
				return printSources(cmd, res)
			})
		},
	}
}

func newConfigValidateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a monitor config JSON file without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			errs, warnings := monitorcfg.Validate(monitorcfg.Normalize(doc))
			out := cmd.OutOrStdout()
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			for _, e := range errs {
				fmt.Fprintf(out, "error: %s\n", e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d validation error(s)", len(errs))
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}

func newConfigSaveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "save [file]",
		Short: "Validate and save a monitor config to the json file and the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.MonitorConfig.Save(ctx, monitorcfg.DocumentMonitor, doc)
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), jsonUnlessYAML(opts.Output), res); err != nil {
					return err
				}
				if !res.OK {
					return fmt.Errorf("config not saved")
				}
				return nil
			})
		},
	}
}

func jsonUnlessYAML(format string) string {
	if format == "yaml" || format == "yml" {
		return format
	}
	return "json"
}

func newConfigGetCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [path]",
		Short: "Print one dotted path of the effective config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				v, err := a.MonitorConfig.Get(ctx, monitorcfg.DocumentMonitor, args[0], nil)
				if err != nil {
					return err
				}
				if v == nil {
					return fmt.Errorf("path %s not found", args[0])
				}
				return render(cmd.OutOrStdout(), jsonUnlessYAML(opts.Output), v)
			})
		},
	}
}

func newConfigPrecedenceCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "precedence [JSON_FIRST|DB_FIRST]",
		Short: "Show the precedence policy, or preview the config under another one",
		Long: `Without an argument the configured policy and its layer order are printed.
With a policy the effective config is resolved under it and its sources are shown.
Persist a policy with monitor.policy in config.yaml, or change a running daemon
with "riskeyectl remote precedence".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					policy, err := monitorcfg.ParsePolicy(args[0])
					if err != nil {
						return err
					}
					a.MonitorConfig.SetPolicy(policy)
				}
				res, err := a.MonitorConfig.Load(ctx, monitorcfg.DocumentMonitor)
				if err != nil {
					return err
				}
				order := res.Policy.Order()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "policy: %s\norder (lowest first): default", res.Policy)
				for _, l := range order {
					fmt.Fprintf(out, " < %s", l)
				}
				fmt.Fprintln(out)
				return printSources(cmd, res)
			})
		},
	}
}
