package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds riskeyectl.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "riskeyectl",
		Short: "RiskEye CLI - operator console for the alert monitor",
		Long: `riskeyectl inspects and edits the monitor configuration, thresholds and
alerts in the RiskEye database, runs cycles and reports, and talks to a
running daemon with the remote commands.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to config.yaml or its directory")
	flags.StringVarP(&opts.Output, "output", "o", "table", "Output format: table, json or yaml")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "Log level")
	flags.String("api-url", "http://localhost:8080", "Daemon API base URL")
	flags.String("token", "", "Daemon API token")

	v := viper.GetViper()
	v.SetEnvPrefix("RISKEYE")
	v.AutomaticEnv()
	v.BindPFlag("api_url", flags.Lookup("api-url"))
	v.BindPFlag("api_token", flags.Lookup("token"))

	// Add commands
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewThresholdCommand(opts))
	cmd.AddCommand(NewAlertCommand(opts))
	cmd.AddCommand(NewCycleCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewRemoteCommand(opts))

	return cmd
}
