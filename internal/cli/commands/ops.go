package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/gomail.v2"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/app"
	"github.com/riskeye/internal/auth"
	"github.com/riskeye/internal/report"
)

func NewCycleCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one enrich, evaluate and notify cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				cycleReport, err := a.Orchestrator.RunCycle(ctx)
				if rerr := printCycleReport(cmd, opts, cycleReport); rerr != nil {
					return rerr
				}
				return err
			})
		},
	}
}

func printCycleReport(cmd *cobra.Command, opts *Options, r alert.CycleReport) error {
	if !isTable(opts.Output) {
		return render(cmd.OutOrStdout(), opts.Output, r)
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "ALERTS\tENRICHED\tFAILED\tEVALUATED\tTRANSITIONS\tSNOOZED\tSENT\tSEND FAILED\tINTERRUPTED\tERRORS\tDURATION")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
		r.Alerts, r.Enriched, r.EnrichFailed, r.Evaluated, r.Transitions, r.Snoozed,
		r.Sent, r.SendFailed, r.Interrupted, r.AlertErrors, r.Duration.Round(time.Millisecond))
	return w.Flush()
}

func NewReportCommand(opts *Options) *cobra.Command {
	var (
		window time.Duration
		send   bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the audit log over a trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if window <= 0 {
					window = a.Config.Report.Window
				}
				if send {
					e := a.Config.Notify.Email
					mailer := report.NewMailer(a.Reports, gomail.NewDialer(e.SMTPHost, e.SMTPPort, e.From, e.Password),
						e.From, e.ToReceivers, window, a.Logger)
					if err := mailer.Send(ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Report sent to %v\n", e.ToReceivers)
					return nil
				}

				end := time.Now()
				data, err := a.Reports.Collect(ctx, end.Add(-window), end)
				if err != nil {
					return err
				}
				if !isTable(opts.Output) {
					return render(cmd.OutOrStdout(), opts.Output, data)
				}
				body, err := a.Reports.Render(data)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "Window to summarise (defaults to report.window)")
	cmd.Flags().BoolVar(&send, "send", false, "Email the report to notify.email.to_receivers")
	return cmd
}

func NewTokenCommand(opts *Options) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Server.TokenTTL
			}
			issuer, err := auth.NewIssuer(cfg.Server.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, err := issuer.GenerateToken(subject, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to server.token_ttl)")
	return cmd
}
