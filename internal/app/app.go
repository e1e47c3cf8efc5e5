package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/api"
	"github.com/riskeye/internal/auth"
	"github.com/riskeye/internal/config"
	cronrunner "github.com/riskeye/internal/cron"
	"github.com/riskeye/internal/database"
	"github.com/riskeye/internal/metrics"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/monitor"
	"github.com/riskeye/internal/monitorcfg"
	"github.com/riskeye/internal/notify"
	"github.com/riskeye/internal/report"
	gormrepository "github.com/riskeye/internal/repository/gorm"
	"github.com/riskeye/internal/threshold"
)

// App holds the wired components shared by the daemon and the console.
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *gorm.DB
	Store         *gormrepository.Store
	Metrics       *metrics.Metrics
	MonitorConfig *monitorcfg.Resolver
	Thresholds    *threshold.Resolver
	Manager       *alert.ThresholdManager
	Snooze        *alert.SnoozeHandler
	Orchestrator  *alert.Orchestrator
	Reports       *report.ReportGenerator

	closers []io.Closer
}

// New opens the database, ensures the schema and builds every component.
// Nothing is started.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: db, Metrics: metrics.New()}

	a.Store = gormrepository.New(db)
	if err := a.Store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	policy, err := monitorcfg.ParsePolicy(cfg.Monitor.Policy)
	if err != nil {
		a.Close()
		return nil, err
	}
	file := monitorcfg.NewFileProvider(cfg.Monitor.ConfigPath)
	a.MonitorConfig = monitorcfg.NewResolver(policy,
		file,
		&monitorcfg.DBProvider{Store: a.Store, PrimaryKey: cfg.Monitor.PrimaryKey, LegacyKey: cfg.Monitor.LegacyKey},
		monitorcfg.NewEnvProvider(cfg.Monitor.EnvPrefix, cfg.Monitor.EnvBlobVar),
		logger,
	)
	a.Thresholds = threshold.NewResolver(file.Cache, a.Store, cfg.Monitor.ThresholdKey,
		threshold.WithMetrics(a.Metrics),
		threshold.WithLogger(logger),
	)

	a.Manager = alert.NewThresholdManager(a.Store, logger)
	a.Snooze = alert.NewSnoozeHandler(a.Store, logger)
	a.Reports = report.NewReportGenerator(a.Store)

	router, err := a.buildRouter()
	if err != nil {
		a.Close()
		return nil, err
	}

	var source alert.MetricSource = alert.NullMetricSource{}
	if cfg.Monitor.MetricURL != "" {
		source = monitor.NewHTTPSource(cfg.Monitor.MetricURL, nil)
	}
	enricher := alert.NewEnricher(source, cfg.Monitor.MaxConcurrency, cfg.Monitor.EnrichTimeout, logger, a.Metrics)

	a.Orchestrator = alert.NewOrchestrator(a.Store, enricher, router,
		alert.WithCooldown(a.cooldown),
		alert.WithNotifyTimeout(cfg.Monitor.NotifyTimeout),
		alert.WithLogger(logger),
		alert.WithMetrics(a.Metrics),
	)

	if cfg.Monitor.SeedThresholds {
		n, err := a.Manager.CreateDefaultThresholds(ctx)
		if err != nil {
			logger.Warn("failed to create default thresholds", zap.Error(err))
		} else if n > 0 {
			logger.Info("default thresholds created", zap.Int("count", n))
		}
	}

	return a, nil
}

// cooldown is the per-section snooze_seconds applied after a dispatch.
func (a *App) cooldown(ctx context.Context, cfg *models.AlertConfig) time.Duration {
	section := alert.SectionFor(cfg.AlertType)
	if section == "" {
		return 0
	}
	secs, _ := a.Thresholds.SnoozeSeconds(ctx, section)
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (a *App) buildRouter() (alert.Router, error) {
	n := a.Config.Notify
	r := alert.NewTypeRouter()

	if n.Webhook.SMSURL != "" {
		r.Register(models.NotificationSMS, notify.NewWebhookNotifier("sms", n.Webhook.SMSURL, nil))
	}
	if n.Webhook.VoiceURL != "" {
		r.Register(models.NotificationPhoneCall, notify.NewWebhookNotifier("voice", n.Webhook.VoiceURL, nil))
	}
	if n.Email.SMTPHost != "" {
		email, err := notify.NewEmailNotifier(n.Email)
		if err != nil {
			return nil, err
		}
		r.Register(models.NotificationEmail, email)
	}
	if n.Slack.Token != "" || n.Slack.WebhookURL != "" {
		slack, err := notify.NewSlackNotifier(n.Slack.Token, n.Slack.WebhookURL, n.Slack.Channel, n.Slack.Username)
		if err != nil {
			return nil, err
		}
		r.Register(models.NotificationEmail, slack)
	}
	r.Register(models.NotificationWindows, notify.NewLogNotifier(a.Logger))

	if len(n.Kafka.Brokers) > 0 {
		kafka := notify.NewKafkaNotifier(notify.NewKafkaWriter(n.Kafka.Brokers, n.Kafka.Topic))
		a.closers = append(a.closers, kafka)
		r.Broadcast(kafka)
	}

	return alert.GatedRouter{Next: r, Gate: a.MonitorConfig}, nil
}

// Issuer returns the token issuer for the configured secret.
func (a *App) Issuer() (*auth.Issuer, error) {
	return auth.NewIssuer(a.Config.Server.JWTSecret, a.Config.Server.TokenTTL)
}

// Run starts the scheduler, the cron jobs and the API server and blocks
// until ctx ends, the scheduler halts or the server fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config

	watcher := monitor.NewConfigWatcher(a.MonitorConfig, a.Store, a.Logger)
	if _, err := watcher.Reload(ctx); err != nil {
		a.Logger.Warn("initial config load failed", zap.Error(err))
	}

	jobs := cronrunner.New(a.Logger, ctx)
	if cfg.Monitor.ReloadSpec != "" {
		if _, err := jobs.Add("config-reload", cfg.Monitor.ReloadSpec, func(ctx context.Context) {
			if _, err := watcher.Reload(ctx); err != nil {
				a.Logger.Warn("config reload failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule config reload: %w", err)
		}
	}
	if cfg.Report.Spec != "" {
		e := cfg.Notify.Email
		mailer := report.NewMailer(a.Reports, gomail.NewDialer(e.SMTPHost, e.SMTPPort, e.From, e.Password),
			e.From, e.ToReceivers, cfg.Report.Window, a.Logger)
		if _, err := jobs.Add("report", cfg.Report.Spec, mailer.Run); err != nil {
			return fmt.Errorf("schedule report: %w", err)
		}
	}
	jobs.Start()
	defer jobs.Stop()

	scheduler := monitor.NewScheduler(a.Orchestrator, a.MonitorConfig, cfg.Monitor.CycleTimeout, a.Logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		issuer, err := a.Issuer()
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		server = api.NewServer(api.Deps{
			Repo:         a.Store,
			Config:       a.MonitorConfig,
			Thresholds:   a.Thresholds,
			Manager:      a.Manager,
			Snooze:       a.Snooze,
			Orchestrator: a.Orchestrator,
			Scheduler:    scheduler,
			Metrics:      a.Metrics,
			Issuer:       issuer,
			Logger:       a.Logger,
		})
		go func() {
			a.Logger.Info("api server listening", zap.Int("port", cfg.Server.Port))
			serverErr <- server.Start(cfg.Server.Port)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case <-scheduler.Done():
		err = scheduler.Err()
	case err = <-serverErr:
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			a.Logger.Warn("api server shutdown", zap.Error(serr))
		}
	}
	return err
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
