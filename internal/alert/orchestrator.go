package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/riskeye/internal/metrics"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
)

const defaultNotifyTimeout = 15 * time.Second

// CooldownFunc returns how long dispatch stays suppressed after an alert
// was notified at a non-NORMAL level. Zero disables the cooldown.
type CooldownFunc func(ctx context.Context, cfg *models.AlertConfig) time.Duration

// CycleReport summarizes one orchestration cycle.
type CycleReport struct {
	Alerts       int           `json:"alerts"`
	Enriched     int           `json:"enriched"`
	EnrichFailed int           `json:"enrich_failed"`
	Evaluated    int           `json:"evaluated"`
	Transitions  int           `json:"transitions"`
	Snoozed      int           `json:"snoozed"`
	Sent         int           `json:"sent"`
	SendFailed   int           `json:"send_failed"`
	Interrupted  int           `json:"interrupted"`
	AlertErrors  int           `json:"alert_errors"`
	Duration     time.Duration `json:"duration"`
}

// Orchestrator drives the enrich, evaluate, notify and persist cycle.
type Orchestrator struct {
	repo          repository.AlertRepository
	enricher      *Enricher
	router        Router
	cooldown      CooldownFunc
	notifyTimeout time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Option func(*Orchestrator)

func WithCooldown(fn CooldownFunc) Option {
	return func(o *Orchestrator) { o.cooldown = fn }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(repo repository.AlertRepository, enricher *Enricher, router Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:          repo,
		enricher:      enricher,
		router:        router,
		notifyTimeout: defaultNotifyTimeout,
		logger:        zap.NewNop(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.enricher == nil {
		o.enricher = NewEnricher(nil, 0, 0, o.logger, o.metrics)
	}
	if o.router == nil {
		o.router = NewTypeRouter()
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// RunCycle runs one cycle over all active alerts. Per-alert failures are
// only visible in the audit log; a storage failure aborts the cycle with a
// *StorageError. If ctx ends mid-cycle the alerts are still evaluated and
// persisted, pending sends are logged as interrupted and ctx's error is
// returned.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	var report CycleReport

	result := "ok"
	defer func() {
		report.Duration = time.Since(start)
		o.metrics.ObserveCycle(result, report.Duration)
	}()

	alerts, err := o.repo.ActiveAlerts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result = "interrupted"
			return report, fmt.Errorf("cycle interrupted: %w", ctx.Err())
		}
		result = "storage_error"
		return report, storageErr("load active alerts", err)
	}
	report.Alerts = len(alerts)
	if len(alerts) == 0 {
		return report, nil
	}

	enriched := o.enricher.EnrichAll(ctx, alerts)

	// audit writes outlive cancellation so interrupted work is still recorded
	store := context.WithoutCancel(ctx)

	for _, en := range enriched {
		if err := o.process(ctx, store, en, &report); err != nil {
			result = "storage_error"
			return report, err
		}
	}
	if ctx.Err() != nil {
		result = "interrupted"
		return report, fmt.Errorf("cycle interrupted: %w", ctx.Err())
	}

	o.logger.Info("cycle complete",
		zap.Int("alerts", report.Alerts),
		zap.Int("transitions", report.Transitions),
		zap.Int("sent", report.Sent),
		zap.Int("send_failed", report.SendFailed),
		zap.Int("alert_errors", report.AlertErrors),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (o *Orchestrator) process(ctx, store context.Context, en Enrichment, report *CycleReport) error {
	cfg := en.Config

	if en.Err != nil {
		report.EnrichFailed++
		return o.record(store, cfg.ID, models.PhaseEnrich, models.LogError,
			fmt.Sprintf("enrichment failed: %v", en.Err), map[string]any{"error": en.Err.Error()})
	}
	report.Enriched++
	if err := o.record(store, cfg.ID, models.PhaseEnrich, models.LogInfo,
		fmt.Sprintf("fetched value %g", en.Value), map[string]any{"value": en.Value}); err != nil {
		return err
	}

	threshold, err := o.repo.ThresholdsFor(store, cfg.AlertType, cfg.AlertClass, cfg.Condition)
	if err != nil {
		return storageErr("load threshold", err)
	}
	if threshold == nil {
		return o.perAlert(store, report, &PerAlertError{
			AlertID: cfg.ID,
			Phase:   "threshold",
			Err:     fmt.Errorf("no enabled threshold for %s/%s/%s", cfg.AlertType, cfg.AlertClass, cfg.Condition),
		})
	}
	bands := BandsOf(threshold)
	if err := ValidateBands(cfg.Condition, bands); err != nil {
		return o.perAlert(store, report, &PerAlertError{AlertID: cfg.ID, Phase: "threshold", Err: err})
	}

	// Re-read the state: operator snoozes and deletions may have landed
	// while the cycle was enriching.
	fresh, err := o.repo.GetState(store, cfg.ID)
	if err != nil {
		return storageErr("load state", err)
	}
	if fresh == nil {
		return o.removed(store, report, cfg.ID)
	}
	current := *fresh
	now := o.now()
	state, event := Apply(cfg, current, bands, en.Value, now)
	report.Evaluated++
	o.metrics.SetAlertLevel(cfg.ID, cfg.AlertType, state.Level.Rank())

	if event != nil {
		report.Transitions++
		o.metrics.Transition(string(event.Level))
		if err := o.record(store, cfg.ID, models.PhaseEval, models.LogInfo, event.Message, map[string]any{
			"level":    event.Level,
			"previous": event.Previous,
			"value":    event.Value,
		}); err != nil {
			return err
		}
	} else {
		o.logger.Debug("level unchanged",
			zap.String("alert_id", cfg.ID),
			zap.String("level", string(state.Level)),
			zap.Float64("value", en.Value),
		)
	}

	cooldown := false
	if state.Level != state.NotifiedLevel {
		ea := EvaluatedAlert{
			Config:     *cfg,
			State:      state,
			Previous:   current.Level,
			Value:      en.Value,
			Bands:      bands,
			Message:    formatAlertMessage(cfg, state.Level, en.Value, bands),
			Transition: event,
		}
		if cooldown, err = o.notify(ctx, store, &state, ea, now, report); err != nil {
			return err
		}
	}

	if err := o.repo.SaveEvaluation(store, &state, cooldown); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return o.removed(store, report, cfg.ID)
		}
		return storageErr("save state", err)
	}
	return nil
}

func (o *Orchestrator) removed(store context.Context, report *CycleReport, alertID string) error {
	return o.perAlert(store, report, &PerAlertError{AlertID: alertID, Phase: "state", Err: ErrAlertRemoved})
}

// channelGate is implemented by routers that can switch channels off.
type channelGate interface {
	Disabled(alert EvaluatedAlert) (section, channel string, off bool)
}

// notify dispatches an owed notification unless the alert is snoozed. The
// debt is cleared once at least one notifier accepted the alert. It reports
// whether a cooldown was written into state.
func (o *Orchestrator) notify(ctx, store context.Context, state *models.AlertState, ea EvaluatedAlert, now time.Time, report *CycleReport) (bool, error) {
	cfg := &ea.Config

	if state.Snoozed(now) {
		report.Snoozed++
		o.logger.Info("notification deferred by snooze",
			zap.String("alert_id", cfg.ID),
			zap.String("level", string(state.Level)),
			zap.Time("snoozed_until", *state.SnoozedUntil),
		)
		return false, o.record(store, cfg.ID, models.PhaseNotify, models.LogDebug,
			fmt.Sprintf("snoozed until %s", state.SnoozedUntil.Format(time.RFC3339)),
			map[string]any{"level": state.Level, "snoozed_until": state.SnoozedUntil})
	}

	gated := false
	if g, ok := o.router.(channelGate); ok {
		if section, channel, off := g.Disabled(ea); off {
			gated = true
			if err := o.record(store, cfg.ID, models.PhaseNotify, models.LogWarn, "channel disabled",
				map[string]any{"level": state.Level, "section": section, "channel": channel}); err != nil {
				return false, err
			}
		}
	}

	targets := o.router.Route(ea)
	if len(targets) == 0 {
		state.NotifiedLevel = state.Level
		if gated {
			return false, nil
		}
		return false, o.record(store, cfg.ID, models.PhaseNotify, models.LogWarn, "no route",
			map[string]any{"level": state.Level, "notification_type": cfg.NotificationType})
	}

	sent := 0
	for _, n := range targets {
		if ctx.Err() != nil {
			report.Interrupted++
			o.metrics.Notification(n.Name(), "interrupted")
			if err := o.record(store, cfg.ID, models.PhaseNotify, models.LogWarn, "interrupted",
				map[string]any{"notifier": n.Name(), "level": state.Level}); err != nil {
				return false, err
			}
			continue
		}

		sendCtx, cancel := context.WithTimeout(store, o.notifyTimeout)
		err := n.Send(sendCtx, ea)
		cancel()

		if err != nil {
			report.SendFailed++
			o.metrics.Notification(n.Name(), "failed")
			o.logger.Warn("notification failed",
				zap.String("alert_id", cfg.ID),
				zap.String("notifier", n.Name()),
				zap.Error(err),
			)
			if err := o.record(store, cfg.ID, models.PhaseNotify, models.LogError, "failed",
				map[string]any{"notifier": n.Name(), "level": state.Level, "error": err.Error()}); err != nil {
				return false, err
			}
			continue
		}

		sent++
		report.Sent++
		o.metrics.Notification(n.Name(), "sent")
		if err := o.record(store, cfg.ID, models.PhaseNotify, models.LogInfo, "sent",
			map[string]any{"notifier": n.Name(), "level": state.Level}); err != nil {
			return false, err
		}
	}

	if sent == 0 {
		return false, nil
	}
	state.NotifiedLevel = state.Level
	if state.Level != models.LevelNormal && o.cooldown != nil {
		if d := o.cooldown(store, cfg); d > 0 {
			until := now.Add(d)
			state.SnoozedUntil = &until
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) perAlert(store context.Context, report *CycleReport, err *PerAlertError) error {
	report.AlertErrors++
	o.logger.Warn("alert skipped", zap.String("alert_id", err.AlertID), zap.Error(err))
	return o.record(store, err.AlertID, models.PhaseError, models.LogError, err.Error(),
		map[string]any{"phase": err.Phase})
}

func (o *Orchestrator) record(ctx context.Context, alertID string, phase models.Phase, level models.LogLevel, msg string, payload map[string]any) error {
	entry := &models.AlertLog{
		Phase:   phase,
		Level:   level,
		Message: msg,
	}
	if alertID != "" {
		id := alertID
		entry.AlertID = &id
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode log payload: %w", err)
		}
		entry.Payload = datatypes.JSON(data)
	}
	if err := o.repo.AppendLog(ctx, entry); err != nil {
		return storageErr("append log", err)
	}
	return nil
}

// IsInterrupted reports whether err ended a cycle through cancellation or
// timeout rather than storage failure.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
