package alert

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskeye/internal/config"
	"github.com/riskeye/internal/database"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
	gormrepository "github.com/riskeye/internal/repository/gorm"
)

func newTestStore(t *testing.T) *gormrepository.Store {
	t.Helper()
	db, err := database.Open(config.DBConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "riskeye.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := gormrepository.New(db)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

type valueSource struct {
	mu     sync.Mutex
	values map[string]float64
	errs   map[string]error
}

func newValueSource() *valueSource {
	return &valueSource{values: map[string]float64{}, errs: map[string]error{}}
}

func (s *valueSource) set(id string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = v
}

func (s *valueSource) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = err
}

func (s *valueSource) FetchMetric(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[cfg.ID]; ok {
		return 0, err
	}
	v, ok := s.values[cfg.ID]
	if !ok {
		return 0, ErrMetricUnavailable
	}
	return v, nil
}

type recordingNotifier struct {
	name string
	err  error

	mu   sync.Mutex
	sent []EvaluatedAlert
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Send(ctx context.Context, a EvaluatedAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    *gormrepository.Store
	source   *valueSource
	notifier *recordingNotifier
	clock    *testClock
	orch     *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    newTestStore(t),
		source:   newValueSource(),
		notifier: &recordingNotifier{name: "sms"},
		clock:    &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	router := NewTypeRouter().Register(models.NotificationSMS, h.notifier)
	all := append([]Option{WithClock(h.clock.Now)}, opts...)
	h.orch = NewOrchestrator(h.store, NewEnricher(h.source, 4, time.Second, nil, nil), router, all...)
	return h
}

func (h *harness) addAlert(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.store.AddConfig(context.Background(), &models.AlertConfig{
		ID:               id,
		AlertType:        "Price",
		AlertClass:       "Position",
		TriggerValue:     100,
		Condition:        models.ConditionAbove,
		NotificationType: models.NotificationSMS,
	}))
}

func (h *harness) addPriceThreshold(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.AddThreshold(context.Background(), &models.Threshold{
		AlertType:  "Price",
		AlertClass: "Position",
		MetricKey:  "price",
		Condition:  models.ConditionAbove,
		Low:        50,
		Medium:     75,
		High:       100,
		Enabled:    true,
	}))
}

func (h *harness) logs(t *testing.T, phase models.Phase) []models.AlertLog {
	t.Helper()
	items, err := h.store.ListLogs(context.Background(), repository.ListLogsParams{Phase: &phase, Asc: true})
	require.NoError(t, err)
	return items
}

func (h *harness) state(t *testing.T, id string) *models.AlertState {
	t.Helper()
	s, err := h.store.GetState(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestRunCycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)

	h.source.set("a1", 120)
	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitions)
	assert.Equal(t, 1, report.Sent)

	state := h.state(t, "a1")
	assert.Equal(t, models.LevelHigh, state.Level)
	assert.Equal(t, models.LevelHigh, state.NotifiedLevel)
	require.NotNil(t, state.LastTriggered)
	require.NotNil(t, state.EvaluatedValue)
	assert.Equal(t, 120.0, *state.EvaluatedValue)

	evals := h.logs(t, models.PhaseEval)
	require.Len(t, evals, 1)
	assert.Equal(t, "Level changed NORMAL → HIGH", evals[0].Message)
	notifies := h.logs(t, models.PhaseNotify)
	require.Len(t, notifies, 1)
	assert.Equal(t, models.LogInfo, notifies[0].Level)
	assert.Equal(t, "sent", notifies[0].Message)
	assert.Contains(t, string(notifies[0].Payload), `"notifier":"sms"`)
	assert.Len(t, h.logs(t, models.PhaseEnrich), 1)

	h.source.set("a1", 110)
	report, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Transitions)
	assert.Equal(t, 0, report.Sent)

	state = h.state(t, "a1")
	assert.Equal(t, models.LevelHigh, state.Level)
	assert.Equal(t, 110.0, *state.EvaluatedValue)
	assert.Len(t, h.logs(t, models.PhaseEval), 1)
	assert.Len(t, h.logs(t, models.PhaseNotify), 1)
	assert.Equal(t, 1, h.notifier.count())
}

func TestRunCycleWithoutAlertsIsNoop(t *testing.T) {
	h := newHarness(t)
	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Alerts)

	items, err := h.store.ListLogs(context.Background(), repository.ListLogsParams{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSnoozeSuppressesDispatchUntilExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)

	state := h.state(t, "a1")
	until := h.clock.Now().Add(60 * time.Second)
	state.SnoozedUntil = &until
	require.NoError(t, h.store.SaveState(ctx, state))

	h.source.set("a1", 120)
	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Snoozed)
	assert.Equal(t, 0, h.notifier.count())

	state = h.state(t, "a1")
	assert.Equal(t, models.LevelHigh, state.Level, "state is persisted while snoozed")
	assert.Equal(t, models.LevelNormal, state.NotifiedLevel)

	h.clock.Advance(61 * time.Second)
	report, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Transitions)
	assert.Equal(t, 1, h.notifier.count(), "the deferred notification goes out after the window")
	assert.Equal(t, models.LevelHigh, h.state(t, "a1").NotifiedLevel)
}

func TestCooldownSetsSnoozeAfterDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithCooldown(func(ctx context.Context, cfg *models.AlertConfig) time.Duration {
		return 10 * time.Minute
	}))
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)

	h.source.set("a1", 80)
	_, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	state := h.state(t, "a1")
	require.NotNil(t, state.SnoozedUntil)
	assert.True(t, state.SnoozedUntil.Equal(h.clock.Now().Add(10*time.Minute)))

	h.source.set("a1", 120)
	_, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.notifier.count(), "escalation inside the cooldown waits")
	assert.Len(t, h.logs(t, models.PhaseEval), 2)
}

func TestFailuresAreIsolatedPerAlert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addAlert(t, "a2")
	h.addAlert(t, "a3")
	h.addPriceThreshold(t)

	h.source.fail("a1", errors.New("feed down"))
	h.source.set("a2", 120)
	h.source.set("a3", 60)

	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Alerts)
	assert.Equal(t, 1, report.EnrichFailed)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 2, h.notifier.count())

	enrich := h.logs(t, models.PhaseEnrich)
	require.Len(t, enrich, 3)
	levels := map[models.LogLevel]int{}
	for _, e := range enrich {
		levels[e.Level]++
	}
	assert.Equal(t, 1, levels[models.LogError])
	assert.Equal(t, 2, levels[models.LogInfo])

	assert.Equal(t, models.LevelNormal, h.state(t, "a1").Level)
	assert.Equal(t, models.LevelHigh, h.state(t, "a2").Level)
	assert.Equal(t, models.LevelLow, h.state(t, "a3").Level)
}

func TestNotifierFailureKeepsDebt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.notifier.err = errors.New("gateway unavailable")
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)

	h.source.set("a1", 120)
	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SendFailed)

	notifies := h.logs(t, models.PhaseNotify)
	require.Len(t, notifies, 1)
	assert.Equal(t, models.LogError, notifies[0].Level)
	assert.Equal(t, "failed", notifies[0].Message)
	assert.Equal(t, models.LevelNormal, h.state(t, "a1").NotifiedLevel)

	h.notifier.err = nil
	_, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.notifier.count(), "retried on the next cycle")
	assert.Len(t, h.logs(t, models.PhaseEval), 1)
}

func TestMissingThresholdIsPerAlertError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.source.set("a1", 120)

	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertErrors)

	errs := h.logs(t, models.PhaseError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "no enabled threshold")
	assert.Equal(t, models.LevelNormal, h.state(t, "a1").Level)
}

func TestInvalidBandsArePerAlertError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	require.NoError(t, h.store.AddThreshold(ctx, &models.Threshold{
		AlertType: "Price", AlertClass: "Position", MetricKey: "price",
		Condition: models.ConditionAbove, Low: 100, Medium: 75, High: 50, Enabled: true,
	}))
	h.source.set("a1", 120)

	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertErrors)
	require.Len(t, h.logs(t, models.PhaseError), 1)
	assert.Equal(t, 0, h.notifier.count())
}

func TestUnroutedAlertIsMarkedNotified(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.AddConfig(ctx, &models.AlertConfig{
		ID: "a1", AlertType: "Price", AlertClass: "Position", TriggerValue: 100,
		Condition: models.ConditionAbove, NotificationType: models.NotificationEmail,
	}))
	h.addPriceThreshold(t)
	h.source.set("a1", 120)

	_, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	notifies := h.logs(t, models.PhaseNotify)
	require.Len(t, notifies, 1)
	assert.Equal(t, models.LogWarn, notifies[0].Level)
	assert.Equal(t, "no route", notifies[0].Message)
	assert.Equal(t, models.LevelHigh, h.state(t, "a1").NotifiedLevel)
}

func TestSnoozeDuringCycleIsHonoured(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)

	snoozer := NewSnoozeHandler(h.store, nil)
	snoozer.now = h.clock.Now
	source := MetricSourceFunc(func(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
		if _, err := snoozer.Snooze(ctx, cfg.ID, time.Hour); err != nil {
			return 0, err
		}
		return 120, nil
	})
	router := NewTypeRouter().Register(models.NotificationSMS, h.notifier)
	orch := NewOrchestrator(h.store, NewEnricher(source, 1, time.Second, nil, nil), router, WithClock(h.clock.Now))

	report, err := orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Snoozed)
	assert.Equal(t, 0, h.notifier.count())

	state := h.state(t, "a1")
	assert.Equal(t, models.LevelHigh, state.Level)
	assert.Equal(t, models.LevelNormal, state.NotifiedLevel)
	require.NotNil(t, state.SnoozedUntil)
	assert.True(t, state.SnoozedUntil.Equal(h.clock.Now().Add(time.Hour)))
}

func TestAlertDeletedDuringCycleIsPerAlertError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addAlert(t, "a2")
	h.addPriceThreshold(t)

	source := MetricSourceFunc(func(ctx context.Context, cfg *models.AlertConfig) (float64, error) {
		if cfg.ID == "a1" {
			if err := h.store.DeleteConfig(ctx, "a1"); err != nil {
				return 0, err
			}
		}
		return 120, nil
	})
	router := NewTypeRouter().Register(models.NotificationSMS, h.notifier)
	orch := NewOrchestrator(h.store, NewEnricher(source, 1, time.Second, nil, nil), router, WithClock(h.clock.Now))

	report, err := orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, IsStorageError(err))
	assert.Equal(t, 1, report.AlertErrors)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, models.LevelHigh, h.state(t, "a2").Level)

	errs := h.logs(t, models.PhaseError)
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].AlertID)
	assert.Equal(t, "a1", *errs[0].AlertID)
	assert.Contains(t, errs[0].Message, ErrAlertRemoved.Error())
}

func TestDisabledChannelIsAudited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)
	h.source.set("a1", 120)

	router := GatedRouter{
		Next: NewTypeRouter().Register(models.NotificationSMS, h.notifier),
		Gate: gate{"price.sms": false},
	}
	orch := NewOrchestrator(h.store, NewEnricher(h.source, 1, time.Second, nil, nil), router, WithClock(h.clock.Now))

	_, err := orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.notifier.count())

	notifies := h.logs(t, models.PhaseNotify)
	require.Len(t, notifies, 1)
	assert.Equal(t, models.LogWarn, notifies[0].Level)
	assert.Equal(t, "channel disabled", notifies[0].Message)
	assert.Contains(t, string(notifies[0].Payload), `"section":"price"`)
	assert.Contains(t, string(notifies[0].Payload), `"channel":"sms"`)
}

type failingStore struct {
	repository.AlertRepository
	failSave bool
	failList bool
}

func (f *failingStore) SaveEvaluation(ctx context.Context, s *models.AlertState, withSnooze bool) error {
	if f.failSave {
		return errors.New("disk I/O error")
	}
	return f.AlertRepository.SaveEvaluation(ctx, s, withSnooze)
}

func (f *failingStore) ActiveAlerts(ctx context.Context) ([]models.AlertConfig, error) {
	if f.failList {
		return nil, errors.New("database is locked")
	}
	return f.AlertRepository.ActiveAlerts(ctx)
}

func TestStorageFailureAbortsCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)
	h.source.set("a1", 120)

	broken := &failingStore{AlertRepository: h.store, failSave: true}
	orch := NewOrchestrator(broken, NewEnricher(h.source, 1, time.Second, nil, nil), NewTypeRouter())
	_, err := orch.RunCycle(ctx)
	require.Error(t, err)
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "save state", se.Op)

	broken = &failingStore{AlertRepository: h.store, failList: true}
	orch = NewOrchestrator(broken, nil, nil)
	_, err = orch.RunCycle(ctx)
	assert.True(t, IsStorageError(err))
}

type cancellingNotifier struct {
	cancel context.CancelFunc
}

func (n cancellingNotifier) Name() string { return "pager" }

func (n cancellingNotifier) Send(ctx context.Context, a EvaluatedAlert) error {
	n.cancel()
	return ctx.Err()
}

func TestCancelledCycleMarksSendsInterrupted(t *testing.T) {
	h := newHarness(t)
	h.addAlert(t, "a1")
	h.addPriceThreshold(t)
	h.source.set("a1", 120)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := NewOrchestrator(h.store,
		NewEnricher(h.source, 1, time.Second, nil, nil),
		NewTypeRouter().Register(models.NotificationSMS, cancellingNotifier{cancel: cancel}, h.notifier),
		WithClock(h.clock.Now),
	)

	report, err := orch.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))
	assert.False(t, IsStorageError(err))
	assert.Equal(t, 1, report.Sent, "the started send completes")
	assert.Equal(t, 1, report.Interrupted)
	assert.Equal(t, 0, h.notifier.count())

	notifies := h.logs(t, models.PhaseNotify)
	require.Len(t, notifies, 2)
	assert.Equal(t, "sent", notifies[0].Message)
	assert.Equal(t, models.LogWarn, notifies[1].Level)
	assert.Equal(t, "interrupted", notifies[1].Message)

	state := h.state(t, "a1")
	assert.Equal(t, models.LevelHigh, state.Level)
	assert.Equal(t, models.LevelHigh, state.NotifiedLevel)
}
