package report

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
	"gorm.io/datatypes"

	"github.com/riskeye/internal/config"
	"github.com/riskeye/internal/database"
	"github.com/riskeye/internal/models"
	gormrepository "github.com/riskeye/internal/repository/gorm"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *gormrepository.Store {
	t.Helper()
	db, err := database.Open(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "riskeye.db")})
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

func appendLog(t *testing.T, store *gormrepository.Store, alertID string, phase models.Phase, level models.LogLevel, msg, payload string, at time.Time) {
	t.Helper()
	entry := &models.AlertLog{Phase: phase, Level: level, Message: msg, Timestamp: at}
	if alertID != "" {
		entry.AlertID = &alertID
	}
	if payload != "" {
		entry.Payload = datatypes.JSON(payload)
	}
	require.NoError(t, store.AppendLog(context.Background(), entry))
}

func seed(t *testing.T) *gormrepository.Store {
	store := newStore(t)
	appendLog(t, store, "a1", models.PhaseEval, models.LogInfo, "Level changed NORMAL → HIGH", `{"level":"HIGH","previous":"NORMAL","value":120}`, base.Add(5*time.Minute))
	appendLog(t, store, "a1", models.PhaseNotify, models.LogInfo, "sent", `{"notifier":"sms"}`, base.Add(6*time.Minute))
	appendLog(t, store, "a1", models.PhaseEval, models.LogInfo, "Level changed HIGH → LOW", `{"level":"LOW","previous":"HIGH","value":60}`, base.Add(70*time.Minute))
	appendLog(t, store, "a2", models.PhaseNotify, models.LogError, "failed", `{"notifier":"email"}`, base.Add(10*time.Minute))
	appendLog(t, store, "a3", models.PhaseError, models.LogError, "missing threshold", "", base.Add(11*time.Minute))
	appendLog(t, store, "", models.PhaseConfig, models.LogInfo, "monitor config changed", "", base.Add(12*time.Minute))
	// outside the window
	appendLog(t, store, "a1", models.PhaseEval, models.LogInfo, "Level changed LOW → MEDIUM", `{"level":"MEDIUM","previous":"LOW","value":80}`, base.Add(5*time.Hour))
	return store
}

func TestCollect(t *testing.T) {
	g := NewReportGenerator(seed(t))
	data, err := g.Collect(context.Background(), base, base.Add(2*time.Hour))
	require.NoError(t, err)

	s := data.Summary
	assert.Equal(t, 6, s.TotalEntries)
	assert.Equal(t, 2, s.Transitions)
	assert.Equal(t, 1, s.Escalations)
	assert.Equal(t, 1, s.NotifySent)
	assert.Equal(t, 1, s.NotifyFailed)
	assert.Equal(t, 1, s.AlertErrors)
	assert.Equal(t, 1, s.ConfigEvents)
	assert.Equal(t, 2, s.ByPhase[models.PhaseEval])
	assert.Equal(t, 2, s.ByLevel[models.LogError])

	require.Len(t, data.TopAlerts, 3)
	assert.Equal(t, "a1", data.TopAlerts[0].AlertID)
	assert.Equal(t, 2, data.TopAlerts[0].Transitions)
	assert.Equal(t, "LOW", data.TopAlerts[0].LastLevel)

	require.Len(t, data.TransitionsBy, 2)
	assert.Equal(t, base, data.TransitionsBy[0].Timestamp)
	assert.Equal(t, 1.0, data.TransitionsBy[0].Value)
}

func TestGenerateReport(t *testing.T) {
	g := NewReportGenerator(seed(t))
	m, err := g.GenerateReport(context.Background(), base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"RiskEye Report (2024-05-01 10:00 - 2024-05-01 12:00)"}, m.GetHeader("Subject"))
}

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestMailer(t *testing.T) {
	g := NewReportGenerator(seed(t))
	sender := &fakeSender{}
	mailer := NewMailer(g, sender, "bot@example.com", []string{"ops@example.com"}, 2*time.Hour, nil)
	mailer.now = func() time.Time { return base.Add(2 * time.Hour) }

	require.NoError(t, mailer.Send(context.Background()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, sender.sent[0].GetHeader("To"))

	var body strings.Builder
	_, err := sender.sent[0].WriteTo(&body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "Most active alerts")

	sender.err = errors.New("dial tcp: refused")
	assert.Error(t, mailer.Send(context.Background()))

	empty := NewMailer(g, sender, "bot@example.com", nil, time.Hour, nil)
	assert.Error(t, empty.Send(context.Background()))
}
