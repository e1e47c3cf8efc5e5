package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/gomail.v2"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/models"
)

func sampleAlert() alert.EvaluatedAlert {
	return alert.EvaluatedAlert{
		Config: models.AlertConfig{
			ID:               "a1",
			AlertType:        "Price",
			AlertClass:       "Position",
			Condition:        models.ConditionAbove,
			NotificationType: models.NotificationSMS,
		},
		State:    models.AlertState{AlertID: "a1", Level: models.LevelHigh},
		Previous: models.LevelNormal,
		Value:    120,
		Bands:    alert.Bands{Low: 50, Medium: 75, High: 100},
		Message:  "Alert a1: Price/Position is 120.00 level HIGH",
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("sms", srv.URL, nil)
	require.NoError(t, n.Send(context.Background(), sampleAlert()))
	assert.Equal(t, "sms", n.Name())
	assert.Equal(t, "a1", got.AlertID)
	assert.Equal(t, "HIGH", got.Level)
	assert.Equal(t, "NORMAL", got.Previous)
	assert.Equal(t, 120.0, got.Value)
}

func TestWebhookNotifierFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier("voice", srv.URL, nil).Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = NewWebhookNotifier("voice", slow.URL, nil).Send(ctx, sampleAlert())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSlackWebhook(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier("", srv.URL, "#alerts", "riskeye")
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), sampleAlert()))

	assert.Equal(t, "#alerts", body["channel"])
	assert.Equal(t, ":red_circle:", body["icon_emoji"])
	attachments, ok := body["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	assert.Equal(t, "#FF0000", attachments[0].(map[string]any)["color"])
}

func TestSlackWebAPI(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier("xoxb-test", "", "C1", "riskeye", WithSlackAPIURL(srv.URL+"/"))
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), sampleAlert()))
	assert.Equal(t, "C1", form.Get("channel"))
	assert.Contains(t, form.Get("attachments"), "RiskEye Alert")
}

func TestSlackRequiresDestination(t *testing.T) {
	_, err := NewSlackNotifier("", "", "#alerts", "riskeye")
	assert.Error(t, err)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*gomail.Message
	err  error
	wait time.Duration
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	time.Sleep(f.wait)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewEmailNotifierWithSender(sender, "bot@example.com", []string{"ops@example.com"})
	require.NoError(t, n.Send(context.Background(), sampleAlert()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"RiskEye Alert: Price HIGH"}, sender.sent[0].GetHeader("Subject"))

	sender.err = errors.New("535 auth failed")
	assert.Error(t, n.Send(context.Background(), sampleAlert()))
}

func TestEmailNotifierHonoursContext(t *testing.T) {
	n := NewEmailNotifierWithSender(&fakeSender{wait: time.Second}, "bot@example.com", []string{"ops@example.com"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Send(ctx, sampleAlert())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w)
	require.NoError(t, n.Send(context.Background(), sampleAlert()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "a1", string(w.msgs[0].Key))

	var change LevelChange
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &change))
	assert.Equal(t, "HIGH", change.Level)
	assert.Equal(t, "NORMAL", change.Previous)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))
	require.NoError(t, n.Send(context.Background(), sampleAlert()))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "system", entry.LoggerName)
	assert.Equal(t, "HIGH", entry.ContextMap()["level"])
}
