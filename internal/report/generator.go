package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/template"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/notify"
	"github.com/riskeye/internal/repository"
)

type ReportData struct {
	StartTime     time.Time
	EndTime       time.Time
	Summary       LogSummary
	TopAlerts     []AlertSummary
	TransitionsBy []TimeSeriesPoint
}

type LogSummary struct {
	TotalEntries int
	ByPhase      map[models.Phase]int
	ByLevel      map[models.LogLevel]int
	Transitions  int
	Escalations  int
	NotifySent   int
	NotifyFailed int
	Unrouted     int
	Interrupted  int
	AlertErrors  int
	ConfigEvents int
}

type AlertSummary struct {
	AlertID      string
	Transitions  int
	NotifyFailed int
	Errors       int
	LastLevel    string
	LastSeen     time.Time
}

type TimeSeriesPoint struct {
	Timestamp time.Time
	Value     float64
}

// ReportGenerator summarises the audit log over a window.
type ReportGenerator struct {
	repo     repository.AlertRepository
	template *template.Template
}

func NewReportGenerator(repo repository.AlertRepository) *ReportGenerator {
	return &ReportGenerator{
		repo:     repo,
		template: template.Must(template.New("report").Funcs(template.FuncMap{"fmtTime": fmtTime}).Parse(reportTemplate)),
	}
}

func (g *ReportGenerator) Collect(ctx context.Context, startTime, endTime time.Time) (*ReportData, error) {
	logs, err := g.repo.ListLogs(ctx, repository.ListLogsParams{Since: &startTime, Asc: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}

	data := &ReportData{StartTime: startTime, EndTime: endTime}
	var inWindow []models.AlertLog
	for _, l := range logs {
		if l.Timestamp.After(endTime) {
			continue
		}
		inWindow = append(inWindow, l)
	}
	data.Summary = summarize(inWindow)
	data.TopAlerts = topAlerts(inWindow)
	data.TransitionsBy = transitionTrend(inWindow)
	return data, nil
}

type evalPayload struct {
	Level    string `json:"level"`
	Previous string `json:"previous"`
}

func decodeEval(l models.AlertLog) (evalPayload, bool) {
	var p evalPayload
	if len(l.Payload) == 0 {
		return p, false
	}
	if err := json.Unmarshal(l.Payload, &p); err != nil {
		return p, false
	}
	return p, true
}

func summarize(logs []models.AlertLog) LogSummary {
	s := LogSummary{
		ByPhase: make(map[models.Phase]int),
		ByLevel: make(map[models.LogLevel]int),
	}
	for _, l := range logs {
		s.TotalEntries++
		s.ByPhase[l.Phase]++
		s.ByLevel[l.Level]++

		switch l.Phase {
		case models.PhaseEval:
			s.Transitions++
			if p, ok := decodeEval(l); ok && models.Level(p.Level).Rank() > models.Level(p.Previous).Rank() {
				s.Escalations++
			}
		case models.PhaseNotify:
			switch l.Message {
			case "sent":
				s.NotifySent++
			case "failed":
				s.NotifyFailed++
			case "no route":
				s.Unrouted++
			case "interrupted":
				s.Interrupted++
			}
		case models.PhaseError:
			s.AlertErrors++
		case models.PhaseConfig:
			s.ConfigEvents++
		}
	}
	return s
}

func topAlerts(logs []models.AlertLog) []AlertSummary {
	byAlert := make(map[string]*AlertSummary)
	for _, l := range logs {
		if l.AlertID == nil {
			continue
		}
		as, ok := byAlert[*l.AlertID]
		if !ok {
			as = &AlertSummary{AlertID: *l.AlertID}
			byAlert[*l.AlertID] = as
		}
		as.LastSeen = l.Timestamp
		switch l.Phase {
		case models.PhaseEval:
			as.Transitions++
			if p, ok := decodeEval(l); ok {
				as.LastLevel = p.Level
			}
		case models.PhaseNotify:
			if l.Message == "failed" {
				as.NotifyFailed++
			}
		case models.PhaseError:
			as.Errors++
		}
	}

	var result []AlertSummary
	for _, as := range byAlert {
		if as.Transitions == 0 && as.NotifyFailed == 0 && as.Errors == 0 {
			continue
		}
		result = append(result, *as)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Transitions != result[j].Transitions {
			return result[i].Transitions > result[j].Transitions
		}
		return result[i].AlertID < result[j].AlertID
	})

	// Keep only top 10 alerts
	if len(result) > 10 {
		result = result[:10]
	}
	return result
}

func transitionTrend(logs []models.AlertLog) []TimeSeriesPoint {
	counts := make(map[time.Time]float64)
	for _, l := range logs {
		if l.Phase != models.PhaseEval {
			continue
		}
		counts[l.Timestamp.UTC().Truncate(time.Hour)]++
	}

	var times []time.Time
	for t := range counts {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool {
		return times[i].Before(times[j])
	})

	trend := make([]TimeSeriesPoint, 0, len(times))
	for _, t := range times {
		trend = append(trend, TimeSeriesPoint{Timestamp: t, Value: counts[t]})
	}
	return trend
}

func (g *ReportGenerator) Render(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.template.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateReport builds the report email for [startTime, endTime].
// Recipients are set by the caller.
func (g *ReportGenerator) GenerateReport(ctx context.Context, startTime, endTime time.Time) (*gomail.Message, error) {
	data, err := g.Collect(ctx, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("failed to collect report data: %w", err)
	}
	body, err := g.Render(data)
	if err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	m.SetHeader("Subject", fmt.Sprintf("RiskEye Report (%s - %s)",
		startTime.Format("2006-01-02 15:04"),
		endTime.Format("2006-01-02 15:04")))
	m.SetBody("text/plain", string(body))
	return m, nil
}

// Mailer sends the report for the trailing window on every run.
type Mailer struct {
	generator *ReportGenerator
	sender    notify.Sender
	from      string
	to        []string
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewMailer(generator *ReportGenerator, sender notify.Sender, from string, to []string, window time.Duration, logger *zap.Logger) *Mailer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{
		generator: generator,
		sender:    sender,
		from:      from,
		to:        to,
		window:    window,
		logger:    logger.Named("report"),
		now:       time.Now,
	}
}

func (m *Mailer) Send(ctx context.Context) error {
	if len(m.to) == 0 {
		return fmt.Errorf("no report recipients configured")
	}
	end := m.now()
	msg, err := m.generator.GenerateReport(ctx, end.Add(-m.window), end)
	if err != nil {
		return err
	}
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)

	if err := notify.SendMail(ctx, m.sender, msg); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	m.logger.Info("report sent", zap.Strings("to", m.to), zap.Duration("window", m.window))
	return nil
}

// Run is the cron entry point.
func (m *Mailer) Run(ctx context.Context) {
	if err := m.Send(ctx); err != nil {
		m.logger.Error("report failed", zap.Error(err))
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

const reportTemplate = `RiskEye Report
{{fmtTime .StartTime}} to {{fmtTime .EndTime}}

Audit entries:        {{.Summary.TotalEntries}}
Level transitions:    {{.Summary.Transitions}} ({{.Summary.Escalations}} escalations)
Notifications sent:   {{.Summary.NotifySent}}
Notifications failed: {{.Summary.NotifyFailed}}
Unrouted:             {{.Summary.Unrouted}}
Interrupted:          {{.Summary.Interrupted}}
Alert errors:         {{.Summary.AlertErrors}}
Config events:        {{.Summary.ConfigEvents}}
{{if .TopAlerts}}
Most active alerts
{{range .TopAlerts}}  {{.AlertID}}  transitions={{.Transitions}} failed_sends={{.NotifyFailed}} errors={{.Errors}} last_level={{.LastLevel}} last_seen={{fmtTime .LastSeen}}
{{end}}{{end}}{{if .TransitionsBy}}
Transitions per hour
{{range .TransitionsBy}}  {{fmtTime .Timestamp}}  {{.Value}}
{{end}}{{end}}`
