package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/models"
)

// SlackNotifier posts alerts either with a bot token through the Web API or
// to an incoming webhook when no token is configured.
type SlackNotifier struct {
	client     *slack.Client
	apiURL     string
	webhookURL string
	channel    string
	username   string
}

type SlackOption func(*SlackNotifier)

// WithSlackAPIURL points the Web API client at another base URL.
func WithSlackAPIURL(url string) SlackOption {
	return func(s *SlackNotifier) { s.apiURL = url }
}

func NewSlackNotifier(token, webhookURL, channel, username string, opts ...SlackOption) (*SlackNotifier, error) {
	if token == "" && webhookURL == "" {
		return nil, errors.New("slack: token or webhook url required")
	}
	s := &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
	}
	for _, opt := range opts {
		opt(s)
	}
	if token != "" {
		var clientOpts []slack.Option
		if s.apiURL != "" {
			clientOpts = append(clientOpts, slack.OptionAPIURL(s.apiURL))
		}
		s.client = slack.New(token, clientOpts...)
	}
	return s, nil
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

func (s *SlackNotifier) Send(ctx context.Context, a alert.EvaluatedAlert) error {
	attachment := buildAttachment(a)

	if s.client != nil {
		_, _, err := s.client.PostMessageContext(ctx, s.channel,
			slack.MsgOptionAttachments(attachment),
			slack.MsgOptionUsername(s.username),
			slack.MsgOptionIconEmoji(levelEmoji(a.State.Level)),
		)
		if err != nil {
			return fmt.Errorf("failed to send slack message: %w", err)
		}
		return nil
	}

	msg := &slack.WebhookMessage{
		Channel:     s.channel,
		Username:    s.username,
		IconEmoji:   levelEmoji(a.State.Level),
		Attachments: []slack.Attachment{attachment},
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to send slack webhook: %w", err)
	}
	return nil
}

func buildAttachment(a alert.EvaluatedAlert) slack.Attachment {
	cfg := a.Config
	return slack.Attachment{
		Color: levelColor(a.State.Level),
		Title: fmt.Sprintf("RiskEye Alert: %s %s", cfg.AlertType, a.State.Level),
		Text:  a.Message,
		Fields: []slack.AttachmentField{
			{
				Title: "Alert",
				Value: cfg.ID,
				Short: true,
			},
			{
				Title: "Class",
				Value: cfg.AlertClass,
				Short: true,
			},
			{
				Title: "Level",
				Value: fmt.Sprintf("%s → %s", a.Previous, a.State.Level),
				Short: true,
			},
			{
				Title: "Value",
				Value: fmt.Sprintf("%.2f", a.Value),
				Short: true,
			},
			{
				Title: "Bands",
				Value: fmt.Sprintf("%s %g / %g / %g", cfg.Condition, a.Bands.Low, a.Bands.Medium, a.Bands.High),
				Short: true,
			},
			{
				Title: "Position",
				Value: positionRef(cfg),
				Short: true,
			},
		},
		Footer: "RiskEye Alert System",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
}

func positionRef(cfg models.AlertConfig) string {
	if cfg.PositionReferenceID == nil || *cfg.PositionReferenceID == "" {
		return "-"
	}
	return *cfg.PositionReferenceID
}

func levelColor(level models.Level) string {
	switch level {
	case models.LevelHigh:
		return "#FF0000"
	case models.LevelMedium:
		return "#FFA500"
	case models.LevelLow:
		return "#0000FF"
	default:
		return "#36A64F"
	}
}

func levelEmoji(level models.Level) string {
	switch level {
	case models.LevelHigh:
		return ":red_circle:"
	case models.LevelMedium:
		return ":warning:"
	case models.LevelLow:
		return ":information_source:"
	default:
		return ":white_check_mark:"
	}
}
