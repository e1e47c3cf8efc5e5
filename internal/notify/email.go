package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/config"
)

// Sender delivers composed messages. *gomail.Dialer implements it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	sender    Sender
	from      string
	receivers []string
}

func NewEmailNotifier(cfg config.EmailConfig) (*EmailNotifier, error) {
	if cfg.SMTPHost == "" || len(cfg.ToReceivers) == 0 {
		return nil, errors.New("email: smtp host and receivers required")
	}
	return NewEmailNotifierWithSender(
		gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.From, cfg.Password),
		cfg.From,
		cfg.ToReceivers,
	), nil
}

func NewEmailNotifierWithSender(sender Sender, from string, receivers []string) *EmailNotifier {
	return &EmailNotifier{sender: sender, from: from, receivers: receivers}
}

func (e *EmailNotifier) Name() string {
	return "email"
}

func (e *EmailNotifier) Send(ctx context.Context, a alert.EvaluatedAlert) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.receivers...)
	m.SetHeader("Subject", fmt.Sprintf("RiskEye Alert: %s %s", a.Config.AlertType, a.State.Level))

	body := fmt.Sprintf(`Alert: %s
Type: %s
Class: %s
Position: %s
Level: %s → %s
Current Value: %.2f
Bands (%s): %g / %g / %g
Message: %s
Time: %s
`, a.Config.ID, a.Config.AlertType, a.Config.AlertClass, positionRef(a.Config),
		a.Previous, a.State.Level, a.Value,
		a.Config.Condition, a.Bands.Low, a.Bands.Medium, a.Bands.High,
		a.Message, time.Now().UTC().Format(time.RFC3339))
	m.SetBody("text/plain", body)

	return SendMail(ctx, e.sender, m)
}

// SendMail runs DialAndSend and gives up waiting when ctx ends.
func SendMail(ctx context.Context, sender Sender, m *gomail.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- sender.DialAndSend(m)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}
