package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/riskeye/internal/alert"
)

// LogNotifier writes alerts to the process log. It backs WINDOWS
// notifications on hosts without a desktop.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("system")}
}

func (l *LogNotifier) Name() string {
	return "system"
}

func (l *LogNotifier) Send(ctx context.Context, a alert.EvaluatedAlert) error {
	l.logger.Warn(a.Message,
		zap.String("alert_id", a.Config.ID),
		zap.String("alert_type", a.Config.AlertType),
		zap.String("previous", string(a.Previous)),
		zap.String("level", string(a.State.Level)),
		zap.Float64("value", a.Value),
	)
	return nil
}
