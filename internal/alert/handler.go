package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
)

// SnoozeHandler applies operator snooze changes. Each change is stored with
// a CONFIG audit entry in the same transaction.
type SnoozeHandler struct {
	repo   repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewSnoozeHandler(repo repository.Repository, logger *zap.Logger) *SnoozeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnoozeHandler{
		repo:   repo,
		logger: logger.Named("snooze"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Snooze suppresses dispatch for the alert for d. Evaluation continues.
func (h *SnoozeHandler) Snooze(ctx context.Context, alertID string, d time.Duration) (*models.AlertState, error) {
	if d <= 0 {
		return nil, errors.New("snooze duration must be positive")
	}
	until := h.now().Add(d)
	return h.update(ctx, alertID, &until, fmt.Sprintf("snoozed until %s", until.Format(time.RFC3339)))
}

// Unsnooze clears the alert's snooze window. An owed notification goes out
// on the next cycle.
func (h *SnoozeHandler) Unsnooze(ctx context.Context, alertID string) (*models.AlertState, error) {
	return h.update(ctx, alertID, nil, "snooze cleared")
}

// UnsnoozeSection clears every active snooze of alerts mapped to a config
// section such as "liquid". It returns the number of alerts changed.
func (h *SnoozeHandler) UnsnoozeSection(ctx context.Context, section string) (int, error) {
	alerts, err := h.repo.ActiveAlerts(ctx)
	if err != nil {
		return 0, err
	}
	now := h.now()
	count := 0
	for _, a := range alerts {
		if SectionFor(a.AlertType) != section || a.State == nil || !a.State.Snoozed(now) {
			continue
		}
		if _, err := h.Unsnooze(ctx, a.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (h *SnoozeHandler) update(ctx context.Context, alertID string, until *time.Time, msg string) (*models.AlertState, error) {
	var out *models.AlertState
	err := h.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.SetSnooze(ctx, alertID, until); err != nil {
			return err
		}
		state, err := tx.GetState(ctx, alertID)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("%w: alert %s", repository.ErrNotFound, alertID)
		}

		payload, err := json.Marshal(map[string]any{"snoozed_until": until})
		if err != nil {
			return err
		}
		id := alertID
		if err := tx.AppendLog(ctx, &models.AlertLog{
			AlertID: &id,
			Phase:   models.PhaseConfig,
			Level:   models.LogInfo,
			Message: msg,
			Payload: datatypes.JSON(payload),
		}); err != nil {
			return err
		}
		out = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info(msg, zap.String("alert_id", alertID))
	return out, nil
}
