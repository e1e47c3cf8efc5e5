package repository

import (
	"context"
	"errors"
	"time"

	"github.com/riskeye/internal/models"
)

var (
	ErrDuplicateAlert = errors.New("alert already exists")
	ErrNotFound       = errors.New("record not found")
)

// AlertRepository persists alert definitions, their state, banded thresholds
// and the audit log. Implementations surface storage errors and never retry.
type AlertRepository interface {
	EnsureSchema(ctx context.Context) error

	AddConfig(ctx context.Context, cfg *models.AlertConfig) error
	GetConfig(ctx context.Context, id string) (*models.AlertConfig, error)
	DeleteConfig(ctx context.Context, id string) error
	ActiveAlerts(ctx context.Context) ([]models.AlertConfig, error)

	GetState(ctx context.Context, alertID string) (*models.AlertState, error)
	SaveState(ctx context.Context, state *models.AlertState) error
	// SaveEvaluation writes the evaluator's columns of an existing state row.
	// snoozed_until is only written when withSnooze is set. A missing row
	// returns ErrNotFound.
	SaveEvaluation(ctx context.Context, state *models.AlertState, withSnooze bool) error
	// SetSnooze writes snoozed_until alone. A missing row returns ErrNotFound.
	SetSnooze(ctx context.Context, alertID string, until *time.Time) error
	ActiveStates(ctx context.Context) ([]models.AlertState, error)

	AddThreshold(ctx context.Context, t *models.Threshold) error
	ThresholdsFor(ctx context.Context, alertType, alertClass string, cond models.Condition) (*models.Threshold, error)
	ListThresholds(ctx context.Context) ([]models.Threshold, error)

	AppendLog(ctx context.Context, entry *models.AlertLog) error
	ListLogs(ctx context.Context, params ListLogsParams) ([]models.AlertLog, error)
}

// SettingRepository stores serialized documents under string keys.
type SettingRepository interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	// SaveSettings upserts all items in one transaction. beforeCommit runs
	// inside the transaction; an error from it rolls everything back.
	SaveSettings(ctx context.Context, items []models.Setting, beforeCommit func() error) error
}

type Repository interface {
	AlertRepository
	SettingRepository

	InTx(ctx context.Context, fn func(tx Repository) error) error
}

type ListLogsParams struct {
	AlertID *string
	Phase   *models.Phase
	Level   *models.LogLevel
	Since   *time.Time
	Limit   int
	Asc     bool
}
