package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.AlertConfig{},
		&models.AlertState{},
		&models.Threshold{},
		&models.AlertLog{},
		&models.Setting{},
	)
}

// --- alert config / state -----------------------------------------------------

func (s *Store) AddConfig(ctx context.Context, cfg *models.AlertConfig) error {
	if cfg == nil {
		return errors.New("nil alert config")
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.AlertConfig{}).Where("id = ?", cfg.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateAlert, cfg.ID)
		}
		if err := tx.Omit(clause.Associations).Create(cfg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", repository.ErrDuplicateAlert, cfg.ID)
			}
			return err
		}
		state := models.NewAlertState(cfg.ID)
		state.UpdatedAt = cfg.CreatedAt
		if err := tx.Create(&state).Error; err != nil {
			return err
		}
		cfg.State = &state
		return nil
	})
}

func (s *Store) GetConfig(ctx context.Context, id string) (*models.AlertConfig, error) {
	var cfg models.AlertConfig
	err := s.db.WithContext(ctx).Preload("State").Where("id = ?", id).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// sqlite without foreign keys enabled would leave the state behind.
		if err := tx.Where("alert_id = ?", id).Delete(&models.AlertState{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.AlertConfig{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: alert %s", repository.ErrNotFound, id)
		}
		return nil
	})
}

func (s *Store) ActiveAlerts(ctx context.Context) ([]models.AlertConfig, error) {
	var items []models.AlertConfig
	if err := s.db.WithContext(ctx).Preload("State").Order("created_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetState(ctx context.Context, alertID string) (*models.AlertState, error) {
	var state models.AlertState
	err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) SaveState(ctx context.Context, state *models.AlertState) error {
	if state == nil {
		return errors.New("nil alert state")
	}
	state.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "alert_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"evaluated_value",
			"level",
			"notified_level",
			"last_triggered",
			"snoozed_until",
			"updated_at",
		}),
	}).Create(state).Error
}

func (s *Store) SaveEvaluation(ctx context.Context, state *models.AlertState, withSnooze bool) error {
	if state == nil {
		return errors.New("nil alert state")
	}
	state.UpdatedAt = time.Now().UTC()
	columns := map[string]any{
		"evaluated_value": state.EvaluatedValue,
		"level":           state.Level,
		"notified_level":  state.NotifiedLevel,
		"last_triggered":  state.LastTriggered,
		"updated_at":      state.UpdatedAt,
	}
	if withSnooze {
		columns["snoozed_until"] = state.SnoozedUntil
	}
	return s.updateState(ctx, state.AlertID, columns)
}

func (s *Store) SetSnooze(ctx context.Context, alertID string, until *time.Time) error {
	return s.updateState(ctx, alertID, map[string]any{
		"snoozed_until": until,
		"updated_at":    time.Now().UTC(),
	})
}

func (s *Store) updateState(ctx context.Context, alertID string, columns map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.AlertState{}).Where("alert_id = ?", alertID).Updates(columns)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: alert state %s", repository.ErrNotFound, alertID)
	}
	return nil
}

func (s *Store) ActiveStates(ctx context.Context) ([]models.AlertState, error) {
	var items []models.AlertState
	if err := s.db.WithContext(ctx).Order("alert_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- thresholds ---------------------------------------------------------------

func (s *Store) AddThreshold(ctx context.Context, t *models.Threshold) error {
	if t == nil {
		return errors.New("nil threshold")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.LastModified.IsZero() {
		t.LastModified = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) ThresholdsFor(ctx context.Context, alertType, alertClass string, cond models.Condition) (*models.Threshold, error) {
	var t models.Threshold
	err := s.db.WithContext(ctx).
		Where("alert_type = ? AND alert_class = ? AND condition = ? AND enabled = ?", alertType, alertClass, cond, true).
		Order("last_modified desc").
		Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListThresholds(ctx context.Context) ([]models.Threshold, error) {
	var items []models.Threshold
	if err := s.db.WithContext(ctx).Order("alert_type asc, alert_class asc, last_modified desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- audit log ----------------------------------------------------------------

func (s *Store) AppendLog(ctx context.Context, entry *models.AlertLog) error {
	if entry == nil {
		return errors.New("nil log entry")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) ListLogs(ctx context.Context, params repository.ListLogsParams) ([]models.AlertLog, error) {
	query := s.db.WithContext(ctx).Model(&models.AlertLog{})
	if params.AlertID != nil {
		query = query.Where("alert_id = ?", *params.AlertID)
	}
	if params.Phase != nil {
		query = query.Where("phase = ?", *params.Phase)
	}
	if params.Level != nil {
		query = query.Where("level = ?", *params.Level)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("timestamp >= ?", *params.Since)
	}
	if params.Asc {
		query = query.Order("timestamp asc")
	} else {
		query = query.Order("timestamp desc")
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}
	var items []models.AlertLog
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- settings -----------------------------------------------------------------

func (s *Store) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var item models.Setting
	err := s.db.WithContext(ctx).Where(&models.Setting{Key: key}).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSettings(ctx context.Context, items []models.Setting, beforeCommit func() error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for i := range items {
			items[i].UpdatedAt = now
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&items[i]).Error; err != nil {
				return err
			}
		}
		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})
}
