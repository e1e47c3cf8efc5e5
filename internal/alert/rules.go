package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
)

// ThresholdManager provisions alerts and the banded thresholds they are
// evaluated against.
type ThresholdManager struct {
	repo   repository.Repository
	logger *zap.Logger
}

func NewThresholdManager(repo repository.Repository, logger *zap.Logger) *ThresholdManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThresholdManager{repo: repo, logger: logger.Named("thresholds")}
}

func checkThreshold(t *models.Threshold) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	return ValidateBands(t.Condition, BandsOf(t))
}

// AddThreshold appends a threshold row. The new row supersedes older rows
// for the same key.
func (m *ThresholdManager) AddThreshold(ctx context.Context, t *models.Threshold) error {
	if err := checkThreshold(t); err != nil {
		return err
	}
	if err := m.repo.AddThreshold(ctx, t); err != nil {
		return fmt.Errorf("failed to add threshold: %w", err)
	}
	m.logger.Info("threshold added",
		zap.String("id", t.ID),
		zap.String("alert_type", t.AlertType),
		zap.String("alert_class", t.AlertClass),
		zap.String("condition", string(t.Condition)),
	)
	return nil
}

func (m *ThresholdManager) ListThresholds(ctx context.Context) ([]models.Threshold, error) {
	return m.repo.ListThresholds(ctx)
}

// ProvisionAlert creates an alert with its NORMAL state. A missing id is
// generated.
func (m *ThresholdManager) ProvisionAlert(ctx context.Context, cfg *models.AlertConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	if err := m.repo.AddConfig(ctx, cfg); err != nil {
		return err
	}
	m.logger.Info("alert provisioned",
		zap.String("id", cfg.ID),
		zap.String("alert_type", cfg.AlertType),
		zap.String("alert_class", cfg.AlertClass),
	)
	return nil
}

// DefaultThresholds are the rows written by CreateDefaultThresholds.
func DefaultThresholds() []models.Threshold {
	return []models.Threshold{
		{
			AlertType:  "LiquidationDistance",
			AlertClass: "Position",
			MetricKey:  "liquidation_distance",
			Condition:  models.ConditionBelow,
			Low:        5,
			Medium:     3,
			High:       1,
			Enabled:    true,
		},
		{
			AlertType:  "Profit",
			AlertClass: "Portfolio",
			MetricKey:  "pnl_after_fees_usd",
			Condition:  models.ConditionAbove,
			Low:        10,
			Medium:     25,
			High:       50,
			Enabled:    true,
		},
	}
}

// CreateDefaultThresholds seeds the default rows whose key has no enabled
// threshold yet. It returns the number of rows written.
func (m *ThresholdManager) CreateDefaultThresholds(ctx context.Context) (int, error) {
	created := 0
	err := m.repo.InTx(ctx, func(tx repository.Repository) error {
		for _, t := range DefaultThresholds() {
			existing, err := tx.ThresholdsFor(ctx, t.AlertType, t.AlertClass, t.Condition)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			row := t
			if err := tx.AddThreshold(ctx, &row); err != nil {
				return fmt.Errorf("failed to create default threshold %s/%s: %w", t.AlertType, t.AlertClass, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// ImportThresholdsFromFile appends every threshold in a JSON array file.
// Either all rows are written or none.
func (m *ThresholdManager) ImportThresholdsFromFile(ctx context.Context, filename string) (int, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var items []models.Threshold
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("failed to parse thresholds: %w", err)
	}
	for i := range items {
		if err := checkThreshold(&items[i]); err != nil {
			return 0, fmt.Errorf("threshold %d: %w", i, err)
		}
	}

	err = m.repo.InTx(ctx, func(tx repository.Repository) error {
		for i := range items {
			row := items[i]
			row.ID = ""
			row.LastModified = time.Time{}
			if err := tx.AddThreshold(ctx, &row); err != nil {
				return fmt.Errorf("failed to import threshold %s/%s: %w", row.AlertType, row.AlertClass, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (m *ThresholdManager) ExportThresholdsToFile(ctx context.Context, filename string) (int, error) {
	items, err := m.repo.ListThresholds(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch thresholds: %w", err)
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal thresholds: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	return len(items), nil
}

// SimulationStep is one evaluation of a dry run.
type SimulationStep struct {
	Value      float64      `json:"value"`
	Level      models.Level `json:"level"`
	Transition bool         `json:"transition"`
}

// Simulate evaluates a sequence of values against the current threshold of
// the given key without touching any state.
func (m *ThresholdManager) Simulate(ctx context.Context, alertType, alertClass string, cond models.Condition, values []float64) ([]SimulationStep, error) {
	t, err := m.repo.ThresholdsFor(ctx, alertType, alertClass, models.Condition(strings.ToUpper(string(cond))))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: no enabled threshold for %s/%s/%s", repository.ErrNotFound, alertType, alertClass, cond)
	}
	return SimulateBands(t.Condition, BandsOf(t), values)
}

func SimulateBands(cond models.Condition, bands Bands, values []float64) ([]SimulationStep, error) {
	if err := ValidateBands(cond, bands); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("no values to simulate")
	}
	steps := make([]SimulationStep, 0, len(values))
	level := models.LevelNormal
	for _, v := range values {
		next, changed := Evaluate(bands, cond, level, v)
		steps = append(steps, SimulationStep{Value: v, Level: next, Transition: changed})
		level = next
	}
	return steps, nil
}
