package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/riskeye/internal/models"
)

var ErrInvalidBands = errors.New("invalid threshold bands")

// Bands are the three boundaries of a threshold. For BELOW conditions High
// is the smallest, most dangerous boundary.
type Bands struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

func BandsOf(t *models.Threshold) Bands {
	return Bands{Low: t.Low, Medium: t.Medium, High: t.High}
}

// TransitionEvent is produced when an evaluation changes an alert's level.
type TransitionEvent struct {
	AlertID   string       `json:"alert_id"`
	Previous  models.Level `json:"previous"`
	Level     models.Level `json:"level"`
	Value     float64      `json:"value"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// Evaluate maps a metric value onto a level. It is pure; the level is
// recomputed from scratch on every call.
func Evaluate(bands Bands, cond models.Condition, previous models.Level, value float64) (models.Level, bool) {
	level := models.LevelNormal
	switch cond {
	case models.ConditionBelow:
		switch {
		case value <= bands.High:
			level = models.LevelHigh
		case value <= bands.Medium:
			level = models.LevelMedium
		case value <= bands.Low:
			level = models.LevelLow
		}
	default:
		switch {
		case value >= bands.High:
			level = models.LevelHigh
		case value >= bands.Medium:
			level = models.LevelMedium
		case value >= bands.Low:
			level = models.LevelLow
		}
	}
	return level, level != normalizeLevel(previous)
}

func normalizeLevel(l models.Level) models.Level {
	if l == "" {
		return models.LevelNormal
	}
	return l
}

// ValidateBands checks that the bands grow in the direction of the
// condition: low <= medium <= high for ABOVE, high <= medium <= low for BELOW.
func ValidateBands(cond models.Condition, b Bands) error {
	if b.Low <= 0 || b.Medium <= 0 || b.High <= 0 {
		return fmt.Errorf("%w: bands must be positive (low=%g medium=%g high=%g)", ErrInvalidBands, b.Low, b.Medium, b.High)
	}
	switch cond {
	case models.ConditionAbove:
		if !(b.Low <= b.Medium && b.Medium <= b.High) {
			return fmt.Errorf("%w: ABOVE requires low <= medium <= high (got %g/%g/%g)", ErrInvalidBands, b.Low, b.Medium, b.High)
		}
	case models.ConditionBelow:
		if !(b.High <= b.Medium && b.Medium <= b.Low) {
			return fmt.Errorf("%w: BELOW requires high <= medium <= low (got %g/%g/%g)", ErrInvalidBands, b.Low, b.Medium, b.High)
		}
	default:
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidBands, cond)
	}
	return nil
}

// Apply evaluates value against bands and returns the updated state. The
// evaluated value is always recorded; an event is returned only when the
// level changed.
func Apply(cfg *models.AlertConfig, state models.AlertState, bands Bands, value float64, now time.Time) (models.AlertState, *TransitionEvent) {
	previous := normalizeLevel(state.Level)
	level, changed := Evaluate(bands, cfg.Condition, previous, value)

	v := value
	state.AlertID = cfg.ID
	state.EvaluatedValue = &v
	state.Level = level
	state.NotifiedLevel = normalizeLevel(state.NotifiedLevel)
	if !changed {
		return state, nil
	}

	ts := now
	state.LastTriggered = &ts
	return state, &TransitionEvent{
		AlertID:   cfg.ID,
		Previous:  previous,
		Level:     level,
		Value:     value,
		Message:   fmt.Sprintf("Level changed %s → %s", previous, level),
		Timestamp: now,
	}
}

func formatAlertMessage(cfg *models.AlertConfig, level models.Level, value float64, bands Bands) string {
	return fmt.Sprintf("Alert %s: %s/%s is %.2f (%s %g/%g/%g) level %s",
		cfg.ID,
		cfg.AlertType,
		cfg.AlertClass,
		value,
		cfg.Condition,
		bands.Low,
		bands.Medium,
		bands.High,
		level)
}
