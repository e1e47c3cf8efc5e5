package models

import (
	"time"
)

type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

type NotificationType string

const (
	NotificationSMS       NotificationType = "SMS"
	NotificationEmail     NotificationType = "EMAIL"
	NotificationWindows   NotificationType = "WINDOWS"
	NotificationPhoneCall NotificationType = "PHONECALL"
)

// Level is the severity of an alert, ordered NORMAL < LOW < MEDIUM < HIGH.
type Level string

const (
	LevelNormal Level = "NORMAL"
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Rank returns the position of the level in severity order.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	default:
		return 0
	}
}

// AlertConfig is created once by provisioning and never updated.
type AlertConfig struct {
	ID                  string           `json:"id" gorm:"primaryKey;type:varchar(64)" validate:"required,max=64"`
	Description         string           `json:"description"`
	AlertType           string           `json:"alert_type" gorm:"not null;index:idx_alert_config_kind" validate:"required"`
	AlertClass          string           `json:"alert_class" gorm:"not null;index:idx_alert_config_kind" validate:"required"`
	TriggerValue        float64          `json:"trigger_value" gorm:"not null" validate:"gt=0"`
	Condition           Condition        `json:"condition" gorm:"not null" validate:"oneof=ABOVE BELOW"`
	NotificationType    NotificationType `json:"notification_type" gorm:"not null" validate:"oneof=SMS EMAIL WINDOWS PHONECALL"`
	PositionReferenceID *string          `json:"position_reference_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	State               *AlertState      `json:"state,omitempty" gorm:"foreignKey:AlertID;references:ID;constraint:OnDelete:CASCADE"`
}

func (AlertConfig) TableName() string {
	return "alert_config"
}

func (c *AlertConfig) Validate() error {
	return validate.Struct(c)
}

// AlertState is the mutable companion of an AlertConfig. Level is a cache of
// the last evaluation and is only written by the evaluator.
type AlertState struct {
	AlertID        string     `json:"alert_id" gorm:"primaryKey;type:varchar(64)"`
	EvaluatedValue *float64   `json:"evaluated_value"`
	Level          Level      `json:"level" gorm:"not null;default:NORMAL"`
	NotifiedLevel  Level      `json:"notified_level" gorm:"not null;default:NORMAL"`
	LastTriggered  *time.Time `json:"last_triggered"`
	SnoozedUntil   *time.Time `json:"snoozed_until"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (AlertState) TableName() string {
	return "alert_state"
}

// NewAlertState returns the NORMAL state created alongside a config.
func NewAlertState(alertID string) AlertState {
	return AlertState{
		AlertID:       alertID,
		Level:         LevelNormal,
		NotifiedLevel: LevelNormal,
	}
}

// Snoozed reports whether dispatch is suppressed at now.
func (s *AlertState) Snoozed(now time.Time) bool {
	return s.SnoozedUntil != nil && now.Before(*s.SnoozedUntil)
}
