package models

import (
	"time"

	"gorm.io/datatypes"
)

type Phase string

const (
	PhaseConfig Phase = "CONFIG"
	PhaseEnrich Phase = "ENRICH"
	PhaseEval   Phase = "EVAL"
	PhaseNotify Phase = "NOTIFY"
	PhaseError  Phase = "ERROR"
)

type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// AlertLog is the append-only audit trail. AlertID is nil for
// process-wide CONFIG entries.
type AlertLog struct {
	ID        string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AlertID   *string        `json:"alert_id,omitempty" gorm:"index;type:varchar(64)"`
	Phase     Phase          `json:"phase" gorm:"not null;index"`
	Level     LogLevel       `json:"level" gorm:"not null"`
	Message   string         `json:"message"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp" gorm:"not null;index"`
}

func (AlertLog) TableName() string {
	return "alert_log"
}
