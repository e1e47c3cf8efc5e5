package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting is a key/value row holding a serialized JSON document.
type Setting struct {
	Key       string         `json:"key" gorm:"primaryKey;type:varchar(128)"`
	Value     datatypes.JSON `json:"value" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Setting) TableName() string {
	return "config_settings"
}
