package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Threshold rows are append-only. The latest enabled row for a
// (alert_type, alert_class, condition) key is the current one.
type Threshold struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AlertType    string    `json:"alert_type" gorm:"not null;index:idx_threshold_key" validate:"required"`
	AlertClass   string    `json:"alert_class" gorm:"not null;index:idx_threshold_key" validate:"required"`
	MetricKey    string    `json:"metric_key" gorm:"not null"`
	Condition    Condition `json:"condition" gorm:"not null;index:idx_threshold_key" validate:"oneof=ABOVE BELOW"`
	Low          float64   `json:"low" gorm:"not null" validate:"gt=0"`
	Medium       float64   `json:"medium" gorm:"not null" validate:"gt=0"`
	High         float64   `json:"high" gorm:"not null" validate:"gt=0"`
	Enabled      bool      `json:"enabled" gorm:"not null"`
	LastModified time.Time `json:"last_modified" gorm:"not null;index"`
}

func (Threshold) TableName() string {
	return "alert_threshold"
}

func (t *Threshold) Validate() error {
	return validate.Struct(t)
}
