package models

import (
	"time"

	"github.com/google/uuid"
)

// Medicine is the shared catalog entry that shop inventory rows point at.
type Medicine struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	Strength     *string   `gorm:"column:strength"`
	Form         *string   `gorm:"column:form"`
	Manufacturer *string   `gorm:"column:manufacturer"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
