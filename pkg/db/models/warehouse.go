package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Warehouse is a physical stock location.
type Warehouse struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Code      string           `gorm:"column:code;not null;uniqueIndex"`
	Name      string           `gorm:"column:name;not null"`
	Location  *string          `gorm:"column:location"`
	Stocks    []WarehouseStock `gorm:"foreignKey:WarehouseID"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Warehouse) BeforeCreate(*gorm.DB) error {
	assignID(&w.ID)
	return nil
}
