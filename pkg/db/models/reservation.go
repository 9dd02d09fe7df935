package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reservation commits Quantity units of one stock row to one order line. Rows
// are inserted by allocation, deleted only when the order is canceled and never
// updated. After shipment they record which warehouses the units left from.
type Reservation struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderLineID      uuid.UUID       `gorm:"column:order_line_id;type:uuid;not null;index"`
	WarehouseStockID uuid.UUID       `gorm:"column:warehouse_stock_id;type:uuid;not null;index"`
	Stock            *WarehouseStock `gorm:"foreignKey:WarehouseStockID"`
	Quantity         int             `gorm:"column:quantity;not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (r *Reservation) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
