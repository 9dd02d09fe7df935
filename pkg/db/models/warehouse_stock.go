package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WarehouseStock holds the physical and reserved quantities of one product in
// one warehouse. ReservedQuantity never exceeds Quantity.
type WarehouseStock struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	WarehouseID      uuid.UUID  `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_warehouse_stocks_warehouse_product,priority:1"`
	ProductID        uuid.UUID  `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_warehouse_stocks_warehouse_product,priority:2;index"`
	Warehouse        *Warehouse `gorm:"foreignKey:WarehouseID"`
	Product          *Product   `gorm:"foreignKey:ProductID"`
	Quantity         int        `gorm:"column:quantity;not null;default:0"`
	ReservedQuantity int        `gorm:"column:reserved_quantity;not null;default:0"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *WarehouseStock) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

// Available is the quantity not yet held by a reservation.
func (s WarehouseStock) Available() int {
	return s.Quantity - s.ReservedQuantity
}
