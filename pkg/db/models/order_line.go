package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderLine requests a quantity of one product. The reserved quantity is the
// sum of the line's reservations and is not stored.
type OrderLine struct {
	ID                uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID     `gorm:"column:order_id;type:uuid;not null;index"`
	Position          int           `gorm:"column:position;not null"`
	ProductID         uuid.UUID     `gorm:"column:product_id;type:uuid;not null;index"`
	Product           *Product      `gorm:"foreignKey:ProductID"`
	RequestedQuantity int           `gorm:"column:requested_quantity;not null"`
	Reservations      []Reservation `gorm:"foreignKey:OrderLineID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time     `gorm:"column:created_at;autoCreateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}

func (l OrderLine) ReservedQuantity() int {
	total := 0
	for _, r := range l.Reservations {
		total += r.Quantity
	}
	return total
}

func (l OrderLine) MissingQuantity() int {
	missing := l.RequestedQuantity - l.ReservedQuantity()
	if missing < 0 {
		return 0
	}
	return missing
}

func (l OrderLine) IsFullyReserved() bool {
	return l.ReservedQuantity() >= l.RequestedQuantity
}

// SKU returns the product SKU when the product is loaded.
func (l OrderLine) SKU() string {
	if l.Product == nil {
		return ""
	}
	return l.Product.SKU
}
