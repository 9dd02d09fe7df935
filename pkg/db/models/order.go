package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidOrderState is returned when a lifecycle action is not allowed from
// the order's current status.
var ErrInvalidOrderState = errors.New("invalid order state")

// Order is the aggregate of a client's requested lines. Its status is derived
// from reservations except for the explicit ship and cancel transitions.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ClientID   uuid.UUID         `gorm:"column:client_id;type:uuid;not null;index"`
	Status     enums.OrderStatus `gorm:"column:status;type:varchar(32);not null;default:'pending';index"`
	Lines      []OrderLine       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippedAt  *time.Time        `gorm:"column:shipped_at"`
	CanceledAt *time.Time        `gorm:"column:canceled_at"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// StateError carries the rejected transition for diagnostics.
type StateError struct {
	Action string
	Status enums.OrderStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s order in status %s", e.Action, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidOrderState
}

// IsFullyReserved is true when the order has lines and every line is covered.
func (o *Order) IsFullyReserved() bool {
	if len(o.Lines) == 0 {
		return false
	}
	for _, line := range o.Lines {
		if !line.IsFullyReserved() {
			return false
		}
	}
	return true
}

// IsPartiallyReserved is true when some stock is held but some line still misses units.
func (o *Order) IsPartiallyReserved() bool {
	anyReserved := false
	anyMissing := false
	for _, line := range o.Lines {
		if line.ReservedQuantity() > 0 {
			anyReserved = true
		}
		if !line.IsFullyReserved() {
			anyMissing = true
		}
	}
	return anyReserved && anyMissing
}

// UpdateStatusFromReservations recomputes the derived status. Terminal orders
// are left untouched. Reports whether the status changed.
func (o *Order) UpdateStatusFromReservations() bool {
	if o.Status.IsTerminal() {
		return false
	}
	next := enums.OrderStatusPending
	switch {
	case o.IsFullyReserved():
		next = enums.OrderStatusReserved
	case o.IsPartiallyReserved():
		next = enums.OrderStatusPartiallyReserved
	}
	changed := o.Status != next
	o.Status = next
	return changed
}

// Ship moves the order to shipped. Partially reserved orders may ship.
func (o *Order) Ship(now time.Time) error {
	if o.Status.IsTerminal() {
		return &StateError{Action: "ship", Status: o.Status}
	}
	o.Status = enums.OrderStatusShipped
	shipped := now.UTC()
	o.ShippedAt = &shipped
	return nil
}

// Cancel moves the order to canceled. Canceling a canceled order is a no-op.
func (o *Order) Cancel(now time.Time) error {
	switch o.Status {
	case enums.OrderStatusShipped:
		return &StateError{Action: "cancel", Status: o.Status}
	case enums.OrderStatusCanceled:
		return nil
	}
	o.Status = enums.OrderStatusCanceled
	canceled := now.UTC()
	o.CanceledAt = &canceled
	return nil
}

// IsEditable reports whether the order can still change.
func (o *Order) IsEditable() bool {
	return !o.Status.IsTerminal()
}

// ProductIDs returns the distinct product ids across the order's lines.
func (o *Order) ProductIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Lines))
	ids := make([]uuid.UUID, 0, len(o.Lines))
	for _, line := range o.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
