package orders

import (
	"time"

	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/google/uuid"
)

// CreateOrderResult is returned by CreateAndAllocate.
type CreateOrderResult struct {
	Order      *models.Order
	Allocation allocation.Result
}

// ReservationDTO shows where a line's units are held.
type ReservationDTO struct {
	ID            uuid.UUID `json:"id"`
	WarehouseID   uuid.UUID `json:"warehouseId"`
	WarehouseCode string    `json:"warehouseCode,omitempty"`
	Quantity      int       `json:"quantity"`
}

// OrderLineDTO is the public shape of one order line.
type OrderLineDTO struct {
	ID                uuid.UUID        `json:"id"`
	Position          int              `json:"position"`
	SKU               string           `json:"sku"`
	RequestedQuantity int              `json:"requestedQuantity"`
	ReservedQuantity  int              `json:"reservedQuantity"`
	MissingQuantity   int              `json:"missingQuantity"`
	Reservations      []ReservationDTO `json:"reservations"`
}

// OrderDTO is the public shape of an order.
type OrderDTO struct {
	ID         uuid.UUID         `json:"id"`
	ClientID   uuid.UUID         `json:"clientId"`
	Status     enums.OrderStatus `json:"status"`
	Editable   bool              `json:"editable"`
	Lines      []OrderLineDTO    `json:"lines"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	ShippedAt  *time.Time        `json:"shippedAt,omitempty"`
	CanceledAt *time.Time        `json:"canceledAt,omitempty"`
}

// CreateOrderResponse is the body returned when an order is created.
type CreateOrderResponse struct {
	Order      OrderDTO          `json:"order"`
	Allocation allocation.Result `json:"allocation"`
}

// NewOrderDTO flattens the order graph for JSON responses.
func NewOrderDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:         order.ID,
		ClientID:   order.ClientID,
		Status:     order.Status,
		Editable:   order.IsEditable(),
		Lines:      make([]OrderLineDTO, 0, len(order.Lines)),
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
		ShippedAt:  order.ShippedAt,
		CanceledAt: order.CanceledAt,
	}
	for _, line := range order.Lines {
		lineDTO := OrderLineDTO{
			ID:                line.ID,
			Position:          line.Position,
			SKU:               line.SKU(),
			RequestedQuantity: line.RequestedQuantity,
			ReservedQuantity:  line.ReservedQuantity(),
			MissingQuantity:   line.MissingQuantity(),
			Reservations:      make([]ReservationDTO, 0, len(line.Reservations)),
		}
		for _, res := range line.Reservations {
			resDTO := ReservationDTO{ID: res.ID, Quantity: res.Quantity}
			if res.Stock != nil {
				resDTO.WarehouseID = res.Stock.WarehouseID
				if res.Stock.Warehouse != nil {
					resDTO.WarehouseCode = res.Stock.Warehouse.Code
				}
			}
			lineDTO.Reservations = append(lineDTO.Reservations, resDTO)
		}
		dto.Lines = append(dto.Lines, lineDTO)
	}
	return dto
}

// NewCreateOrderResponse pairs the order DTO with its allocation result.
func NewCreateOrderResponse(result *CreateOrderResult) CreateOrderResponse {
	return CreateOrderResponse{
		Order:      NewOrderDTO(result.Order),
		Allocation: result.Allocation,
	}
}
