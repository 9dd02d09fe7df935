package payloads

import (
	"time"

	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/google/uuid"
)

// ReservationLine summarizes what one order line holds after an allocation.
type ReservationLine struct {
	SKU               string `json:"sku"`
	RequestedQuantity int    `json:"requested_quantity"`
	ReservedQuantity  int    `json:"reserved_quantity"`
}

// OrderCreatedEvent is emitted when an order is created and first allocated.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	ClientID       uuid.UUID         `json:"client_id"`
	Status         enums.OrderStatus `json:"status"`
	FullyAllocated bool              `json:"fully_allocated"`
	WarehousesUsed int               `json:"warehouses_used"`
	MissingItems   map[string]int    `json:"missing_items"`
	Lines          []ReservationLine `json:"lines"`
}

// OrderReoptimizedEvent is emitted when reoptimization reserved more stock for an order.
type OrderReoptimizedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	ClientID       uuid.UUID         `json:"client_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Status         enums.OrderStatus `json:"status"`
	WarehousesUsed int               `json:"warehouses_used"`
	MissingItems   map[string]int    `json:"missing_items"`
}

// OrderShippedEvent reports the units consumed from stock when an order ships.
type OrderShippedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	ClientID      uuid.UUID         `json:"client_id"`
	ShippedAt     time.Time         `json:"shipped_at"`
	Lines         []ReservationLine `json:"lines"`
	ShippedInFull bool              `json:"shipped_in_full"`
}

// OrderCanceledEvent lists the products whose reservations were released.
type OrderCanceledEvent struct {
	OrderID         uuid.UUID         `json:"order_id"`
	ClientID        uuid.UUID         `json:"client_id"`
	PreviousStatus  enums.OrderStatus `json:"previous_status"`
	CanceledAt      time.Time         `json:"canceled_at"`
	ReleasedUnits   int               `json:"released_units"`
	FreedProductIDs []uuid.UUID       `json:"freed_product_ids"`
}

// StockRestockedEvent is emitted when physical stock is added to a warehouse.
type StockRestockedEvent struct {
	StockID       uuid.UUID `json:"stock_id"`
	WarehouseCode string    `json:"warehouse_code"`
	SKU           string    `json:"sku"`
	AddedQuantity int       `json:"added_quantity"`
	Quantity      int       `json:"quantity"`
	Reserved      int       `json:"reserved_quantity"`
}
