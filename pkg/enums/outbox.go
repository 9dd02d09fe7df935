package enums

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder          OutboxAggregateType = "order"
	AggregateWarehouseStock OutboxAggregateType = "warehouse_stock"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateWarehouseStock}

func (a OutboxAggregateType) IsValid() bool { return known(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType names a domain event written to the outbox. Order events
// go to the orders topic, stock events to the inventory topic.
type OutboxEventType string

const (
	EventOrderCreated     OutboxEventType = "order_created"
	EventOrderReoptimized OutboxEventType = "order_reoptimized"
	EventOrderShipped     OutboxEventType = "order_shipped"
	EventOrderCanceled    OutboxEventType = "order_canceled"
	EventStockRestocked   OutboxEventType = "stock_restocked"
)

var eventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderReoptimized,
	EventOrderShipped,
	EventOrderCanceled,
	EventStockRestocked,
}

func (e OutboxEventType) IsValid() bool { return known(eventTypes, e) }

// FreesStock reports whether the event can make stock available to
// waiting orders.
func (e OutboxEventType) FreesStock() bool {
	return e == EventOrderCanceled || e == EventStockRestocked
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}
