// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/warehouse-allocator/pkg/config"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox/payloads"
)

// ErrTerminal marks a row that will never publish, whatever the retry.
var ErrTerminal = errors.New("terminal outbox event")

// Terminal wraps err so IsTerminal reports true for it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}

// Route ties an event type to the aggregate it must belong to and the topic
// it is published on.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NewEventRegistry sends order events to the orders topic and stock events
// to the inventory topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}
	if cfg.InventoryTopic == "" {
		return nil, errors.New("inventory topic is required")
	}

	routes := []Route{
		route[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.OrderReoptimizedEvent](enums.EventOrderReoptimized, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.OrderShippedEvent](enums.EventOrderShipped, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.OrderCanceledEvent](enums.EventOrderCanceled, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.StockRestockedEvent](enums.EventStockRestocked, enums.AggregateWarehouseStock, cfg.InventoryTopic),
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, r := range routes {
		reg.routes[r.EventType] = r
	}
	return reg, nil
}

// Topics lists the distinct destination topics, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	topics := make([]string, 0, 2)
	for _, rt := range r.routes {
		if _, ok := seen[rt.Topic]; ok {
			continue
		}
		seen[rt.Topic] = struct{}{}
		topics = append(topics, rt.Topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its route and decodes the payload. Every
// failure is terminal: a malformed row does not get better on retry.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Terminal(fmt.Errorf("unsupported event type %s", event.EventType))
	case rt.AggregateType != event.AggregateType:
		return nil, Terminal(fmt.Errorf("%s expects aggregate %s, got %s", event.EventType, rt.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Terminal(fmt.Errorf("%s without aggregate id", event.EventType))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Terminal(err)
	}
	if event.ID != uuid.Nil && envelope.EventID != event.ID.String() {
		return nil, Terminal(fmt.Errorf("envelope event id %s does not match row %s", envelope.EventID, event.ID))
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Terminal(fmt.Errorf("%s without payload", event.EventType))
	}

	payload, err := rt.decode(envelope.Data)
	if err != nil {
		return nil, Terminal(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: rt, Envelope: envelope, Payload: payload}, nil
}
