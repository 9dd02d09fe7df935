package reoptimize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/enums"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox"
	"github.com/angelmondragon/warehouse-allocator/pkg/outbox/payloads"
)

// ConsumerName scopes this consumer's dedup claims.
const ConsumerName = "reoptimize"

type reoptimizer interface {
	ReoptimizeForProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.Order, error)
}

type productResolver interface {
	FindProductsBySKUs(ctx context.Context, skus []string) (map[string]models.Product, error)
}

type eventClaims interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

// errPoison marks a message that can never be processed. It is acked so it
// does not redeliver forever.
var errPoison = errors.New("unprocessable event")

// Consumer reacts to published cancel and restock events by handing the
// freed or received stock to waiting orders. It serves deployments that turn
// off in-request reoptimization.
type Consumer struct {
	reoptimizer reoptimizer
	products    productResolver
	claims      eventClaims
	logg        *logger.Logger
}

func NewConsumer(reopt reoptimizer, products productResolver, claims eventClaims, logg *logger.Logger) (*Consumer, error) {
	if reopt == nil {
		return nil, fmt.Errorf("reoptimizer required")
	}
	if products == nil {
		return nil, fmt.Errorf("product resolver required")
	}
	if claims == nil {
		return nil, fmt.Errorf("event claims required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{reoptimizer: reopt, products: products, claims: claims, logg: logg}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context, subscription *pubsub.Subscriber) error {
	if subscription == nil {
		return fmt.Errorf("subscription required")
	}
	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := c.Handle(ctx, msg.Attributes, msg.Data); err != nil && !errors.Is(err, errPoison) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Handle decodes one published outbox message and processes it.
func (c *Consumer) Handle(ctx context.Context, attributes map[string]string, data []byte) error {
	eventType := enums.OutboxEventType(strings.TrimSpace(attributes["event_type"]))
	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(c.logg.WithField(ctx, "event_type", eventType), "event envelope undecodable", err)
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	return c.Process(ctx, eventType, envelope)
}

// Process runs reoptimization for the products named by the event. Events of
// other types are ignored.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if !eventType.FreesStock() {
		c.logg.Debug(logCtx, "event not handled by reoptimize consumer")
		return nil
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "event id invalid", err)
		return fmt.Errorf("%w: parse event id: %v", errPoison, err)
	}

	productIDs, err := c.productIDs(ctx, eventType, envelope)
	if err != nil {
		if errors.Is(err, errPoison) {
			c.logg.Error(logCtx, "event payload invalid", err)
		}
		return err
	}
	if len(productIDs) == 0 {
		return nil
	}

	claimed, err := c.claims.Claim(ctx, eventID)
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	improved, err := c.reoptimizer.ReoptimizeForProducts(ctx, productIDs)
	if err != nil {
		c.logg.Error(logCtx, "reoptimization from event failed", err)
		if rerr := c.claims.Release(ctx, eventID); rerr != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", rerr.Error()), "release event claim failed")
		}
		return err
	}

	c.logg.Info(c.logg.WithField(logCtx, "reoptimized_orders", len(improved)), "event reoptimization complete")
	return nil
}

func (c *Consumer) productIDs(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) ([]uuid.UUID, error) {
	switch eventType {
	case enums.EventOrderCanceled:
		var data payloads.OrderCanceledEvent
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: decode order canceled: %v", errPoison, err)
		}
		return data.FreedProductIDs, nil
	case enums.EventStockRestocked:
		var data payloads.StockRestockedEvent
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: decode stock restocked: %v", errPoison, err)
		}
		if strings.TrimSpace(data.SKU) == "" {
			return nil, fmt.Errorf("%w: restock event without sku", errPoison)
		}
		found, err := c.products.FindProductsBySKUs(ctx, []string{data.SKU})
		if err != nil {
			return nil, fmt.Errorf("resolve sku %s: %w", data.SKU, err)
		}
		product, ok := found[data.SKU]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sku %s", errPoison, data.SKU)
		}
		return []uuid.UUID{product.ID}, nil
	}
	return nil, nil
}
