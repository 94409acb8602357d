package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/cartsync/pkg/kafka"
)

// Topics consumed from the catalog.
var (
	TopicProductUpdated = pkgkafka.Topic("product", "updated")
	TopicProductDeleted = pkgkafka.Topic("product", "deleted")
)

// ProductTopics lists every topic ProductConsumer handles.
func ProductTopics() []string {
	return []string{TopicProductUpdated, TopicProductDeleted}
}

// ProductChangedData is the part of a product event this service reads.
type ProductChangedData struct {
	ID string `json:"id"`
}

// Invalidator drops cached catalog data for a product.
type Invalidator interface {
	Invalidate(ctx context.Context, productID string) error
}

// ProductConsumer evicts cached products when the catalog changes them, so
// the next add or checkout sees the current price and stock.
type ProductConsumer struct {
	cache  Invalidator
	logger *slog.Logger
}

// NewProductConsumer creates a ProductConsumer.
func NewProductConsumer(cache Invalidator, logger *slog.Logger) *ProductConsumer {
	return &ProductConsumer{cache: cache, logger: logger}
}

// Handle implements pkgkafka.Handler.
func (c *ProductConsumer) Handle(ctx context.Context, ev *pkgkafka.Event) error {
	switch ev.EventType {
	case TopicProductUpdated, TopicProductDeleted:
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", ev.EventType),
			slog.String("event_id", ev.EventID),
		)
		return nil
	}

	var data ProductChangedData
	if err := ev.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", ev.EventType, err)
	}
	productID := data.ID
	if productID == "" {
		productID = ev.AggregateID
	}
	if productID == "" {
		c.logger.WarnContext(ctx, "product event without product id",
			slog.String("event_id", ev.EventID),
		)
		return nil
	}

	if err := c.cache.Invalidate(ctx, productID); err != nil {
		return fmt.Errorf("invalidate product %s: %w", productID, err)
	}
	c.logger.InfoContext(ctx, "catalog cache invalidated",
		slog.String("product_id", productID),
		slog.String("event_type", ev.EventType),
	)
	return nil
}
