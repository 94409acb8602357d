// Package event publishes cart, wishlist and order events to Kafka and
// consumes product changes from the catalog.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/pricing"
	pkgkafka "github.com/utafrali/cartsync/pkg/kafka"
)

// Topics produced by this service.
var (
	TopicCartUpdated     = pkgkafka.Topic("cart", "updated")
	TopicCartCleared     = pkgkafka.Topic("cart", "cleared")
	TopicWishlistUpdated = pkgkafka.Topic("wishlist", "updated")
	TopicOrderPlaced     = pkgkafka.Topic("order", "placed")
)

const (
	AggregateTypeCart     = "cart"
	AggregateTypeWishlist = "wishlist"
	AggregateTypeOrder    = "order"

	Source = "cartsync"
)

// Publisher is the part of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// ItemData is a line item inside an event payload.
type ItemData struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity,omitempty"`
}

// CartUpdatedData is the payload of cart.updated.
type CartUpdatedData struct {
	CartID    string          `json:"cart_id"`
	Owner     string          `json:"owner"`
	Guest     bool            `json:"guest"`
	Items     []ItemData      `json:"items"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Version   int             `json:"version"`
}

// CartClearedData is the payload of cart.cleared.
type CartClearedData struct {
	CartID  string `json:"cart_id"`
	Owner   string `json:"owner"`
	Reason  string `json:"reason"`
	Version int    `json:"version"`
}

// WishlistUpdatedData is the payload of wishlist.updated.
type WishlistUpdatedData struct {
	Owner   string     `json:"owner"`
	Items   []ItemData `json:"items"`
	Version int        `json:"version"`
}

// OrderPlacedData is the payload of order.placed.
type OrderPlacedData struct {
	OrderID  string          `json:"order_id"`
	Owner    string          `json:"owner"`
	Guest    bool            `json:"guest"`
	Items    []ItemData      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// Reasons carried by cart.cleared.
const (
	ClearedByShopper = "shopper"
	ClearedByOrder   = "order_placed"
	ClearedByMerge   = "merged"
)

// Producer turns domain changes into events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a Producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

func itemData(items []domain.LineItem) []ItemData {
	out := make([]ItemData, len(items))
	for i, it := range items {
		out[i] = ItemData{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		}
	}
	return out
}

// CartUpdated publishes cart.updated with the totals in summary.
func (p *Producer) CartUpdated(ctx context.Context, cart *domain.Cart, summary pricing.Summary) error {
	return p.publish(ctx, TopicCartUpdated, cart.Owner, AggregateTypeCart, CartUpdatedData{
		CartID:    cart.ID,
		Owner:     cart.Owner,
		Guest:     cart.Guest,
		Items:     itemData(cart.Items),
		ItemCount: summary.ItemCount,
		Subtotal:  summary.Subtotal,
		Total:     summary.Total,
		Currency:  cart.Currency,
		Version:   cart.Version,
	})
}

// CartCleared publishes cart.cleared.
func (p *Producer) CartCleared(ctx context.Context, cart *domain.Cart, reason string) error {
	return p.publish(ctx, TopicCartCleared, cart.Owner, AggregateTypeCart, CartClearedData{
		CartID:  cart.ID,
		Owner:   cart.Owner,
		Reason:  reason,
		Version: cart.Version,
	})
}

// WishlistUpdated publishes wishlist.updated.
func (p *Producer) WishlistUpdated(ctx context.Context, wl *domain.Wishlist) error {
	return p.publish(ctx, TopicWishlistUpdated, wl.Owner, AggregateTypeWishlist, WishlistUpdatedData{
		Owner:   wl.Owner,
		Items:   itemData(wl.Items),
		Version: wl.Version,
	})
}

// OrderPlaced publishes order.placed.
func (p *Producer) OrderPlaced(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, TopicOrderPlaced, order.ID, AggregateTypeOrder, OrderPlacedData{
		OrderID:  order.ID,
		Owner:    order.Owner,
		Guest:    order.Guest,
		Items:    itemData(order.Items),
		Subtotal: order.Subtotal,
		Shipping: order.Shipping,
		Total:    order.Total,
		Currency: order.Currency,
		Status:   string(order.Status),
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	ev, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, Source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.publisher.Publish(ctx, topic, ev); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// Discard is a Publisher that drops every event. It is used when no Kafka
// brokers are configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, *pkgkafka.Event) error { return nil }
