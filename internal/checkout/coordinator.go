// Package checkout turns a cart into an order and empties the cart.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/event"
	"github.com/utafrali/cartsync/internal/pricing"
	"github.com/utafrali/cartsync/internal/repository"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/pagination"
	"github.com/utafrali/cartsync/pkg/tracing"
	"github.com/utafrali/cartsync/pkg/validator"
)

// Checkout outcomes recorded in checkoutOutcomes.
const (
	outcomePlaced   = "placed"
	outcomeReplayed = "replayed"
	outcomePartial  = "partial"
	outcomeEmpty    = "empty_cart"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

var checkoutOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cartsync_checkout_total",
		Help: "Checkout attempts by outcome.",
	},
	[]string{"outcome"},
)

// Events receives the events of a completed checkout.
type Events interface {
	OrderPlaced(ctx context.Context, order *domain.Order) error
	CartCleared(ctx context.Context, cart *domain.Cart, reason string) error
}

// PlaceOrderInput carries the shipping and payment data collected by the
// storefront.
type PlaceOrderInput struct {
	ShippingAddress domain.Address       `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
}

// Receipt is the result of PlaceOrder. Replayed is set when the same cart
// snapshot had already been ordered and no new order was created.
type Receipt struct {
	Order    *domain.Order `json:"order"`
	Replayed bool          `json:"replayed"`
}

// Timeouts bound the individual steps of a checkout. Zero means the step
// inherits the request deadline.
type Timeouts struct {
	Catalog time.Duration
	Persist time.Duration
}

// Deps are the collaborators of the Coordinator. Events may be nil.
type Deps struct {
	Carts   repository.CartStores
	Orders  repository.OrderStore
	Catalog catalog.Lookup
	Events  Events
	Pricing pricing.Policies
	Logger  *slog.Logger
}

// Coordinator places orders.
type Coordinator struct {
	carts    repository.CartStores
	orders   repository.OrderStore
	catalog  catalog.Lookup
	events   Events
	pricing  pricing.Policies
	logger   *slog.Logger
	timeouts Timeouts
	now      func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(deps Deps, timeouts Timeouts) *Coordinator {
	return &Coordinator{
		carts:    deps.Carts,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		events:   deps.Events,
		pricing:  deps.Pricing,
		logger:   deps.Logger,
		timeouts: timeouts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder converts the subject's cart into an order.
//
// The order is written before the cart is emptied. If the order write fails
// the cart is left untouched. If emptying the cart fails the order stands
// and a *PartialCheckoutError is returned alongside it. Submitting the same
// cart snapshot again returns the existing order with Replayed set instead
// of creating a second one.
func (c *Coordinator) PlaceOrder(ctx context.Context, subject domain.Subject, in PlaceOrderInput) (receipt *Receipt, err error) {
	ctx, span := tracing.Tracer("checkout").Start(ctx, "checkout.place_order")
	span.SetAttributes(attribute.String("subject", subject.Key()))
	outcome := outcomeFailed
	defer func() {
		checkoutOutcomes.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("checkout.outcome", outcome))
		tracing.End(span, err)
	}()

	if err := subject.Validate(); err != nil {
		outcome = outcomeRejected
		return nil, err
	}
	store, err := c.carts.For(subject)
	if err != nil {
		outcome = outcomeRejected
		return nil, err
	}

	cart, err := store.Load(ctx, subject.Key())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			outcome = outcomeEmpty
			return nil, apperrors.EmptyCart()
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		outcome = outcomeEmpty
		return nil, apperrors.EmptyCart()
	}
	if err := validator.Validate(in); err != nil {
		outcome = outcomeRejected
		return nil, err
	}

	key := IdempotencyKey(cart)
	existing, err := c.orders.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return c.replay(ctx, store, cart, existing, &outcome)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("look up order by idempotency key: %w", err)
	}

	lines, err := c.revalidate(ctx, cart.Items)
	if err != nil {
		if !errors.Is(err, apperrors.ErrServiceUnavail) {
			outcome = outcomeRejected
		}
		return nil, err
	}

	order := c.buildOrder(cart, key, lines, in)
	if err := c.persist(ctx, order); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// A concurrent submission of the same snapshot won the insert.
			if existing, lookupErr := c.orders.GetByIdempotencyKey(ctx, key); lookupErr == nil {
				return c.replay(ctx, store, cart, existing, &outcome)
			}
		}
		return nil, err
	}

	emptied, err := c.clearCart(ctx, store, cart)
	if err != nil {
		outcome = outcomePartial
		c.logger.ErrorContext(ctx, "order placed but cart not cleared",
			slog.String("order_id", order.ID),
			slog.String("owner", order.Owner),
			slog.String("error", err.Error()),
		)
		return &Receipt{Order: order}, &PartialCheckoutError{Order: order, Err: err}
	}

	outcome = outcomePlaced
	c.publish(ctx, order, cart, emptied)
	c.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("owner", order.Owner),
		slog.String("total", order.Total.StringFixed(2)),
		slog.Int("lines", len(order.Items)),
	)
	return &Receipt{Order: order}, nil
}

// replay finishes a checkout whose order already exists: it retries
// emptying the cart and returns the stored order.
func (c *Coordinator) replay(ctx context.Context, store repository.CartStore, cart *domain.Cart, order *domain.Order, outcome *string) (*Receipt, error) {
	c.logger.InfoContext(ctx, "checkout replayed for existing order",
		slog.String("order_id", order.ID),
		slog.String("owner", order.Owner),
	)
	emptied, err := c.clearCart(ctx, store, cart)
	if err != nil {
		*outcome = outcomePartial
		return &Receipt{Order: order, Replayed: true}, &PartialCheckoutError{Order: order, Err: err}
	}
	*outcome = outcomeReplayed
	if emptied && c.events != nil {
		c.logPublish(ctx, "cart.cleared", c.events.CartCleared(ctx, cart, event.ClearedByOrder))
	}
	return &Receipt{Order: order, Replayed: true}, nil
}

// revalidate re-reads every line from the catalog and returns the lines
// priced and named as the catalog has them now.
func (c *Coordinator) revalidate(ctx context.Context, items []domain.LineItem) ([]domain.LineItem, error) {
	if c.timeouts.Catalog > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.Catalog)
		defer cancel()
	}

	lines := domain.CloneItems(items)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range lines {
		g.Go(func() error {
			line := &lines[i]
			p, err := c.catalog.GetProduct(gctx, line.ProductID)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrNotFound):
				return apperrors.Conflict(fmt.Sprintf("product %s is no longer available", line.ProductID))
			case errors.Is(err, context.DeadlineExceeded):
				return apperrors.ServiceUnavailable("catalog did not answer in time")
			default:
				return err
			}
			if !p.Active {
				return apperrors.Conflict(fmt.Sprintf("product %s is no longer available", line.ProductID))
			}
			if p.Stock < line.Quantity {
				return apperrors.InsufficientStock(line.ProductID, line.Quantity, p.Stock)
			}
			line.Price = p.Price.Round(2)
			if p.Name != "" {
				line.Name = p.Name
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *Coordinator) buildOrder(cart *domain.Cart, key string, lines []domain.LineItem, in PlaceOrderInput) *domain.Order {
	summary := pricing.Summarize(lines, c.pricing.For(cart.Guest))
	return &domain.Order{
		ID:              uuid.NewString(),
		Owner:           cart.Owner,
		Guest:           cart.Guest,
		IdempotencyKey:  key,
		Items:           domain.CloneItems(lines),
		Subtotal:        summary.Subtotal,
		Shipping:        summary.Shipping,
		Total:           summary.Total,
		Currency:        cart.Currency,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Status:          domain.OrderStatusProcessing,
		CreatedAt:       c.now(),
	}
}

func (c *Coordinator) persist(ctx context.Context, order *domain.Order) error {
	if c.timeouts.Persist > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.Persist)
		defer cancel()
	}
	return c.orders.Create(ctx, order)
}

// clearCart empties the cart at the version it was ordered at. A cart that
// changed since is left alone, unless it is already empty because a
// concurrent submission of the same snapshot cleared it first. emptied
// reports whether this call did the write.
func (c *Coordinator) clearCart(ctx context.Context, store repository.CartStore, cart *domain.Cart) (emptied bool, err error) {
	ctx = context.WithoutCancel(ctx)
	cleared := *cart
	cleared.Items = []domain.LineItem{}
	cleared.UpdatedAt = c.now()

	ok, err := store.Replace(ctx, &cleared, cart.Version)
	if err != nil {
		return false, err
	}
	if ok {
		cart.Items = cleared.Items
		cart.Version = cleared.Version
		return true, nil
	}

	current, err := store.Load(ctx, cart.Owner)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return false, fmt.Errorf("reload cart after conflict: %w", err)
	}
	if err != nil || current.IsEmpty() {
		return false, nil
	}
	return false, apperrors.Conflict("cart changed after the order was placed")
}

func (c *Coordinator) publish(ctx context.Context, order *domain.Order, cart *domain.Cart, emptied bool) {
	if c.events == nil {
		return
	}
	c.logPublish(ctx, "order.placed", c.events.OrderPlaced(ctx, order))
	if emptied {
		c.logPublish(ctx, "cart.cleared", c.events.CartCleared(ctx, cart, event.ClearedByOrder))
	}
}

func (c *Coordinator) logPublish(ctx context.Context, name string, err error) {
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

// GetOrder returns one of the subject's orders. Orders of other subjects
// are reported as not found.
func (c *Coordinator) GetOrder(ctx context.Context, subject domain.Subject, id string) (*domain.Order, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.InvalidInput("invalid order id")
	}
	order, err := c.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Owner != subject.Key() {
		return nil, apperrors.NotFound("order", id)
	}
	return order, nil
}

// ListOrders returns a page of the subject's orders, newest first, and the
// total count.
func (c *Coordinator) ListOrders(ctx context.Context, subject domain.Subject, page pagination.Params) ([]domain.Order, int, error) {
	if err := subject.Validate(); err != nil {
		return nil, 0, err
	}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PerPage < 1 {
		page.PerPage = pagination.DefaultPerPage
	}
	orders, total, err := c.orders.ListByOwner(ctx, subject.Key(), page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}
