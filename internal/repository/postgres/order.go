package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/pkg/database"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

const uniqueViolation = "23505"

// Money columns travel as text so decimal.Decimal round-trips exactly.
const orderColumns = `
	o.id::text, o.owner, o.guest, o.idempotency_key,
	o.subtotal::text, o.shipping::text, o.total::text, o.currency,
	o.shipping_address, o.payment_method, o.status, o.created_at`

const orderWithItemsQuery = `
	SELECT ` + orderColumns + `,
		COALESCE(
			JSONB_AGG(
				JSONB_BUILD_OBJECT(
					'product_id', oi.product_id,
					'name', oi.name,
					'price', oi.price::text,
					'image', oi.image,
					'quantity', oi.quantity
				) ORDER BY oi.position
			) FILTER (WHERE oi.order_id IS NOT NULL),
			'[]'::jsonb
		) AS items
	FROM orders o
	LEFT JOIN order_items oi ON o.id = oi.order_id
	WHERE %s
	GROUP BY o.id`

// OrderStore implements repository.OrderStore.
type OrderStore struct {
	pool database.DBTX
}

// NewOrderStore creates a PostgreSQL-backed order store.
func NewOrderStore(pool database.DBTX) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts the order and its lines in one transaction.
func (s *OrderStore) Create(ctx context.Context, o *domain.Order) (err error) {
	const (
		orderQuery = `
			INSERT INTO orders (id, owner, guest, idempotency_key, subtotal, shipping, total, currency,
				shipping_address, payment_method, status, created_at)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8, $9, $10, $11, $12)`
		itemQuery = `
			INSERT INTO order_items (order_id, position, product_id, name, price, image, quantity)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7)`
	)

	ctx, done := database.TraceQuery(ctx, database.SystemPostgres, "order.create", orderQuery)
	defer func() { done(err) }()

	addrJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	payJSON, err := json.Marshal(o.PaymentMethod)
	if err != nil {
		return fmt.Errorf("marshal payment method: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.StoreWrite("save order", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, orderQuery,
		o.ID, o.Owner, o.Guest, o.IdempotencyKey,
		o.Subtotal.StringFixed(2), o.Shipping.StringFixed(2), o.Total.StringFixed(2), o.Currency,
		addrJSON, payJSON, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict("an order for this cart already exists")
		}
		return apperrors.StoreWrite("save order", fmt.Errorf("insert order: %w", err))
	}

	for i, it := range o.Items {
		_, err = tx.Exec(ctx, itemQuery,
			o.ID, i, it.ProductID, it.Name, it.Price.StringFixed(2), it.Image, it.Quantity,
		)
		if err != nil {
			return apperrors.StoreWrite("save order", fmt.Errorf("insert order item %s: %w", it.ProductID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.StoreWrite("save order", fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// GetByID returns the order with its lines.
func (s *OrderStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOne(ctx, "order.get", "o.id = $1::uuid", id)
}

// GetByIdempotencyKey returns the order placed for a given cart state.
func (s *OrderStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return s.getOne(ctx, "order.get_by_idempotency_key", "o.idempotency_key = $1", key)
}

func (s *OrderStore) getOne(ctx context.Context, op, where, arg string) (o *domain.Order, err error) {
	query := fmt.Sprintf(orderWithItemsQuery, where)
	ctx, done := database.TraceQuery(ctx, database.SystemPostgres, op, query)
	defer func() { done(repository.SpanError(err)) }()

	var itemsJSON []byte
	o, err = scanOrder(s.pool.QueryRow(ctx, query, arg), &itemsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", arg)
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return o, nil
}

// ListByOwner returns one page of owner's orders, newest first, with the
// total number of orders.
func (s *OrderStore) ListByOwner(ctx context.Context, owner string, limit, offset int) (orders []domain.Order, total int, err error) {
	const (
		listQuery = `
			SELECT ` + orderColumns + `, count(*) OVER() AS total_count
			FROM orders o
			WHERE o.owner = $1
			ORDER BY o.created_at DESC
			LIMIT $2 OFFSET $3`
		itemsQuery = `
			SELECT order_id::text, product_id, name, price::text, image, quantity
			FROM order_items
			WHERE order_id = ANY($1::uuid[])
			ORDER BY order_id, position`
	)

	ctx, done := database.TraceQuery(ctx, database.SystemPostgres, "order.list", listQuery)
	defer func() { done(err) }()

	rows, err := s.pool.Query(ctx, listQuery, owner, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders = make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		o.Items = []domain.LineItem{}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, total, nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
	}

	itemRows, err := s.pool.Query(ctx, itemsQuery, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("batch load order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			orderID, price string
			it             domain.LineItem
		)
		if err := itemRows.Scan(&orderID, &it.ProductID, &it.Name, &price, &it.Image, &it.Quantity); err != nil {
			return nil, 0, fmt.Errorf("scan order item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, 0, fmt.Errorf("parse item price: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order item rows: %w", err)
	}
	return orders, total, nil
}

// scanOrder reads the order columns followed by one trailing column into
// extra.
func scanOrder(row pgx.Row, extra any) (*domain.Order, error) {
	var (
		o                         domain.Order
		subtotal, shipping, total string
		status                    string
		addrJSON, payJSON         []byte
	)
	err := row.Scan(
		&o.ID, &o.Owner, &o.Guest, &o.IdempotencyKey,
		&subtotal, &shipping, &total, &o.Currency,
		&addrJSON, &payJSON, &status, &o.CreatedAt,
		extra,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status = domain.OrderStatus(status)
	for _, m := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.Shipping, shipping}, {&o.Total, total}} {
		if *m.dst, err = decimal.NewFromString(m.src); err != nil {
			return nil, fmt.Errorf("parse order amount: %w", err)
		}
	}
	if err := json.Unmarshal(addrJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(payJSON, &o.PaymentMethod); err != nil {
		return nil, fmt.Errorf("unmarshal payment method: %w", err)
	}
	return &o, nil
}
