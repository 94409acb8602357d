// Package catalog looks up current product data: name, price and stock.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/httpclient"
)

// Product is the catalog's view of a product.
type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Image  string          `json:"image_url,omitempty"`
	Stock  int             `json:"stock"`
	Active bool            `json:"active"`
}

// Lookup fetches one product. An unknown product yields ErrNotFound; an
// unreachable catalog yields ErrServiceUnavail.
type Lookup interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

// Client calls the catalog HTTP API through a circuit breaker.
type Client struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a catalog client for baseURL, e.g.
// "http://product-service:8001".
func NewClient(baseURL string, cfg httpclient.Config, logger *slog.Logger) *Client {
	cb := httpclient.NewCircuitBreakerClient(
		httpclient.New(cfg),
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		logger,
	)
	return &Client{
		http:    cb,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// GetProduct fetches GET /api/v1/products/{id}.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	endpoint := c.baseURL + "/api/v1/products/" + url.PathEscape(productID)

	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.WarnContext(ctx, "catalog lookup failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable("catalog is unavailable")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Data *Product `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog product %s: %w", productID, err)
	}
	if body.Data == nil {
		return nil, apperrors.NotFound("product", productID)
	}
	if body.Data.ID == "" {
		body.Data.ID = productID
	}
	return body.Data, nil
}
