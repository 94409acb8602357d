package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

const cacheKeyPrefix = "catalog:product:"

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_cache_lookups_total",
		Help: "Catalog product lookups by cache result (hit, miss, error).",
	},
	[]string{"result"},
)

// CachedLookup puts a Redis cache-aside layer in front of another Lookup.
// Concurrent misses for the same product share one upstream call. Redis
// failures degrade to direct lookups.
type CachedLookup struct {
	next    Lookup
	client  *redis.Client
	baseTTL time.Duration
	jitter  time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewCachedLookup caches products for baseTTL plus up to jitter, so entries
// written together do not expire together.
func NewCachedLookup(next Lookup, client *redis.Client, baseTTL, jitter time.Duration, logger *slog.Logger) *CachedLookup {
	return &CachedLookup{
		next:    next,
		client:  client,
		baseTTL: baseTTL,
		jitter:  jitter,
		logger:  logger,
	}
}

func cacheKey(productID string) string { return cacheKeyPrefix + productID }

// GetProduct returns the cached product or loads and caches it.
func (c *CachedLookup) GetProduct(ctx context.Context, productID string) (*Product, error) {
	data, err := c.client.Get(ctx, cacheKey(productID)).Bytes()
	switch {
	case err == nil:
		var p Product
		if err := json.Unmarshal(data, &p); err == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return &p, nil
		}
		cacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		c.logger.WarnContext(ctx, "catalog cache get failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	v, err, _ := c.group.Do(productID, func() (any, error) {
		p, err := c.next.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*Product)
	return &p, nil
}

// Fresh returns a Lookup that always asks the upstream catalog and writes
// the answer back into the cache. Products that no longer exist are evicted.
func (c *CachedLookup) Fresh() Lookup {
	return freshLookup{cache: c}
}

type freshLookup struct {
	cache *CachedLookup
}

func (f freshLookup) GetProduct(ctx context.Context, productID string) (*Product, error) {
	p, err := f.cache.next.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if delErr := f.cache.Invalidate(ctx, productID); delErr != nil {
				f.cache.logger.WarnContext(ctx, "catalog cache evict failed",
					slog.String("product_id", productID),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return nil, err
	}
	f.cache.store(ctx, p)
	return p, nil
}

// Invalidate drops a cached product.
func (c *CachedLookup) Invalidate(ctx context.Context, productID string) error {
	return c.client.Del(ctx, cacheKey(productID)).Err()
}

func (c *CachedLookup) store(ctx context.Context, p *Product) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(p.ID), data, c.ttl()).Err(); err != nil {
		c.logger.WarnContext(ctx, "catalog cache set failed",
			slog.String("product_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *CachedLookup) ttl() time.Duration {
	if c.jitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + time.Duration(rand.Int64N(int64(c.jitter)))
}
