package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/pkg/database"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

const keyPrefix = "cart:"

// CartStore keeps each authenticated cart as one JSON document with a
// sliding TTL.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartStore creates a Redis-backed cart store.
func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

func key(owner string) string { return keyPrefix + owner }

// Load returns the cart of owner.
func (s *CartStore) Load(ctx context.Context, owner string) (cart *domain.Cart, err error) {
	ctx, done := database.TraceQuery(ctx, database.SystemRedis, "cart.load", "GET "+key(owner))
	defer func() { done(repository.SpanError(err)) }()

	return decode(s.client.Get(ctx, key(owner)), owner)
}

// Replace writes cart if the stored version still equals expectedVersion.
// The check and the write run inside WATCH/MULTI so a concurrent writer
// aborts the transaction.
func (s *CartStore) Replace(ctx context.Context, cart *domain.Cart, expectedVersion int) (ok bool, err error) {
	k := key(cart.Owner)
	ctx, done := database.TraceQuery(ctx, database.SystemRedis, "cart.replace", "WATCH/MULTI SET "+k)
	defer func() { done(err) }()

	next := *cart
	next.Version = expectedVersion + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return false, fmt.Errorf("marshal cart: %w", err)
	}

	conflict := false
	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current := 0
		stored, err := decode(tx.Get(ctx, k), cart.Owner)
		switch {
		case err == nil:
			current = stored.Version
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}
		if current != expectedVersion {
			conflict = true
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, s.ttl)
			return nil
		})
		return err
	}, k)

	switch {
	case errors.Is(txErr, redis.TxFailedErr):
		return false, nil
	case txErr != nil:
		return false, apperrors.StoreWrite("save cart", txErr)
	case conflict:
		return false, nil
	}
	cart.Version = next.Version
	return true, nil
}

func decode(cmd *redis.StringCmd, owner string) (*domain.Cart, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", owner)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &cart, nil
}
