package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/pkg/database"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// CollectionName is the default collection for carts.
const CollectionName = "carts"

type itemDocument struct {
	ProductID string `bson:"product_id"`
	Name      string `bson:"name"`
	Price     string `bson:"price"`
	Image     string `bson:"image,omitempty"`
	Quantity  int    `bson:"quantity"`
}

type cartDocument struct {
	Owner     string         `bson:"owner"`
	CartID    string         `bson:"cart_id"`
	Guest     bool           `bson:"guest"`
	Items     []itemDocument `bson:"items"`
	Currency  string         `bson:"currency"`
	Version   int            `bson:"version"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
	ExpiresAt time.Time      `bson:"expires_at"`
}

// CartStore keeps one document per owner. Compare-and-set relies on the
// unique owner index for creation and a {owner, version} filter for updates.
type CartStore struct {
	coll *mongo.Collection
	ttl  time.Duration
}

// NewCartStore creates a MongoDB-backed cart store.
func NewCartStore(coll *mongo.Collection, ttl time.Duration) *CartStore {
	return &CartStore{coll: coll, ttl: ttl}
}

// EnsureIndexes creates the unique owner index and the expiry TTL index.
func (s *CartStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("owner_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	return nil
}

// Load returns the cart of owner.
func (s *CartStore) Load(ctx context.Context, owner string) (cart *domain.Cart, err error) {
	ctx, done := database.TraceQuery(ctx, database.SystemMongo, "cart.load", "find carts by owner")
	defer func() { done(repository.SpanError(err)) }()

	var doc cartDocument
	if err := s.coll.FindOne(ctx, bson.D{{Key: "owner", Value: owner}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("cart", owner)
		}
		return nil, fmt.Errorf("mongo find cart: %w", err)
	}
	return fromDocument(doc)
}

// Replace inserts the first version of a cart or updates the document whose
// version still equals expectedVersion.
func (s *CartStore) Replace(ctx context.Context, cart *domain.Cart, expectedVersion int) (ok bool, err error) {
	ctx, done := database.TraceQuery(ctx, database.SystemMongo, "cart.replace", "conditional upsert carts")
	defer func() { done(err) }()

	doc := toDocument(cart, expectedVersion+1, time.Now().UTC().Add(s.ttl))

	if expectedVersion == 0 {
		if _, err := s.coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return false, nil
			}
			return false, apperrors.StoreWrite("save cart", err)
		}
	} else {
		filter := bson.D{
			{Key: "owner", Value: cart.Owner},
			{Key: "version", Value: expectedVersion},
		}
		res, err := s.coll.ReplaceOne(ctx, filter, doc)
		if err != nil {
			return false, apperrors.StoreWrite("save cart", err)
		}
		if res.MatchedCount == 0 {
			return false, nil
		}
	}

	cart.Version = expectedVersion + 1
	return true, nil
}

func toDocument(c *domain.Cart, version int, expiresAt time.Time) cartDocument {
	items := make([]itemDocument, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, itemDocument{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price.String(),
			Image:     it.Image,
			Quantity:  it.Quantity,
		})
	}
	return cartDocument{
		Owner:     c.Owner,
		CartID:    c.ID,
		Guest:     c.Guest,
		Items:     items,
		Currency:  c.Currency,
		Version:   version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		ExpiresAt: expiresAt,
	}
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	items := make([]domain.LineItem, 0, len(doc.Items))
	for _, it := range doc.Items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, fmt.Errorf("decode price of %s: %w", it.ProductID, err)
		}
		items = append(items, domain.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     price,
			Image:     it.Image,
			Quantity:  it.Quantity,
		})
	}
	return &domain.Cart{
		ID:        doc.CartID,
		Owner:     doc.Owner,
		Guest:     doc.Guest,
		Items:     items,
		Currency:  doc.Currency,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
