// Package app wires cartsync's dependencies and runs the HTTP server and the
// product-event consumer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/checkout"
	"github.com/utafrali/cartsync/internal/config"
	"github.com/utafrali/cartsync/internal/event"
	handler "github.com/utafrali/cartsync/internal/handler/http"
	"github.com/utafrali/cartsync/internal/repository"
	mongorepo "github.com/utafrali/cartsync/internal/repository/mongo"
	"github.com/utafrali/cartsync/internal/repository/postgres"
	redisrepo "github.com/utafrali/cartsync/internal/repository/redis"
	"github.com/utafrali/cartsync/internal/repository/sqlite"
	"github.com/utafrali/cartsync/internal/service"
	"github.com/utafrali/cartsync/migrations"
	"github.com/utafrali/cartsync/pkg/database"
	"github.com/utafrali/cartsync/pkg/health"
	"github.com/utafrali/cartsync/pkg/httpclient"
	pkgkafka "github.com/utafrali/cartsync/pkg/kafka"
	"github.com/utafrali/cartsync/pkg/middleware"
	"github.com/utafrali/cartsync/pkg/tracing"
)

const serviceName = "cartsync"

// App wires together all dependencies and runs the cartsync service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	mongo          *mongo.Database
	guests         *sqlite.CartStore
	producer       *pkgkafka.Producer
	consumer       *pkgkafka.Consumer
	limiter        *middleware.RateLimiter
	httpServer     *http.Server
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Whatever was opened before a failure is closed again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.shutdownTracer, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTELEndpoint,
		SampleRate:   cfg.OTELSampleRate,
		Enabled:      cfg.OTELEndpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	database.SetSlowQueryLogging(cfg.SlowQueryLog, logger)

	// PostgreSQL: wishlists and orders.
	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, err
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, serviceName); err != nil {
		return nil, err
	}

	// Redis: signed-in carts, catalog cache and event de-duplication.
	a.rdb, err = database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		return nil, err
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr), slog.Int("db", cfg.RedisDB))

	// SQLite: guest carts.
	a.guests, err = sqlite.Open(ctx, cfg.GuestDBPath)
	if err != nil {
		return nil, fmt.Errorf("open guest store: %w", err)
	}

	carts, err := a.authenticatedCarts(ctx)
	if err != nil {
		return nil, err
	}
	stores := repository.CartStores{Authenticated: carts}
	if cfg.AllowGuests {
		stores.Guest = a.guests
	}

	// Events.
	var publisher event.Publisher = event.Discard{}
	if cfg.EventsEnabled() {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("KAFKA_BROKERS not set, domain events are discarded")
	}
	events := event.NewProducer(publisher, logger)

	// Catalog lookups, cached in Redis and invalidated by product events.
	// Checkout reads through Fresh so stock is checked against the catalog.
	products := catalog.NewCachedLookup(
		catalog.NewClient(cfg.CatalogURL, httpclient.DefaultConfig(), logger),
		a.rdb, cfg.CatalogCacheTTL, cfg.CatalogCacheJitter, logger,
	)
	if cfg.EventsEnabled() {
		dedup := pkgkafka.NewRedisIdempotencyStore(a.rdb, "cartsync:events:", cfg.EventDedupTTL)
		a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaConsumerGroup,
			Topics:  event.ProductTopics(),
		}, pkgkafka.IdempotentHandler(dedup, event.NewProductConsumer(products, logger).Handle, logger), logger)
	}

	pricingPolicies, err := cfg.Pricing()
	if err != nil {
		return nil, err
	}
	limits := service.Limits{MaxItems: cfg.MaxItems, MaxQuantity: cfg.MaxQuantity}
	wishlists := postgres.NewWishlistStore(a.pool)

	cartService := service.NewCartService(service.CartDeps{
		Carts:     stores,
		Wishlists: wishlists,
		Catalog:   products,
		Events:    events,
		Logger:    logger,
	}, service.CartConfig{
		Pricing:            pricingPolicies,
		Currency:           cfg.Currency,
		MaxConflictRetries: cfg.MaxConflictRetries,
		MergePolicy:        cfg.Merge(),
		Limits:             limits,
	})
	wishlistService := service.NewWishlistService(wishlists, products, events, logger, cfg.MaxConflictRetries, limits)
	coordinator := checkout.NewCoordinator(checkout.Deps{
		Carts:   stores,
		Orders:  postgres.NewOrderStore(a.pool),
		Catalog: products.Fresh(),
		Events:  events,
		Pricing: pricingPolicies,
		Logger:  logger,
	}, checkout.Timeouts{Catalog: cfg.CatalogTimeout, Persist: cfg.PersistTimeout})

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", a.pool.Ping)
	healthHandler.Register("redis", func(ctx context.Context) error {
		return a.rdb.Ping(ctx).Err()
	})
	healthHandler.Register("guest_store", a.guests.Ping)
	if a.mongo != nil {
		healthHandler.Register("mongo", func(ctx context.Context) error {
			return a.mongo.Client().Ping(ctx, nil)
		})
	}
	if a.producer != nil {
		healthHandler.RegisterOptional("kafka", a.producer.Ping)
	}

	var tokens middleware.TokenValidator
	if cfg.JWTSecret != "" {
		tokens = middleware.NewHMACValidator(cfg.JWTSecret, cfg.JWTIssuer)
	}
	if cfg.RateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	}
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigin

	router := handler.NewRouter(handler.RouterDeps{
		Carts:     cartService,
		Wishlists: wishlistService,
		Checkout:  coordinator,
		Health:    healthHandler,
		Logger:    logger,
		Identity: handler.IdentityConfig{
			TrustUserHeader: cfg.TrustUserHeader,
			AllowGuests:     cfg.AllowGuests,
		},
		Tokens:      tokens,
		RateLimiter: a.limiter,
		CORS:        cors,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// authenticatedCarts opens the backend selected by CART_STORE_BACKEND.
func (a *App) authenticatedCarts(ctx context.Context) (repository.CartStore, error) {
	switch a.cfg.CartStoreBackend {
	case config.BackendMongo:
		db, err := database.NewMongoDatabase(ctx, a.cfg.Mongo())
		if err != nil {
			return nil, err
		}
		a.mongo = db
		store := mongorepo.NewCartStore(db.Collection("carts"), a.cfg.CartTTL)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure cart indexes: %w", err)
		}
		a.logger.Info("signed-in carts stored in MongoDB", slog.String("database", a.cfg.MongoDB))
		return store, nil
	default:
		a.logger.Info("signed-in carts stored in Redis")
		return redisrepo.NewCartStore(a.rdb, a.cfg.CartTTL), nil
	}
}

// Run starts the HTTP server and the product consumer and blocks until ctx
// is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
	a.close()
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// close releases every client that was opened.
func (a *App) close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.guests != nil {
		if err := a.guests.Close(); err != nil {
			a.logger.Error("guest store close error", slog.String("error", err.Error()))
		}
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Client().Disconnect(ctx); err != nil {
			a.logger.Error("mongo disconnect error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
