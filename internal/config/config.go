// Package config loads cartsync settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/pricing"
	pkgconfig "github.com/utafrali/cartsync/pkg/config"
	"github.com/utafrali/cartsync/pkg/database"
)

// Cart store backends for signed-in users.
const (
	BackendRedis = "redis"
	BackendMongo = "mongo"
)

// Config holds all configuration for the cartsync server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"CARTSYNC_HTTP_PORT" envDefault:"8003"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Identity
	JWTSecret         string   `env:"JWT_SECRET"`
	JWTIssuer         string   `env:"JWT_ISSUER"`
	TrustUserHeader   bool     `env:"TRUST_GATEWAY_HEADERS" envDefault:"false"`
	AllowGuests       bool     `env:"ALLOW_GUESTS" envDefault:"true"`
	CORSAllowedOrigin []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Pricing. Unset guest values inherit the signed-in policy.
	FreeShippingThreshold      string `env:"PRICING_FREE_SHIPPING_THRESHOLD" envDefault:"50"`
	FlatShippingFee            string `env:"PRICING_FLAT_SHIPPING_FEE" envDefault:"10"`
	GuestFreeShippingThreshold string `env:"PRICING_GUEST_FREE_SHIPPING_THRESHOLD"`
	GuestFlatShippingFee       string `env:"PRICING_GUEST_FLAT_SHIPPING_FEE"`
	Currency                   string `env:"CART_CURRENCY" envDefault:"USD"`

	// Cart behaviour
	CartStoreBackend   string        `env:"CART_STORE_BACKEND" envDefault:"redis"`
	CartTTL            time.Duration `env:"CART_TTL" envDefault:"168h"`
	MaxConflictRetries int           `env:"CART_MAX_CONFLICT_RETRIES" envDefault:"3"`
	MaxItems           int           `env:"CART_MAX_ITEMS" envDefault:"100"`
	MaxQuantity        int           `env:"CART_MAX_QUANTITY" envDefault:"999"`
	MergePolicy        string        `env:"MERGE_POLICY" envDefault:"sum"`

	// Checkout
	CatalogTimeout time.Duration `env:"CHECKOUT_CATALOG_TIMEOUT" envDefault:"3s"`
	PersistTimeout time.Duration `env:"CHECKOUT_PERSIST_TIMEOUT" envDefault:"5s"`

	// Catalog
	CatalogURL         string        `env:"CATALOG_URL" envDefault:"http://localhost:8001"`
	CatalogCacheTTL    time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`
	CatalogCacheJitter time.Duration `env:"CATALOG_CACHE_JITTER" envDefault:"30s"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// MongoDB, used when CART_STORE_BACKEND=mongo
	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"cartsync"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass     string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB       string `env:"CARTSYNC_DB_NAME" envDefault:"cartsync_db"`
	PostgresSSL      string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"20"`

	// SQLite guest slots
	GuestDBPath string `env:"GUEST_DB_PATH" envDefault:"cartsync-guests.db"`

	// Kafka. No brokers disables event publishing and the product consumer.
	KafkaBrokers       []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaConsumerGroup string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"cartsync"`
	EventDedupTTL      time.Duration `env:"EVENT_DEDUP_TTL" envDefault:"24h"`

	// Rate limiting of mutations, per subject
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// Observability
	PprofAllowedCIDRs []string      `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`
	OTELEndpoint      string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELSampleRate    float64       `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	SlowQueryLog      time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cartsync config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.CartStoreBackend != BackendRedis && c.CartStoreBackend != BackendMongo {
		errs = append(errs, fmt.Errorf("CART_STORE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMongo, c.CartStoreBackend))
	}
	if _, err := engine.ParseMergePolicy(c.MergePolicy); err != nil {
		errs = append(errs, fmt.Errorf("MERGE_POLICY: %w", err))
	}
	if c.MaxConflictRetries < 1 {
		errs = append(errs, errors.New("CART_MAX_CONFLICT_RETRIES must be at least 1"))
	}
	if c.MaxItems < 1 || c.MaxQuantity < 1 {
		errs = append(errs, errors.New("CART_MAX_ITEMS and CART_MAX_QUANTITY must be positive"))
	}
	if _, err := c.Pricing(); err != nil {
		errs = append(errs, err)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATE must be between 0.0 and 1.0"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.Environment == "production" && c.JWTSecret == "" && !c.TrustUserHeader {
		errs = append(errs, errors.New("JWT_SECRET or TRUST_GATEWAY_HEADERS is required in production"))
	}
	return errors.Join(errs...)
}

// Pricing parses the shipping policies. The guest policy falls back to the
// signed-in one field by field.
func (c *Config) Pricing() (pricing.Policies, error) {
	threshold, err := money("PRICING_FREE_SHIPPING_THRESHOLD", c.FreeShippingThreshold, decimal.Zero)
	if err != nil {
		return pricing.Policies{}, err
	}
	fee, err := money("PRICING_FLAT_SHIPPING_FEE", c.FlatShippingFee, decimal.Zero)
	if err != nil {
		return pricing.Policies{}, err
	}
	guestThreshold, err := money("PRICING_GUEST_FREE_SHIPPING_THRESHOLD", c.GuestFreeShippingThreshold, threshold)
	if err != nil {
		return pricing.Policies{}, err
	}
	guestFee, err := money("PRICING_GUEST_FLAT_SHIPPING_FEE", c.GuestFlatShippingFee, fee)
	if err != nil {
		return pricing.Policies{}, err
	}
	return pricing.Policies{
		Authenticated: pricing.Policy{FreeThreshold: threshold, FlatFee: fee},
		Guest:         pricing.Policy{FreeThreshold: guestThreshold, FlatFee: guestFee},
	}, nil
}

func money(name, raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid amount %q", name, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", name)
	}
	return d.Round(2), nil
}

// Merge returns the parsed merge policy.
func (c *Config) Merge() engine.MergePolicy {
	p, _ := engine.ParseMergePolicy(c.MergePolicy)
	return p
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Redis returns the client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPass, DB: c.RedisDB}
}

// Mongo returns the client configuration.
func (c *Config) Mongo() database.MongoConfig {
	return database.MongoConfig{URI: c.MongoURI, Database: c.MongoDB}
}

// EventsEnabled reports whether Kafka brokers are configured.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
