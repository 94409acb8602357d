package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/cartsync/internal/checkout"
	"github.com/utafrali/cartsync/internal/service"
	"github.com/utafrali/cartsync/pkg/health"
	"github.com/utafrali/cartsync/pkg/middleware"
)

const serviceName = "cartsync"

// RouterDeps collects what NewRouter needs.
type RouterDeps struct {
	Carts       *service.CartService
	Wishlists   *service.WishlistService
	Checkout    *checkout.Coordinator
	Health      *health.Handler
	Logger      *slog.Logger
	Identity    IdentityConfig
	Tokens      middleware.TokenValidator
	RateLimiter *middleware.RateLimiter
	CORS        middleware.CORSConfig
	PprofCIDRs  []string
}

// NewRouter creates a chi router with every cartsync route registered.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(d.Logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(d.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.CORS(d.CORS))

	r.Get("/health/live", d.Health.LivenessHandler())
	r.Get("/health/ready", d.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, d.PprofCIDRs, d.Logger)

	carts := NewCartHandler(d.Carts, d.Logger)
	wishlists := NewWishlistHandler(d.Wishlists, d.Carts, d.Logger)
	orders := NewOrderHandler(d.Checkout, d.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		if d.Tokens != nil {
			r.Use(middleware.OptionalAuth(d.Tokens))
		}
		r.Use(Identity(d.Identity))
		r.Use(middleware.RequestLogger(d.Logger))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware(subjectRateKey, d.Logger))
		}
		r.Use(ContentTypeJSON)

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.NoStore)

			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Post("/merge", carts.Merge)

			r.Post("/items", carts.AddItem)
			r.Put("/items/{productId}", carts.SetQuantity)
			r.Delete("/items/{productId}", carts.RemoveItem)
			r.Post("/items/{productId}/move-to-wishlist", carts.MoveToWishlist)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Use(middleware.NoStore)

			r.Get("/", wishlists.GetWishlist)
			r.Delete("/", wishlists.ClearWishlist)

			r.Post("/items", wishlists.AddItem)
			r.Delete("/items/{productId}", wishlists.RemoveItem)
			r.Post("/items/{productId}/move-to-cart", wishlists.MoveToCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orders.PlaceOrder)
			r.Get("/", orders.ListOrders)
			r.Get("/{id}", orders.GetOrder)
		})
	})

	return r
}
