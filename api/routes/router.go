package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/warehouse-allocator/api/controllers"
	"github.com/angelmondragon/warehouse-allocator/api/middleware"
	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/internal/orders"
	"github.com/angelmondragon/warehouse-allocator/pkg/config"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	pkgredis "github.com/angelmondragon/warehouse-allocator/pkg/redis"
)

// Dependencies are the services the HTTP surface is built on. Redis may be
// nil, which disables idempotency replay and rate limiting.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       *pkgredis.Client
	Gatherer    prometheus.Gatherer
	Auth        middleware.Authenticator
	Orders      orders.Service
	Inventory   inventory.Service
	Products    controllers.ProductResolver
	Reoptimizer controllers.Reoptimizer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		limiterStore     middleware.RateLimiterStore
		redisPinger      controllers.Pinger
	)
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
		limiterStore = deps.Redis
		redisPinger = deps.Redis
	}

	writePolicy := middleware.RateLimitPolicy{
		Name:   "writes",
		Window: cfg.RateLimit.Window,
		Limit:  cfg.RateLimit.WriteLimit,
	}
	if cfg.RateLimit.Disabled {
		writePolicy = middleware.RateLimitPolicy{}
	}
	writeLimit := middleware.ClientRateLimit(writePolicy, limiterStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": redisPinger,
		}))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(
			middleware.APIKey(deps.Auth, logg),
			middleware.Idempotency(idempotencyStore, cfg.Idempotency.TTL, logg),
		)

		r.Route("/orders", func(r chi.Router) {
			r.With(writeLimit).Post("/", controllers.CreateOrder(deps.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(deps.Orders, logg))
			r.With(writeLimit).Post("/{orderId}/ship", controllers.ShipOrder(deps.Orders, logg))
			r.With(writeLimit).Post("/{orderId}/cancel", controllers.CancelOrder(deps.Orders, logg))
		})

		r.Get("/products", controllers.ListProducts(deps.Inventory, logg))
		r.Get("/warehouses", controllers.ListWarehouses(deps.Inventory, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(
			middleware.APIKey(deps.Auth, logg),
			middleware.RequireAdmin(logg),
			middleware.Idempotency(idempotencyStore, cfg.Idempotency.TTL, logg),
		)

		r.With(writeLimit).Post("/reoptimize", controllers.AdminReoptimize(deps.Reoptimizer, deps.Products, logg))
		r.With(writeLimit).Post("/stock/restock", controllers.AdminRestock(deps.Inventory, logg))
	})

	return r
}
