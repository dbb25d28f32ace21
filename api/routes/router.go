package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidecrate/storefront/api/controllers"
	"github.com/tidecrate/storefront/api/middleware"
	"github.com/tidecrate/storefront/internal/auth"
	"github.com/tidecrate/storefront/internal/cart"
	"github.com/tidecrate/storefront/internal/certificates"
	"github.com/tidecrate/storefront/internal/orders"
	"github.com/tidecrate/storefront/internal/products"
	"github.com/tidecrate/storefront/internal/shipments"
	"github.com/tidecrate/storefront/pkg/auth/session"
	"github.com/tidecrate/storefront/pkg/config"
	"github.com/tidecrate/storefront/pkg/enums"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/metrics"
	pkgredis "github.com/tidecrate/storefront/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs for rate limits and
// idempotency replay. *redis.Client satisfies it.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	Sessions     session.AccessSessionChecker
	Redis        RedisStore
	Pingers      map[string]controllers.Pinger
	Gatherer     prometheus.Gatherer
	Changes      controllers.ChangeSubscriber
	Auth         auth.Service
	Products     products.Service
	Cart         cart.Service
	Orders       orders.Service
	Shipments    shipments.Service
	Certificates certificates.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	signinPolicy := middleware.NewAuthRateLimitPolicy(
		"signin",
		cfg.AuthRateLimit.SigninWindow,
		cfg.AuthRateLimit.SigninIPLimit,
		cfg.AuthRateLimit.SigninEmailLimit,
	)
	signupPolicy := middleware.NewAuthRateLimitPolicy(
		"signup",
		cfg.AuthRateLimit.SignupWindow,
		cfg.AuthRateLimit.SignupIPLimit,
		cfg.AuthRateLimit.SignupEmailLimit,
	)
	authenticated := middleware.Auth(cfg.JWT, deps.Sessions, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Pingers, logg))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(signupPolicy, deps.Redis, logg)).Post("/signup", controllers.AuthSignup(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(signinPolicy, deps.Redis, logg)).Post("/signin", controllers.AuthSignin(deps.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Auth, logg))
		r.With(authenticated).Post("/signout", controllers.AuthSignout(deps.Auth, logg))
		r.With(authenticated).Get("/session", controllers.AuthSession(deps.Auth, logg))
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", controllers.ProductList(deps.Products, logg))
		r.Get("/{slug}", controllers.ProductDetail(deps.Products, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/changes", controllers.Changes(deps.Changes, deps.Orders, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(deps.Cart, logg))
			r.Delete("/", controllers.CartClear(deps.Cart, logg))
			r.Post("/items", controllers.CartAddItem(deps.Cart, logg))
			r.Patch("/items/{itemId}", controllers.CartSetQuantity(deps.Cart, logg))
			r.Delete("/items/{itemId}", controllers.CartRemoveItem(deps.Cart, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.Checkout(deps.Orders, cfg.Uploads.MaxReceiptBytes, logg))
			r.Get("/", controllers.CustomerOrders(deps.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.OrderDetail(deps.Orders, logg))
				r.Post("/receipt", controllers.OrderReceipt(deps.Orders, cfg.Uploads.MaxReceiptBytes, logg))
				r.Get("/stages", controllers.OrderStages(deps.Shipments, deps.Orders, logg))
				r.Get("/certificates", controllers.OrderCertificates(deps.Certificates, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.RequireRole(logg, enums.AppRoleAdmin))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.AdminOrders(deps.Orders, logg))
			r.Get("/dashboard", controllers.AdminDashboard(deps.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.OrderDetail(deps.Orders, logg))
				r.Delete("/", controllers.AdminOrderDelete(deps.Orders, logg))
				r.Put("/status", controllers.AdminOrderStatus(deps.Orders, logg))
				r.Post("/approve", controllers.AdminOrderAction(deps.Orders, enums.OrderActionApprove, logg))
				r.Post("/reject", controllers.AdminOrderAction(deps.Orders, enums.OrderActionReject, logg))
				r.Post("/complete", controllers.AdminOrderAction(deps.Orders, enums.OrderActionComplete, logg))
				r.Post("/cancel", controllers.AdminOrderAction(deps.Orders, enums.OrderActionCancel, logg))
				r.Post("/certificates", controllers.AdminCertificateUpload(deps.Certificates, cfg.Uploads.MaxCertificateBytes, logg))
				r.Post("/stages/provision", controllers.AdminStagesProvision(deps.Shipments, logg))
				r.Post("/stages/advance", controllers.AdminStagesAdvance(deps.Shipments, logg))
			})
		})
		r.Delete("/certificates/{certificateId}", controllers.AdminCertificateDelete(deps.Certificates, logg))
		r.Patch("/stages/{stageId}", controllers.AdminStagePatch(deps.Shipments, logg))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.AdminProductList(deps.Products, logg))
			r.Post("/", controllers.AdminProductCreate(deps.Products, logg))
			r.Put("/{productId}", controllers.AdminProductUpdate(deps.Products, logg))
			r.Patch("/{productId}/availability", controllers.AdminProductAvailability(deps.Products, logg))
			r.Delete("/{productId}", controllers.AdminProductDelete(deps.Products, logg))
			r.Post("/{productId}/image", controllers.AdminProductImage(deps.Products, cfg.Uploads.MaxImageBytes, logg))
		})
	})

	return r
}
