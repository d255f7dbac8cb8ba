package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/pharmacy-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/pharmacy-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/pharmacy-backend/api/controllers/payments"
	"github.com/angelmondragon/pharmacy-backend/api/middleware"
	"github.com/angelmondragon/pharmacy-backend/internal/cart"
	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
	"github.com/angelmondragon/pharmacy-backend/pkg/workerpool"
)

// RedisStore is the redis surface the HTTP layer needs.
type RedisStore interface {
	redis.Pinger
	redis.IdempotencyStore
	redis.RateLimiter
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	pool *workerpool.Limiter,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTPMetrics,
	cartService cart.Service,
	notificationsService notifications.Service,
	ordersSvc orders.Service,
	sessions paymentcontrollers.SessionService,
	reconciler paymentcontrollers.Reconciler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.AllowedOrigins()),
		middleware.Concurrency(pool, logg),
	)

	initiatePolicy := middleware.NewRateLimitPolicy("payment-initiate", cfg.RateLimit.InitiateWindow, cfg.RateLimit.InitiateLimit)
	verifyPolicy := middleware.NewRateLimitPolicy("payment-verify", cfg.RateLimit.VerifyWindow, cfg.RateLimit.VerifyLimit)
	callbackPolicy := middleware.NewRateLimitPolicy("payment-callback", cfg.RateLimit.CallbackWindow, cfg.RateLimit.CallbackLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisStore))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Gateway callbacks are unauthenticated form posts.
	r.Route("/api/v1/payments", func(r chi.Router) {
		// The IPN is acknowledged unconditionally, so it stays outside the limiter.
		r.Post("/ipn", paymentcontrollers.IPN(reconciler, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(callbackPolicy, redisStore, logg))
			r.Post("/success", paymentcontrollers.Success(reconciler, cfg.App.FrontendURL, logg))
			r.Post("/fail", paymentcontrollers.Fail(reconciler, cfg.App.FrontendURL, logg))
			r.Post("/cancel", paymentcontrollers.Cancel(reconciler, cfg.App.FrontendURL, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(redisStore, logg))
			r.With(middleware.RateLimit(initiatePolicy, redisStore, logg)).
				Post("/initiate/{orderId}", paymentcontrollers.Initiate(sessions, logg))
			r.Get("/order/{orderId}", paymentcontrollers.ForOrder(sessions, logg))
			r.With(middleware.RateLimit(verifyPolicy, redisStore, logg)).
				Post("/verify/{transactionId}", paymentcontrollers.Verify(reconciler, logg))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.Post("/from-cart", ordercontrollers.CreateFromCart(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleShopOwner, enums.ActorRoleAdmin)).
				Patch("/{orderId}/status", ordercontrollers.UpdateStatus(ordersSvc, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.GetCart(cartService, logg))
			r.Delete("/", controllers.ClearCart(cartService, logg))
			r.Post("/items", controllers.AddCartItem(cartService, logg))
			r.Delete("/items/{itemId}", controllers.RemoveCartItem(cartService, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
		})
	})

	return r
}
