// Package app assembles the order, payment, cart and notification services
// shared by the API server and the background workers.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pharmacy-backend/internal/cart"
	"github.com/angelmondragon/pharmacy-backend/internal/inventory"
	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/internal/payments"
	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
	"github.com/angelmondragon/pharmacy-backend/pkg/sslcommerz"
)

const ipnGuardScope = "ipn"

// Domain holds the wired domain services.
type Domain struct {
	Orders         orders.Service
	Sessions       *payments.SessionService
	Reconciler     *payments.Reconciler
	Cart           cart.Service
	Notifications  notifications.Service
	NotifyRepo     *notifications.Repository
	OutboxRepo     *outbox.Repository
	PaymentMetrics *metrics.PaymentMetrics
}

// Params configure NewDomain. Gateway may be nil, in which case an
// SSLCommerz client is built from cfg.Gateway.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Gateway    payments.Gateway
}

// NewDomain builds every domain service on top of the shared clients.
func NewDomain(ctx context.Context, p Params) (*Domain, error) {
	switch {
	case p.Config == nil:
		return nil, fmt.Errorf("config required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.DB == nil:
		return nil, fmt.Errorf("database client required")
	case p.Redis == nil:
		return nil, fmt.Errorf("redis client required")
	}
	cfg := p.Config
	conn := p.DB.DB()
	paymentMetrics := metrics.NewPaymentMetrics(p.Registerer)

	gateway := p.Gateway
	if gateway == nil {
		client, err := sslcommerz.NewClient(ctx, cfg.Gateway, p.Logger, sslcommerz.WithMetrics(paymentMetrics))
		if err != nil {
			return nil, fmt.Errorf("sslcommerz client: %w", err)
		}
		gateway = client
	}

	notifyRepo := notifications.NewRepository(conn)
	notifier, err := notifications.NewService(notifyRepo)
	if err != nil {
		return nil, err
	}
	outboxRepo := outbox.NewRepository(conn)
	publisher := outbox.NewService(outboxRepo, p.Logger)

	cartSvc, err := cart.NewService(cart.NewRepository(conn), inventory.NewRepository(conn), p.DB)
	if err != nil {
		return nil, err
	}

	orderRepo := orders.NewRepository(conn)
	machine, err := orders.NewStateMachine(orderRepo, notifier, publisher, p.Logger)
	if err != nil {
		return nil, err
	}

	paymentRepo := payments.NewRepository(conn)
	transitions, err := payments.NewTransitioner(paymentRepo, publisher, notifier, p.Logger)
	if err != nil {
		return nil, err
	}

	orderSvc, err := orders.NewService(orders.Deps{
		Repo:      orderRepo,
		Tx:        p.DB,
		Inventory: inventory.NewEngine(),
		Machine:   machine,
		Payments:  transitions,
		Cart:      cartSvc,
		Notifier:  notifier,
		Outbox:    publisher,
		Pricing: orders.Pricing{
			ShippingFeeCents: cfg.Order.ShippingFeeCents,
			TaxBPS:           cfg.Order.TaxBPS,
			Currency:         gateway.Currency(),
		},
		Logger: p.Logger,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := payments.NewSessionService(paymentRepo, p.DB, gateway, callbackBase(cfg), p.Logger)
	if err != nil {
		return nil, err
	}

	guard, err := payments.NewCallbackGuard(p.Redis, cfg.Gateway.IPNDedupeTTL, ipnGuardScope)
	if err != nil {
		return nil, err
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerDeps{
		Repo:        paymentRepo,
		Tx:          p.DB,
		Gateway:     gateway,
		Orders:      machine,
		Transitions: transitions,
		Guard:       guard,
		Metrics:     paymentMetrics,
		Logger:      p.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Domain{
		Orders:         orderSvc,
		Sessions:       sessions,
		Reconciler:     reconciler,
		Cart:           cartSvc,
		Notifications:  notifier,
		NotifyRepo:     notifyRepo,
		OutboxRepo:     outboxRepo,
		PaymentMetrics: paymentMetrics,
	}, nil
}

// callbackBase is the public origin the gateway posts back to.
func callbackBase(cfg *config.Config) string {
	if base := strings.TrimSpace(cfg.Gateway.CallbackBaseURL); base != "" {
		return base
	}
	return cfg.App.PublicURL
}
