package payments

import (
	"context"
	"net/url"

	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/sslcommerz"
)

// Gateway is the hosted checkout provider, satisfied by *sslcommerz.Client.
type Gateway interface {
	InitiateSession(ctx context.Context, params sslcommerz.SessionParams) (*sslcommerz.Session, error)
	Validate(ctx context.Context, valID string) (*sslcommerz.Validation, error)
	QueryTransaction(ctx context.Context, tranID string) ([]sslcommerz.Validation, error)
	VerifySignature(values url.Values) (ok bool, present bool)
	Currency() string
}

// OrderTransitioner is satisfied by *orders.StateMachine.
type OrderTransitioner interface {
	Transition(ctx context.Context, tx *gorm.DB, order *models.Order, req orders.TransitionRequest) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, msg notifications.Message) error
}

type callbackGuard interface {
	Claim(ctx context.Context, p CallbackPayload) (bool, error)
	Release(ctx context.Context, p CallbackPayload) error
}
