package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/inventory"
	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/pagination"
)

// Repository defines the persistence surface of the order aggregate.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// LockByID loads the order holding its row lock until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, columns map[string]any) (int64, error)
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	ListingShopID(ctx context.Context, listingID uuid.UUID) (uuid.UUID, error)
	List(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// InventoryReserver is satisfied by inventory.Engine.
type InventoryReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, shopID uuid.UUID, requests []inventory.ReservationRequest) ([]models.ShopMedicine, error)
	Restore(ctx context.Context, tx *gorm.DB, items []inventory.RestoreRequest) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, msg notifications.Message) error
}

// CartSource supplies cart lines for checkout and empties the cart afterwards.
type CartSource interface {
	Items(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]models.CartItem, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

// PaymentCanceller settles the order's payment when the order is cancelled:
// a pending payment is cancelled, a captured one is refunded.
type PaymentCanceller interface {
	CancelForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
}
