package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

// OrderCreatedEvent announces a committed order and its pending payment.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	ShopID      uuid.UUID `json:"shop_id"`
	TotalCents  int64     `json:"total_cents"`
	ItemCount   int       `json:"item_count"`
}

// OrderStatusChangedEvent is emitted for every state machine transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	Actor      string            `json:"actor"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderCancelledEvent carries the restock summary of a cancellation.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	ShopID         uuid.UUID `json:"shop_id"`
	Reason         string    `json:"reason,omitempty"`
	RestockedUnits int       `json:"restocked_units"`
	CancelledAt    time.Time `json:"cancelled_at"`
}

// PaymentEvent covers succeeded, failed and cancelled payment transitions.
type PaymentEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	TransactionID string              `json:"transaction_id"`
	Status        enums.PaymentStatus `json:"status"`
	AmountCents   int64               `json:"amount_cents"`
	Reason        string              `json:"reason,omitempty"`
}

// PaymentRefundRequestedEvent asks finance to return captured funds.
type PaymentRefundRequestedEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	OrderID       uuid.UUID `json:"order_id"`
	TransactionID string    `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	Reason        string    `json:"reason"`
}
