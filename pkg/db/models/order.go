package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/types"
)

// Order is the aggregate root for a single-shop purchase.
type Order struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber     string                 `gorm:"column:order_number;not null;uniqueIndex"`
	UserID          uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	ShopID          uuid.UUID              `gorm:"column:shop_id;type:uuid;not null"`
	Status          enums.OrderStatus      `gorm:"column:status;type:order_status;not null;default:'pending'"`
	SubtotalCents   int64                  `gorm:"column:subtotal_cents;not null"`
	DiscountCents   int64                  `gorm:"column:discount_cents;not null;default:0"`
	ShippingCents   int64                  `gorm:"column:shipping_cents;not null;default:0"`
	TaxCents        int64                  `gorm:"column:tax_cents;not null;default:0"`
	TotalCents      int64                  `gorm:"column:total_cents;not null"`
	ShippingAddress types.ShippingSnapshot `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	Notes           *string                `gorm:"column:notes"`
	CancelReason    *string                `gorm:"column:cancel_reason"`
	ConfirmedAt     *time.Time             `gorm:"column:confirmed_at"`
	ProcessingAt    *time.Time             `gorm:"column:processing_at"`
	ShippedAt       *time.Time             `gorm:"column:shipped_at"`
	DeliveredAt     *time.Time             `gorm:"column:delivered_at"`
	CancelledAt     *time.Time             `gorm:"column:cancelled_at"`
	Items           []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment         *Payment               `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
