package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

// Payment is the single gateway payment attached to an order.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	UserID            uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	AmountCents       int64               `gorm:"column:amount_cents;not null"`
	Currency          string              `gorm:"column:currency;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	TransactionID     *string             `gorm:"column:transaction_id;uniqueIndex"`
	SessionKey        *string             `gorm:"column:session_key"`
	ValidationID      *string             `gorm:"column:validation_id"`
	BankTransactionID *string             `gorm:"column:bank_transaction_id"`
	CardType          *string             `gorm:"column:card_type"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	PaidAt            *time.Time          `gorm:"column:paid_at"`
	FailedAt          *time.Time          `gorm:"column:failed_at"`
	CancelledAt       *time.Time          `gorm:"column:cancelled_at"`
	RefundedAt        *time.Time          `gorm:"column:refunded_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
