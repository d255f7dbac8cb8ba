package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

// PaymentEvent is an append-only audit row for every gateway signal and
// reconciler decision.
type PaymentEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID     *uuid.UUID                `gorm:"column:payment_id;type:uuid"`
	TransactionID string                    `gorm:"column:transaction_id;not null"`
	Signal        enums.PaymentSignal       `gorm:"column:signal;type:payment_signal;not null"`
	Outcome       enums.PaymentEventOutcome `gorm:"column:outcome;type:payment_event_outcome;not null"`
	Detail        *string                   `gorm:"column:detail"`
	Payload       map[string]string         `gorm:"column:payload;type:jsonb;serializer:json"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
