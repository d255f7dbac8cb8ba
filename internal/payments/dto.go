package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

// PaymentDTO is the API view of a payment.
type PaymentDTO struct {
	ID                uuid.UUID           `json:"id"`
	OrderID           uuid.UUID           `json:"order_id"`
	AmountCents       int64               `json:"amount_cents"`
	Currency          string              `json:"currency"`
	Status            enums.PaymentStatus `json:"status"`
	TransactionID     *string             `json:"transaction_id,omitempty"`
	ValidationID      *string             `json:"validation_id,omitempty"`
	BankTransactionID *string             `json:"bank_transaction_id,omitempty"`
	CardType          *string             `json:"card_type,omitempty"`
	FailureReason     *string             `json:"failure_reason,omitempty"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
	FailedAt          *time.Time          `json:"failed_at,omitempty"`
	CancelledAt       *time.Time          `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func ToDTO(p *models.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                p.ID,
		OrderID:           p.OrderID,
		AmountCents:       p.AmountCents,
		Currency:          p.Currency,
		Status:            p.Status,
		TransactionID:     p.TransactionID,
		ValidationID:      p.ValidationID,
		BankTransactionID: p.BankTransactionID,
		CardType:          p.CardType,
		FailureReason:     p.FailureReason,
		PaidAt:            p.PaidAt,
		FailedAt:          p.FailedAt,
		CancelledAt:       p.CancelledAt,
		RefundedAt:        p.RefundedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// OutcomeDTO is returned by the verify endpoint.
type OutcomeDTO struct {
	TransactionID   string                    `json:"transaction_id"`
	OrderID         uuid.UUID                 `json:"order_id"`
	Status          enums.PaymentStatus       `json:"status"`
	Result          enums.PaymentEventOutcome `json:"result"`
	RefundRequested bool                      `json:"refund_requested"`
}

func (o *Outcome) DTO() OutcomeDTO {
	return OutcomeDTO{
		TransactionID:   o.TransactionID,
		OrderID:         o.OrderID,
		Status:          o.Status,
		Result:          o.Result,
		RefundRequested: o.RefundRequested,
	}
}
