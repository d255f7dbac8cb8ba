package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/types"
)

// OrderDTO is the API shape of an order.
type OrderDTO struct {
	ID              uuid.UUID              `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	UserID          uuid.UUID              `json:"user_id"`
	ShopID          uuid.UUID              `json:"shop_id"`
	Status          enums.OrderStatus      `json:"status"`
	SubtotalCents   int64                  `json:"subtotal_cents"`
	DiscountCents   int64                  `json:"discount_cents"`
	ShippingCents   int64                  `json:"shipping_cents"`
	TaxCents        int64                  `json:"tax_cents"`
	TotalCents      int64                  `json:"total_cents"`
	ShippingAddress types.ShippingSnapshot `json:"shipping_address"`
	Notes           *string                `json:"notes,omitempty"`
	CancelReason    *string                `json:"cancel_reason,omitempty"`
	ConfirmedAt     *time.Time             `json:"confirmed_at,omitempty"`
	ProcessingAt    *time.Time             `json:"processing_at,omitempty"`
	ShippedAt       *time.Time             `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Items           []OrderItemDTO         `json:"items,omitempty"`
	Payment         *PaymentSummary        `json:"payment,omitempty"`
}

// OrderItemDTO is an immutable line snapshot.
type OrderItemDTO struct {
	ID                 uuid.UUID `json:"id"`
	ShopMedicineID     uuid.UUID `json:"shop_medicine_id"`
	MedicineName       string    `json:"medicine_name"`
	Strength           *string   `json:"strength,omitempty"`
	Form               *string   `json:"form,omitempty"`
	Manufacturer       *string   `json:"manufacturer,omitempty"`
	UnitPriceCents     int64     `json:"unit_price_cents"`
	DiscountPriceCents *int64    `json:"discount_price_cents,omitempty"`
	Quantity           int       `json:"quantity"`
	LineTotalCents     int64     `json:"line_total_cents"`
}

// PaymentSummary is the payment state embedded in order responses.
type PaymentSummary struct {
	ID            uuid.UUID           `json:"id"`
	Status        enums.PaymentStatus `json:"status"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	TransactionID *string             `json:"transaction_id,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
}

// OrderListDTO is one page of orders.
type OrderListDTO struct {
	Items  []OrderDTO `json:"items"`
	Cursor string     `json:"cursor"`
}

// ToDTO maps an order with its loaded associations.
func ToDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		ShopID:          order.ShopID,
		Status:          order.Status,
		SubtotalCents:   order.SubtotalCents,
		DiscountCents:   order.DiscountCents,
		ShippingCents:   order.ShippingCents,
		TaxCents:        order.TaxCents,
		TotalCents:      order.TotalCents,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		CancelReason:    order.CancelReason,
		ConfirmedAt:     order.ConfirmedAt,
		ProcessingAt:    order.ProcessingAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:                 item.ID,
			ShopMedicineID:     item.ShopMedicineID,
			MedicineName:       item.MedicineName,
			Strength:           item.Strength,
			Form:               item.Form,
			Manufacturer:       item.Manufacturer,
			UnitPriceCents:     item.UnitPriceCents,
			DiscountPriceCents: item.DiscountPriceCents,
			Quantity:           item.Quantity,
			LineTotalCents:     item.LineTotalCents,
		})
	}
	if p := order.Payment; p != nil {
		dto.Payment = &PaymentSummary{
			ID:            p.ID,
			Status:        p.Status,
			AmountCents:   p.AmountCents,
			Currency:      p.Currency,
			TransactionID: p.TransactionID,
			PaidAt:        p.PaidAt,
		}
	}
	return dto
}

// ToListDTO maps a page of orders.
func ToListDTO(result *ListResult) OrderListDTO {
	out := OrderListDTO{Items: make([]OrderDTO, 0, len(result.Items)), Cursor: result.Cursor}
	for i := range result.Items {
		out.Items = append(out.Items, ToDTO(&result.Items[i]))
	}
	return out
}
