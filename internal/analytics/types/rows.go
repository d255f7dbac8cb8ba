package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderFactRow mirrors the order_facts BigQuery schema.
type OrderFactRow struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	OrderID        string             `bigquery:"order_id"`
	OrderNumber    *string            `bigquery:"order_number"`
	UserID         *string            `bigquery:"user_id"`
	ShopID         *string            `bigquery:"shop_id"`
	StatusFrom     *string            `bigquery:"status_from"`
	StatusTo       *string            `bigquery:"status_to"`
	Actor          *string            `bigquery:"actor"`
	TotalCents     *int64             `bigquery:"total_cents"`
	ItemCount      *int64             `bigquery:"item_count"`
	RestockedUnits *int64             `bigquery:"restocked_units"`
	Reason         *string            `bigquery:"reason"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}

// PaymentFactRow mirrors the payment_facts BigQuery schema.
type PaymentFactRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	PaymentID     string             `bigquery:"payment_id"`
	OrderID       string             `bigquery:"order_id"`
	TransactionID string             `bigquery:"transaction_id"`
	Status        *string            `bigquery:"status"`
	AmountCents   int64              `bigquery:"amount_cents"`
	RefundCents   int64              `bigquery:"refund_cents"`
	Reason        *string            `bigquery:"reason"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}
