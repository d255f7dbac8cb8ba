package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem snapshots the medicine and price at purchase time.
type OrderItem struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ShopMedicineID     uuid.UUID `gorm:"column:shop_medicine_id;type:uuid;not null"`
	MedicineName       string    `gorm:"column:medicine_name;not null"`
	Strength           *string   `gorm:"column:strength"`
	Form               *string   `gorm:"column:form"`
	Manufacturer       *string   `gorm:"column:manufacturer"`
	UnitPriceCents     int64     `gorm:"column:unit_price_cents;not null"`
	DiscountPriceCents *int64    `gorm:"column:discount_price_cents"`
	Quantity           int       `gorm:"column:quantity;not null"`
	LineTotalCents     int64     `gorm:"column:line_total_cents;not null"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
}
