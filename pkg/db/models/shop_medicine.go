package models

import (
	"time"

	"github.com/google/uuid"
)

// ShopMedicine is a shop's priced, stocked listing of a catalog medicine.
type ShopMedicine struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopID             uuid.UUID `gorm:"column:shop_id;type:uuid;not null"`
	MedicineID         uuid.UUID `gorm:"column:medicine_id;type:uuid;not null"`
	PriceCents         int64     `gorm:"column:price_cents;not null"`
	DiscountPriceCents *int64    `gorm:"column:discount_price_cents"`
	StockQuantity      int       `gorm:"column:stock_quantity;not null;default:0"`
	IsAvailable        bool      `gorm:"column:is_available;not null;default:true"`
	Medicine           Medicine  `gorm:"foreignKey:MedicineID"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectiveUnitPriceCents is the discount price when present, otherwise the list price.
func (m ShopMedicine) EffectiveUnitPriceCents() int64 {
	if m.DiscountPriceCents != nil {
		return *m.DiscountPriceCents
	}
	return m.PriceCents
}
