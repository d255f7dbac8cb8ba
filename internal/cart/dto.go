package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
)

// CartDTO is the API view of a cart.
type CartDTO struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Items     []CartItemDTO `json:"items"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type CartItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ShopMedicineID uuid.UUID `json:"shop_medicine_id"`
	Quantity       int       `json:"quantity"`
}

// ToDTO maps a cart; a nil cart renders as empty.
func ToDTO(c *models.Cart) CartDTO {
	if c == nil {
		return CartDTO{Items: []CartItemDTO{}}
	}
	out := CartDTO{
		ID:        c.ID,
		UserID:    c.UserID,
		Items:     make([]CartItemDTO, 0, len(c.Items)),
		UpdatedAt: c.UpdatedAt,
	}
	for _, item := range c.Items {
		out.Items = append(out.Items, CartItemDTO{
			ID:             item.ID,
			ShopMedicineID: item.ShopMedicineID,
			Quantity:       item.Quantity,
		})
	}
	return out
}
