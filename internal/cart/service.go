package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

const maxLineQuantity = 100

// Service manages a customer's single cart.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error)
	// Items returns the cart lines read through tx.
	Items(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]models.CartItem, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AddItemInput adds quantity units of a listing, on top of what is already there.
type AddItemInput struct {
	ShopMedicineID uuid.UUID `json:"shopMedicineId" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,min=1,max=100"`
}

type service struct {
	repo     CartRepository
	listings ListingLoader
	tx       txRunner
}

// NewService builds the cart service.
func NewService(repo CartRepository, listings ListingLoader, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if listings == nil {
		return nil, fmt.Errorf("listing loader required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{repo: repo, listings: listings, tx: tx}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	record, err := s.repo.FindByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return record, nil
}

func (s *service) AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.ShopMedicineID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop medicine id is required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}

	listing, err := s.listings.FindListing(ctx, input.ShopMedicineID)
	if err != nil {
		return nil, err
	}
	if !listing.IsAvailable {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, listing.Medicine.Name+" is not available")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		record, err := repo.EnsureForUser(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}

		qty := input.Quantity
		others := make([]uuid.UUID, 0, len(record.Items))
		for _, item := range record.Items {
			if item.ShopMedicineID == input.ShopMedicineID {
				qty += item.Quantity
				continue
			}
			others = append(others, item.ShopMedicineID)
		}
		if len(others) > 0 {
			var foreign int64
			if err := tx.WithContext(ctx).
				Model(&models.ShopMedicine{}).
				Where("id IN ? AND shop_id <> ?", others, listing.ShopID).
				Count(&foreign).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check cart shop")
			}
			if foreign > 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "cart already holds items from another shop")
			}
		}
		if qty > maxLineQuantity {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity per item cannot exceed %d", maxLineQuantity))
		}
		if err := repo.UpsertItem(ctx, record.ID, input.ShopMedicineID, qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, error) {
	record, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	deleted, err := s.repo.DeleteItem(ctx, record.ID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
	}
	if !deleted {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return s.Get(ctx, userID)
}

func (s *service) Items(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]models.CartItem, error) {
	record, err := s.repo.WithTx(tx).FindByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart items")
	}
	return record.Items, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.ClearItems(ctx, userID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}
