package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

// Repository reads shop listings. Stock writes go through Engine.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindListing loads a listing with its catalog medicine.
func (r *Repository) FindListing(ctx context.Context, id uuid.UUID) (*models.ShopMedicine, error) {
	var row models.ShopMedicine
	err := r.db.WithContext(ctx).Preload("Medicine").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "medicine listing not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load medicine listing")
	}
	return &row, nil
}
