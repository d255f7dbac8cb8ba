package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

// ReservationRequest asks for qty units of one shop listing.
type ReservationRequest struct {
	ShopMedicineID uuid.UUID
	Quantity       int
}

// RestoreRequest returns qty units to one shop listing.
type RestoreRequest struct {
	ShopMedicineID uuid.UUID
	Quantity       int
}

// Reserver decrements stock inside the caller's transaction.
type Reserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, shopID uuid.UUID, requests []ReservationRequest) ([]models.ShopMedicine, error)
}

// Restorer returns stock inside the caller's transaction.
type Restorer interface {
	Restore(ctx context.Context, tx *gorm.DB, items []RestoreRequest) error
}

// Engine is the only writer of shop_medicines.stock_quantity.
type Engine struct{}

func NewEngine() Engine {
	return Engine{}
}

// Reserve validates every request against shopID and decrements stock with a
// conditional update per listing. Any error leaves the caller's transaction to
// roll back earlier decrements. The returned listings carry post-decrement stock
// and their medicine, in request order (merged duplicates appear once).
func (Engine) Reserve(ctx context.Context, tx *gorm.DB, shopID uuid.UUID, requests []ReservationRequest) ([]models.ShopMedicine, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	if len(requests) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	merged, order, err := mergeRequests(requests)
	if err != nil {
		return nil, err
	}

	var rows []models.ShopMedicine
	if err := tx.WithContext(ctx).
		Preload("Medicine").
		Where("id IN ?", order).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop medicines")
	}
	byID := make(map[uuid.UUID]models.ShopMedicine, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	for _, id := range order {
		row, ok := byID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "medicine listing not found").
				WithDetails(map[string]any{"shop_medicine_id": id.String()})
		}
		if row.ShopID != shopID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "all items must belong to the same shop").
				WithDetails(map[string]any{
					"shop_medicine_id": id.String(),
					"medicine":         row.Medicine.Name,
				})
		}
		if !row.IsAvailable {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, row.Medicine.Name+" is not available").
				WithDetails(itemDetails(row, merged[id], 0))
		}
		if row.StockQuantity < merged[id] {
			return nil, insufficientStock(row, merged[id], row.StockQuantity)
		}
	}

	// Decrement in id order so concurrent checkouts touching the same listings
	// take row locks in the same sequence.
	sorted := append([]uuid.UUID(nil), order...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	for _, id := range sorted {
		qty := merged[id]
		res := tx.WithContext(ctx).
			Model(&models.ShopMedicine{}).
			Where("id = ? AND is_available = ? AND stock_quantity >= ?", id, true, qty).
			UpdateColumns(map[string]any{
				"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
				"updated_at":     gorm.Expr("CURRENT_TIMESTAMP"),
			})
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
		}
		if res.RowsAffected != 1 {
			// Another checkout won the race after our read.
			current, err := currentStock(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			return nil, insufficientStock(byID[id], qty, current)
		}
		row := byID[id]
		row.StockQuantity -= qty
		byID[id] = row
	}

	out := make([]models.ShopMedicine, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Restore adds quantities back. It is the inverse of Reserve and runs in the
// caller's transaction.
func (Engine) Restore(ctx context.Context, tx *gorm.DB, items []RestoreRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory restore")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		res := tx.WithContext(ctx).
			Model(&models.ShopMedicine{}).
			Where("id = ?", item.ShopMedicineID).
			UpdateColumns(map[string]any{
				"stock_quantity": gorm.Expr("stock_quantity + ?", item.Quantity),
				"updated_at":     gorm.Expr("CURRENT_TIMESTAMP"),
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore stock")
		}
		if res.RowsAffected != 1 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "medicine listing not found").
				WithDetails(map[string]any{"shop_medicine_id": item.ShopMedicineID.String()})
		}
	}
	return nil
}

func mergeRequests(requests []ReservationRequest) (map[uuid.UUID]int, []uuid.UUID, error) {
	merged := make(map[uuid.UUID]int, len(requests))
	order := make([]uuid.UUID, 0, len(requests))
	for _, req := range requests {
		if req.ShopMedicineID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "shop medicine id is required")
		}
		if req.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").
				WithDetails(map[string]any{"shop_medicine_id": req.ShopMedicineID.String()})
		}
		if _, seen := merged[req.ShopMedicineID]; !seen {
			order = append(order, req.ShopMedicineID)
		}
		merged[req.ShopMedicineID] += req.Quantity
	}
	return merged, order, nil
}

func currentStock(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error) {
	var row models.ShopMedicine
	err := tx.WithContext(ctx).Select("stock_quantity").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read stock")
	}
	return row.StockQuantity, nil
}

func insufficientStock(row models.ShopMedicine, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for "+row.Medicine.Name).
		WithDetails(itemDetails(row, requested, available))
}

func itemDetails(row models.ShopMedicine, requested, available int) map[string]any {
	return map[string]any{
		"shop_medicine_id": row.ID.String(),
		"medicine":         row.Medicine.Name,
		"requested":        requested,
		"available":        available,
	}
}
