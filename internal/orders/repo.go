package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/pagination"
)

const orderInsertSavepoint = "order_insert"

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

type listOrdersParams struct {
	UserID      *uuid.UUID
	ShopOwnerID *uuid.UUID
	Status      *enums.OrderStatus
	Limit       int
	Cursor      *pagination.Cursor
}

func (r *repository) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).Where("order_number = ?", number).Count(&count).Error
	return count > 0, err
}

// CreateOrder inserts the order and its items. It must run inside a
// transaction; a failed insert is rolled back to a savepoint so the caller's
// transaction stays usable.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	conn := r.db.WithContext(ctx)
	if err := conn.SavePoint(orderInsertSavepoint).Error; err != nil {
		return err
	}
	if err := conn.Omit("Payment").Create(order).Error; err != nil {
		if rbErr := conn.RollbackTo(orderInsertSavepoint).Error; rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Payment").
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		return nil, notFound(err, "order")
	}
	return &order, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&order).Error
	if err != nil {
		return nil, notFound(err, "order")
	}
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Order("created_at ASC, id ASC").Find(&order.Items).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	var payment models.Payment
	err = r.db.WithContext(ctx).Where("order_id = ?", id).Take(&payment).Error
	switch {
	case err == nil:
		order.Payment = &payment
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order payment")
	}
	return &order, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, columns map[string]any) (int64, error) {
	updates := make(map[string]any, len(columns)+1)
	for k, v := range columns {
		updates[k] = v
	}
	updates["status"] = to
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&shop).Error; err != nil {
		return nil, notFound(err, "shop")
	}
	return &shop, nil
}

func (r *repository) ListingShopID(ctx context.Context, listingID uuid.UUID) (uuid.UUID, error) {
	var listing models.ShopMedicine
	err := r.db.WithContext(ctx).Select("id", "shop_id").Where("id = ?", listingID).Take(&listing).Error
	if err != nil {
		return uuid.Nil, notFound(err, "medicine listing")
	}
	return listing.ShopID, nil
}

func (r *repository) List(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Payment")
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.ShopOwnerID != nil {
		query = query.Where("shop_id IN (?)", r.db.Model(&models.Shop{}).Select("id").Where("owner_user_id = ?", *params.ShopOwnerID))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var rows []models.Order
	if err := pagination.Apply(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Page(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, next, nil
}

// unpaidStatuses are the payment states that leave a pending order holding
// stock without a capture on the way.
var unpaidStatuses = []enums.PaymentStatus{
	enums.PaymentStatusPending,
	enums.PaymentStatusFailed,
	enums.PaymentStatusCancelled,
}

func unpaid(status enums.PaymentStatus) bool {
	for _, s := range unpaidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Joins("JOIN payments ON payments.order_id = orders.id").
		Where("orders.status = ? AND payments.status IN ? AND orders.created_at < ?", enums.OrderStatusPending, unpaidStatuses, cutoff).
		Order("orders.created_at ASC").
		Limit(limit).
		Pluck("orders.id", &ids).Error
	return ids, err
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
