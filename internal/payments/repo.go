package payments

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
)

// Repository reads and writes payments and their audit trail.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&payment).Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &payment, nil
}

// FindByTransactionID resolves the current transaction id first and falls
// back to ids issued by earlier initiations of the same payment.
func (r *Repository) FindByTransactionID(ctx context.Context, tranID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("transaction_id = ?", tranID).Take(&payment).Error
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	var event models.PaymentEvent
	err = r.db.WithContext(ctx).
		Where("transaction_id = ? AND signal = ? AND payment_id IS NOT NULL", tranID, enums.PaymentSignalInitiate).
		Order("created_at DESC").
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnknownTransaction, "unknown transaction").
				WithDetails(map[string]any{"transaction_id": tranID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment history")
	}
	if err := r.db.WithContext(ctx).Where("id = ?", *event.PaymentID).Take(&payment).Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &payment, nil
}

// Lock re-reads the payment holding its row lock. Callers lock the order
// first.
func (r *Repository) Lock(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&payment).Error; err != nil {
		return nil, notFound(err, "payment")
	}
	return &payment, nil
}

func (r *Repository) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, notFound(err, "order")
	}
	return &order, nil
}

func (r *Repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, notFound(err, "order")
	}
	return &order, nil
}

func (r *Repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&shop).Error; err != nil {
		return nil, notFound(err, "shop")
	}
	return &shop, nil
}

// AssignTransaction stores a fresh transaction id while the payment is
// still pending.
func (r *Repository) AssignTransaction(ctx context.Context, id uuid.UUID, tranID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		UpdateColumns(map[string]any{
			"transaction_id": tranID,
			"session_key":    nil,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *Repository) SetSessionKey(ctx context.Context, id uuid.UUID, tranID, sessionKey string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND transaction_id = ?", id, tranID).
		UpdateColumns(map[string]any{
			"session_key": sessionKey,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// UpdateStatus moves the payment only if it is still in from.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, columns map[string]any) (int64, error) {
	updates := make(map[string]any, len(columns)+1)
	for k, v := range columns {
		updates[k] = v
	}
	updates["status"] = to
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(updates)
	return res.RowsAffected, res.Error
}

func (r *Repository) InsertEvent(ctx context.Context, event *models.PaymentEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// HasRefundEvent reports whether a refund was already recorded for the payment.
func (r *Repository) HasRefundEvent(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("payment_id = ? AND signal = ? AND outcome = ?", paymentID, enums.PaymentSignalRefund, enums.PaymentOutcomeApplied).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

// ListStalePending returns transaction ids of pending payments initiated
// before cutoff.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status = ? AND transaction_id IS NOT NULL AND updated_at < ?", enums.PaymentStatusPending, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("transaction_id", &ids).Error
	return ids, err
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
