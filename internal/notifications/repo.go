package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/pagination"
)

// Filter narrows a notification listing to one user.
type Filter struct {
	UserID     uuid.UUID
	UnreadOnly bool
	Kinds      []enums.NotificationKind
}

// Repository persists notifications. Methods taking a tx run on it when it is
// non-nil so inserts can join the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *Repository) scope(ctx context.Context, f Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", f.UserID)
	if f.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if len(f.Kinds) > 0 {
		q = q.Where("kind IN ?", f.Kinds)
	}
	return q
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return r.conn(ctx, tx).Create(n).Error
}

// Page returns up to limit rows newest first and the cursor of the next page.
func (r *Repository) Page(ctx context.Context, f Filter, cursor *pagination.Cursor, limit int) ([]models.Notification, *pagination.Cursor, error) {
	var rows []models.Notification
	if err := pagination.Apply(r.scope(ctx, f), cursor, limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Page(rows, limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.scope(ctx, Filter{UserID: userID, UnreadOnly: true}).Count(&n).Error
	return n, err
}

// MarkRead stamps read_at unless already set and reports whether the row
// exists for userID. Re-reading keeps the original timestamp.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumn("read_at", gorm.Expr("COALESCE(read_at, ?)", at))
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.scope(ctx, Filter{UserID: userID, UnreadOnly: true}).UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// PurgeReadBefore deletes up to limit read notifications created before
// cutoff. Unread rows are kept regardless of age.
func (r *Repository) PurgeReadBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	victims := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Select("id").
		Where("read_at IS NOT NULL AND created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", victims).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
