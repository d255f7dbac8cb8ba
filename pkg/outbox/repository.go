package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

// Repository owns outbox_events and outbox_dlq.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertBatch(tx *gorm.DB, rows []models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// CountForAggregate counts queued events of a type for one aggregate.
func (r *Repository) CountForAggregate(ctx context.Context, eventType enums.OutboxEventType, aggregateID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", eventType, aggregateID).
		Count(&count).Error
	return count, err
}

// ClaimBatch returns the oldest pending events in creation order. On Postgres
// the rows stay locked until tx ends so parallel relays skip them.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	query := tx.Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	err := query.Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at.UTC()).Error
}

// MarkFailedTx records a retryable failure and bumps the attempt counter.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    cause.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// DeadLetterTx copies row into outbox_dlq and parks it at parkedAttempts so
// ClaimBatch never returns it again.
func (r *Repository) DeadLetterTx(tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQReason, cause error, parkedAttempts int, at time.Time) error {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      at.UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"last_error":    msg,
			"attempt_count": parkedAttempts,
		}).Error
}

// DeadLetters lists parked events, newest first.
func (r *Repository) DeadLetters(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// PurgeBefore deletes at most limit rows older than cutoff that are either
// published or parked after maxAttempts failures. Parked rows already have a
// DLQ copy. Oldest rows go first.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time, maxAttempts, limit int) (int64, error) {
	victims := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("id").
		Where("published_at < ?", cutoff).
		Or("published_at IS NULL AND attempt_count >= ? AND created_at < ?", maxAttempts, cutoff).
		Order("created_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", victims).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
