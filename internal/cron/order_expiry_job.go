package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

const (
	defaultPendingOrderTTL = 2 * time.Hour
	defaultExpiryBatch     = 200
)

// OrderExpiryJobParams configure the pending order expiry job.
type OrderExpiryJobParams struct {
	Logger     *logger.Logger
	Orders     pendingOrderExpirer
	PendingTTL time.Duration
	BatchSize  int
}

// pendingOrderExpirer cancels unpaid orders through the order state machine,
// restoring stock and cancelling the pending payment.
type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewOrderExpiryJob builds the job that cancels orders whose payment never completed.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders pendingOrderExpirer
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	expired, err := j.orders.ExpirePending(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"orders_expired": expired,
	})
	if err != nil {
		return fmt.Errorf("order expiry: %w", err)
	}
	j.logg.Info(logCtx, "pending order expiry complete")
	return nil
}
