package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

const (
	defaultStalePaymentAge = 15 * time.Minute
	defaultReconcileBatch  = 100
)

// PaymentReconcileJobParams configure the stale payment sweep.
type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler stalePaymentReconciler
	StaleAfter time.Duration
	BatchSize  int
}

type stalePaymentReconciler interface {
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewPaymentReconcileJob builds the job that re-verifies pending payments whose
// gateway callbacks never arrived.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payment reconciler required")
	}
	age := params.StaleAfter
	if age <= 0 {
		age = defaultStalePaymentAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		age:        age,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	reconciler stalePaymentReconciler
	age        time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	settled, err := j.reconciler.ReconcileStale(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("stale payment reconcile: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"payments_settled": settled,
	})
	j.logg.Info(logCtx, "stale payment reconcile complete")
	return nil
}
