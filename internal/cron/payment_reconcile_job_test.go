package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

type fakeStaleReconciler struct {
	cutoff time.Time
	limit  int
	err    error
}

func (f *fakeStaleReconciler) ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoff = cutoff
	f.limit = limit
	return 2, f.err
}

func TestPaymentReconcileJobSweepsStalePayments(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reconciler := &fakeStaleReconciler{}
	jobIface, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: reconciler,
		BatchSize:  25,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	job := jobIface.(*paymentReconcileJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-defaultStalePaymentAge); !reconciler.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, reconciler.cutoff)
	}
	if reconciler.limit != 25 {
		t.Fatalf("expected limit 25, got %d", reconciler.limit)
	}
}

func TestPaymentReconcileJobPropagatesErrors(t *testing.T) {
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: &fakeStaleReconciler{err: errors.New("gateway down")},
	})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
