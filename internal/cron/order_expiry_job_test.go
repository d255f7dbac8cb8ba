package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

type fakeOrderExpirer struct {
	cutoff  time.Time
	limit   int
	expired int
	err     error
	called  int
}

func (f *fakeOrderExpirer) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.called++
	f.cutoff = cutoff
	f.limit = limit
	return f.expired, f.err
}

func TestOrderExpiryJobUsesTTLCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := &fakeOrderExpirer{expired: 3}
	jobIface, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Orders:     orders,
		PendingTTL: 90 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewOrderExpiryJob: %v", err)
	}
	job := jobIface.(*orderExpiryJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-90 * time.Minute); !orders.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, orders.cutoff)
	}
	if orders.limit != defaultExpiryBatch {
		t.Fatalf("expected default batch %d, got %d", defaultExpiryBatch, orders.limit)
	}
}

func TestOrderExpiryJobPropagatesErrors(t *testing.T) {
	orders := &fakeOrderExpirer{expired: 1, err: errors.New("expire order x: boom")}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Orders: orders,
	})
	if err != nil {
		t.Fatalf("NewOrderExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOrderExpiryJobRequiresOrders(t *testing.T) {
	if _, err := NewOrderExpiryJob(OrderExpiryJobParams{Logger: logger.New(logger.Options{ServiceName: "test"})}); err == nil {
		t.Fatal("expected constructor error")
	}
}
