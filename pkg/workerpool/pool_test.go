package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0, nil); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestRunNeverExceedsSize(t *testing.T) {
	limiter, err := New(3, nil)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Run(context.Background(), func(context.Context) error {
				now := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&peak)
					if now <= prev || atomic.CompareAndSwapInt32(&peak, prev, now) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, saw %d", peak)
	}
}

func TestRunWaitsInsteadOfDropping(t *testing.T) {
	limiter, _ := New(1, nil)
	release, err := limiter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- limiter.Run(context.Background(), func(context.Context) error { return nil })
	}()

	select {
	case <-done:
		t.Fatal("run completed while the only slot was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not complete after slot was released")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	limiter, _ := New(1, nil)
	release, _ := limiter.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	called := false
	err := limiter.Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if called {
		t.Fatal("fn must not run without a slot")
	}
}
