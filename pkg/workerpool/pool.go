// Package workerpool bounds how many units of work run at once. Callers over
// the limit wait for a free slot instead of being rejected.
package workerpool

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
)

var errInvalidSize = errors.New("worker pool size must be positive")

type Limiter struct {
	sem     *semaphore.Weighted
	size    int64
	metrics *metrics.PoolMetrics
}

func New(size int, m *metrics.PoolMetrics) (*Limiter, error) {
	if size <= 0 {
		return nil, errInvalidSize
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		metrics: m,
	}, nil
}

// Size reports the slot count.
func (l *Limiter) Size() int {
	return int(l.size)
}

// Acquire takes a slot, blocking until one frees or ctx is done. The returned
// release func must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if !l.sem.TryAcquire(1) {
		l.metrics.WaitStarted()
		err := l.sem.Acquire(ctx, 1)
		l.metrics.WaitFinished()
		if err != nil {
			return nil, err
		}
	}
	l.metrics.Acquired()
	return func() {
		l.metrics.Released()
		l.sem.Release(1)
	}, nil
}

// Run executes fn while holding a slot.
func (l *Limiter) Run(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
