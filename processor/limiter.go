package processor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many external transform calls run at once across all tasks.
type Limiter struct {
	sem       *semaphore.Weighted
	size      int
	inFlight  atomic.Int64
	highWater atomic.Int64
}

func NewLimiter(size int) *Limiter {
	if size < 1 {
		size = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := l.inFlight.Add(1)
	for {
		hw := l.highWater.Load()
		if n <= hw || l.highWater.CompareAndSwap(hw, n) {
			break
		}
	}
	return nil
}

func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released however fn returns, panics included.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

func (l *Limiter) Size() int { return l.size }

// InFlight is the number of slots currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// HighWater is the largest InFlight value observed so far.
func (l *Limiter) HighWater() int { return int(l.highWater.Load()) }
