package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BoundsConcurrency(t *testing.T) {
	lim := NewLimiter(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lim.Do(ctx, func(context.Context) error {
				assert.LessOrEqual(t, lim.InFlight(), 3)
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, lim.HighWater())
	assert.Zero(t, lim.InFlight())
}

func TestLimiter_ReleasesOnPanic(t *testing.T) {
	lim := NewLimiter(1)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = lim.Do(ctx, func(context.Context) error { panic("boom") })
	})
	assert.Zero(t, lim.InFlight())

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, lim.Acquire(ctx), "slot must be free again")
	lim.Release()
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	lim := NewLimiter(1)
	require.NoError(t, lim.Acquire(context.Background()))
	defer lim.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := lim.Do(ctx, func(context.Context) error {
		t.Fatal("fn must not run without a slot")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, lim.InFlight())
}

func TestNewLimiter_MinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0).Size())
}
