// Package storetest holds behaviour checks shared by every task.Store implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"photoproc/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) task.Store

func newTask(id string, total int, start time.Time) *task.Task {
	return &task.Task{
		ID:         id,
		Mode:       task.ModeWhite,
		Status:     task.StatusPending,
		TotalFiles: total,
		StartTime:  start,
	}
}

func ptr[T any](v T) *T { return &v }

// Run exercises newStore against the task.Store contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("t1", 3, start)))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.ID)
		assert.Equal(t, task.ModeWhite, got.Mode)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, 3, got.TotalFiles)
		assert.Zero(t, got.ProcessedFiles)
		assert.Zero(t, got.Progress)
		assert.True(t, start.Equal(got.StartTime))
		assert.Nil(t, got.EndTime)
		assert.Empty(t, got.Error)
	})

	t.Run("unknown id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
		assert.ErrorIs(t, s.Update(ctx, "missing", task.Update{Progress: ptr(1)}), task.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "missing"), task.ErrNotFound)
		_, err = s.GetResult(ctx, "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("update progress", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("t1", 4, start)))

		require.NoError(t, s.Update(ctx, "t1", task.Update{Status: ptr(task.StatusProcessing)}))
		require.NoError(t, s.Update(ctx, "t1", task.Update{Progress: ptr(50), ProcessedFiles: ptr(2)}))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusProcessing, got.Status)
		assert.Equal(t, 50, got.Progress)
		assert.Equal(t, 2, got.ProcessedFiles)

		err = s.Update(ctx, "t1", task.Update{Progress: ptr(25)})
		assert.ErrorIs(t, err, task.ErrInvalidUpdate, "progress never decreases")
		err = s.Update(ctx, "t1", task.Update{ProcessedFiles: ptr(5)})
		assert.ErrorIs(t, err, task.ErrInvalidUpdate, "processed files never exceed total")
		err = s.Update(ctx, "t1", task.Update{Status: ptr(task.StatusCompleted)})
		assert.ErrorIs(t, err, task.ErrInvalidUpdate)

		got, err = s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 50, got.Progress, "rejected updates leave the record untouched")
	})

	t.Run("set result", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("t1", 2, start)))
		end := start.Add(time.Minute)
		failed := []task.ItemError{{Name: "b.jpg", Reason: "boom"}}

		require.NoError(t, s.SetResult(ctx, "t1", []byte("zip-bytes"), task.Terminal{FailedItems: failed, EndTime: end}))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, 2, got.ProcessedFiles)
		require.NotNil(t, got.EndTime)
		assert.True(t, end.Equal(*got.EndTime))
		assert.Equal(t, failed, got.FailedItems)

		data, err := s.GetResult(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []byte("zip-bytes"), data)
	})

	t.Run("set error", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("t1", 2, start)))
		require.NoError(t, s.Update(ctx, "t1", task.Update{Status: ptr(task.StatusProcessing), Progress: ptr(50), ProcessedFiles: ptr(1)}))

		require.NoError(t, s.SetError(ctx, "t1", "it broke", task.Terminal{EndTime: start.Add(time.Second)}))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, "it broke", got.Error)
		assert.Equal(t, 50, got.Progress)
		assert.NotNil(t, got.EndTime)

		_, err = s.GetResult(ctx, "t1")
		assert.ErrorIs(t, err, task.ErrResultMissing)
	})

	t.Run("terminal tasks are frozen", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("done", 1, start)))
		require.NoError(t, s.SetResult(ctx, "done", []byte("z"), task.Terminal{EndTime: start}))

		assert.ErrorIs(t, s.Update(ctx, "done", task.Update{Progress: ptr(100)}), task.ErrTerminal)
		assert.ErrorIs(t, s.SetError(ctx, "done", "late", task.Terminal{EndTime: start}), task.ErrTerminal)
		assert.ErrorIs(t, s.SetResult(ctx, "done", []byte("other"), task.Terminal{EndTime: start}), task.ErrTerminal)

		got, err := s.Get(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.Empty(t, got.Error)
		data, err := s.GetResult(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, []byte("z"), data)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("t1", 1, start)))
		require.NoError(t, s.SetResult(ctx, "t1", []byte("z"), task.Terminal{EndTime: start}))

		require.NoError(t, s.Delete(ctx, "t1"))
		_, err := s.Get(ctx, "t1")
		assert.ErrorIs(t, err, task.ErrNotFound)
		_, err = s.GetResult(ctx, "t1")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("delete older than", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"old", "recent", "running"} {
			require.NoError(t, s.Create(ctx, newTask(id, 1, start)))
		}
		require.NoError(t, s.SetResult(ctx, "old", []byte("z"), task.Terminal{EndTime: start.Add(-48 * time.Hour)}))
		require.NoError(t, s.SetError(ctx, "recent", "x", task.Terminal{EndTime: start.Add(-time.Hour)}))

		cutoff := start.Add(-24 * time.Hour)
		n, err := s.DeleteOlderThan(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Get(ctx, "old")
		assert.ErrorIs(t, err, task.ErrNotFound)
		_, err = s.Get(ctx, "recent")
		assert.NoError(t, err)
		_, err = s.Get(ctx, "running")
		assert.NoError(t, err, "tasks without an end time are never swept")

		n, err = s.DeleteOlderThan(ctx, cutoff)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("concurrent updates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newTask("t1", 20, start)))
		require.NoError(t, s.Update(ctx, "t1", task.Update{Status: ptr(task.StatusProcessing)}))

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Out-of-order writers are rejected; the record must stay consistent.
				_ = s.Update(ctx, "t1", task.Update{Progress: ptr(i * 5), ProcessedFiles: ptr(i)})
			}(i)
		}
		wg.Wait()

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, got.ProcessedFiles*5, got.Progress)
		assert.Positive(t, got.ProcessedFiles)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}
