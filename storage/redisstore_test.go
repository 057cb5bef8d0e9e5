package storage

import (
	"context"
	"testing"
	"time"

	"photoproc/task"
	"photoproc/task/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test"), mr
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) task.Store {
		s, _ := newTestRedis(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	end := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, s.Create(ctx, &task.Task{ID: "abc", Mode: task.ModeWhite, Status: task.StatusPending, TotalFiles: 1, StartTime: end.Add(-time.Minute)}))
	assert.True(t, mr.Exists("test:task:abc"))
	assert.False(t, mr.Exists("test:tasks:ended"), "running tasks are not scheduled for expiry")

	require.NoError(t, s.SetResult(ctx, "abc", []byte("zip"), task.Terminal{EndTime: end}))
	got, err := mr.Get("test:task:abc:result")
	require.NoError(t, err)
	assert.Equal(t, "zip", got)

	score, err := mr.ZScore("test:tasks:ended", "abc")
	require.NoError(t, err)
	assert.Equal(t, float64(end.UnixMilli()), score)

	require.NoError(t, s.Delete(ctx, "abc"))
	assert.False(t, mr.Exists("test:task:abc"))
	assert.False(t, mr.Exists("test:task:abc:result"))
}

func TestRedisStore_PingAfterServerStops(t *testing.T) {
	s, mr := newTestRedis(t)
	require.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
