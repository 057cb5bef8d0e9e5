package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"photoproc/logger"
	"photoproc/task"
	"photoproc/task/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	dsn := fmt.Sprintf("file:photoproc_%s?mode=memory&cache=shared", uuid.NewString())
	s, err := OpenSQL(context.Background(), DriverSQLite, dsn, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) task.Store {
		return openTestSQLite(t)
	})
}

func TestSQLStore_MigrationsAreIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:photoproc_%s?mode=memory&cache=shared", uuid.NewString())
	ctx := context.Background()

	first, err := OpenSQL(ctx, DriverSQLite, dsn, logger.Discard())
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.Create(ctx, &task.Task{ID: "kept", Mode: task.ModeWhite, Status: task.StatusPending, TotalFiles: 1, StartTime: time.Now()}))

	// The shared-cache database lives while first holds its connection.
	second, err := OpenSQL(ctx, DriverSQLite, dsn, logger.Discard())
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Get(ctx, "kept")
	assert.NoError(t, err)
}

func TestSQLStore_GetDoesNotLoadResult(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	require.NoError(t, s.Create(ctx, &task.Task{ID: "t1", Mode: task.ModeInterior, Status: task.StatusPending, TotalFiles: 1, StartTime: time.Now()}))
	require.NoError(t, s.SetResult(ctx, "t1", make([]byte, 1<<20), task.Terminal{EndTime: time.Now()}))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.ModeInterior, got.Mode)
	assert.Equal(t, task.StatusCompleted, got.Status)

	data, err := s.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, data, 1<<20)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mysql", "", logger.Discard())
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{postgres: true}
	assert.Equal(t, "UPDATE tasks SET a = $1 WHERE id = $2 AND b <= $3", pg.rebind("UPDATE tasks SET a = ? WHERE id = ? AND b <= ?"))

	lite := &SQLStore{}
	assert.Equal(t, "SELECT ? FROM x", lite.rebind("SELECT ? FROM x"))
}
