package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"photoproc/task"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// goose keeps its settings in package state.
var gooseMu sync.Mutex

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const terminalCondition = "status NOT IN ('completed', 'failed')"

// SQLStore keeps tasks in SQLite or PostgreSQL.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// OpenSQL connects to the database, applies pending migrations and returns the store.
func OpenSQL(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		// A single connection serialises writers and keeps in-memory databases alive.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	case DriverPostgres:
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;"); err != nil {
			logger.Warn("failed to set sqlite pragmas", "error", err)
		}
	}

	if err := migrate(ctx, db, driver, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, postgres: driver == DriverPostgres}, nil
}

func migrate(ctx context.Context, db *sql.DB, driver string, logger *slog.Logger) error {
	dialect, dir := "sqlite3", "migrations/sqlite"
	if driver == DriverPostgres {
		dialect, dir = "postgres", "migrations/postgres"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{logger: logger})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// gooseLogger forwards goose output to slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
}

// Fatalf does not exit; goose returns the error to the caller as well.
func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) Create(ctx context.Context, t *task.Task) error {
	failed, err := encodeFailed(t.FailedItems)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO tasks
		(id, mode, status, progress, processed_files, total_files, start_time, end_time, error, failed_items)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Mode), string(t.Status), t.Progress, t.ProcessedFiles, t.TotalFiles,
		t.StartTime.UnixMilli(), nullMillis(t.EndTime), nullString(t.Error), failed)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get leaves out the result column.
func (s *SQLStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT
		id, mode, status, progress, processed_files, total_files, start_time, end_time, error, failed_items
		FROM tasks WHERE id = ?`), id)

	var (
		t      task.Task
		mode   string
		status string
		start  int64
		end    sql.NullInt64
		errMsg sql.NullString
		failed sql.NullString
	)
	err := row.Scan(&t.ID, &mode, &status, &t.Progress, &t.ProcessedFiles, &t.TotalFiles, &start, &end, &errMsg, &failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task: %w", err)
	}

	t.Mode = task.Mode(mode)
	t.Status = task.Status(status)
	t.StartTime = time.UnixMilli(start).UTC()
	if end.Valid {
		e := time.UnixMilli(end.Int64).UTC()
		t.EndTime = &e
	}
	t.Error = errMsg.String
	if failed.Valid && failed.String != "" {
		if err := json.Unmarshal([]byte(failed.String), &t.FailedItems); err != nil {
			return nil, fmt.Errorf("failed to decode failed items: %w", err)
		}
	}
	return &t, nil
}

func (s *SQLStore) GetResult(ctx context.Context, id string) ([]byte, error) {
	var result []byte
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT result FROM tasks WHERE id = ?`), id).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task result: %w", err)
	}
	if len(result) == 0 {
		return nil, task.ErrResultMissing
	}
	return result, nil
}

// Update runs as one conditional statement; the WHERE clause carries every rule.
func (s *SQLStore) Update(ctx context.Context, id string, u task.Update) error {
	if u.Status != nil && *u.Status != task.StatusPending && *u.Status != task.StatusProcessing {
		return fmt.Errorf("%w: status %s is set through SetResult or SetError", task.ErrInvalidUpdate, *u.Status)
	}
	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 100) {
		return fmt.Errorf("%w: progress %d outside [0, 100]", task.ErrInvalidUpdate, *u.Progress)
	}

	var sets []string
	var setArgs []any
	conds := []string{"id = ?", terminalCondition}
	condArgs := []any{id}

	if u.Status != nil {
		sets = append(sets, "status = ?")
		setArgs = append(setArgs, string(*u.Status))
		if *u.Status == task.StatusPending {
			conds = append(conds, "status = 'pending'")
		}
	}
	if u.Progress != nil {
		sets = append(sets, "progress = ?")
		setArgs = append(setArgs, *u.Progress)
		conds = append(conds, "progress <= ?")
		condArgs = append(condArgs, *u.Progress)
	}
	if u.ProcessedFiles != nil {
		sets = append(sets, "processed_files = ?")
		setArgs = append(setArgs, *u.ProcessedFiles)
		conds = append(conds, "processed_files <= ?", "total_files >= ?")
		condArgs = append(condArgs, *u.ProcessedFiles, *u.ProcessedFiles)
	}
	if len(sets) == 0 {
		return s.explain(ctx, id, nil)
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(conds, " AND ")
	n, err := s.exec(ctx, query, append(setArgs, condArgs...)...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, id, task.ErrInvalidUpdate)
	}
	return nil
}

func (s *SQLStore) SetResult(ctx context.Context, id string, result []byte, term task.Terminal) error {
	failed, err := encodeFailed(term.FailedItems)
	if err != nil {
		return err
	}
	n, err := s.exec(ctx, `UPDATE tasks SET
		status = 'completed', progress = 100, processed_files = total_files,
		end_time = ?, error = NULL, failed_items = ?, result = ?
		WHERE id = ? AND `+terminalCondition,
		term.EndTime.UnixMilli(), failed, result, id)
	if err != nil {
		return fmt.Errorf("failed to store task result: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, id, nil)
	}
	return nil
}

func (s *SQLStore) SetError(ctx context.Context, id string, msg string, term task.Terminal) error {
	if msg == "" {
		msg = "unknown error"
	}
	failed, err := encodeFailed(term.FailedItems)
	if err != nil {
		return err
	}
	n, err := s.exec(ctx, `UPDATE tasks SET
		status = 'failed', end_time = ?, error = ?, failed_items = ?
		WHERE id = ? AND `+terminalCondition,
		term.EndTime.UnixMilli(), msg, failed, id)
	if err != nil {
		return fmt.Errorf("failed to store task error: %w", err)
	}
	if n == 0 {
		return s.explain(ctx, id, nil)
	}
	return nil
}

// explain works out why a conditional write matched no row. fallback is returned when
// the task exists and is still running; nil fallback means no error in that case.
func (s *SQLStore) explain(ctx context.Context, id string, fallback error) error {
	var status string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM tasks WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return task.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read task status: %w", err)
	}
	if task.Status(status).Terminal() {
		return task.ErrTerminal
	}
	return fallback
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	n, err := s.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.exec(ctx, `DELETE FROM tasks WHERE end_time IS NOT NULL AND end_time < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tasks: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeFailed(items []task.ItemError) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode failed items: %w", err)
	}
	return string(data), nil
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
