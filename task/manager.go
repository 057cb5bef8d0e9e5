package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"photoproc/archive"
	"photoproc/config"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sourcegraph/conc"
)

// ItemProcessor turns one uploaded image into one output image.
// Failures should be returned as *ItemFailure.
type ItemProcessor interface {
	Process(ctx context.Context, item Item) (Output, error)
}

type Manager struct {
	cfg        *config.Config
	store      Store
	processors map[Mode]ItemProcessor
	reaper     *Reaper
	logger     *slog.Logger
	now        func() time.Time

	// runs supervises fire-and-forget task runs so Shutdown can wait for them.
	runs      conc.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
	closeOnce sync.Once
}

func NewManager(cfg *config.Config, store Store, processors map[Mode]ItemProcessor, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if len(processors) == 0 {
		return nil, errors.New("at least one item processor is required")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		store:      store,
		processors: processors,
		reaper:     NewReaper(store, cfg.TaskMaxAge, cfg.TaskCleanupInterval, logger),
		logger:     logger,
		now:        time.Now,
		runCtx:     runCtx,
		cancelRun:  cancel,
	}
	return m, nil
}

// Start launches the background sweep of expired tasks.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("task manager started",
		"max_concurrency", m.cfg.MaxConcurrency,
		"task_max_age", m.cfg.TaskMaxAge.String(),
		"cleanup_interval", m.cfg.TaskCleanupInterval.String())
	go m.reaper.Run(ctx)
}

// Shutdown waits for in-flight runs. When ctx ends first, the runs' context is
// cancelled so pending external calls abort and their tasks resolve as failed.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.closeOnce.Do(m.cancelRun)
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached, aborting running tasks")
		m.closeOnce.Do(m.cancelRun)
		<-done
		return ctx.Err()
	}
}

// Create writes a new pending task and returns its ID.
func (m *Manager) Create(ctx context.Context, mode Mode, total int) (string, error) {
	if _, ok := m.processors[mode]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if total < 1 {
		return "", ErrInvalidTotal
	}
	t := &Task{
		ID:         shortuuid.New(),
		Mode:       mode,
		Status:     StatusPending,
		TotalFiles: total,
		StartTime:  m.now().UTC(),
	}
	if err := m.store.Create(ctx, t); err != nil {
		return "", fmt.Errorf("failed to save task: %w", err)
	}
	m.logger.Info("task created", "task_id", t.ID, "mode", mode, "total_files", total)
	return t.ID, nil
}

// Submit creates a task for items and starts processing it in the background.
func (m *Manager) Submit(ctx context.Context, mode Mode, items []Item) (string, error) {
	id, err := m.Create(ctx, mode, len(items))
	if err != nil {
		return "", err
	}
	m.Launch(id, items)
	return id, nil
}

// Launch hands the run of task id to the supervised background group.
// It returns immediately.
func (m *Manager) Launch(id string, items []Item) {
	m.runs.Go(func() {
		m.Run(m.runCtx, id, items)
	})
}

// Run drives task id to a terminal state. It never panics and reports
// every failure through the task record, since nothing else observes it.
func (m *Manager) Run(ctx context.Context, id string, items []Item) {
	logger := m.logger.With("task_id", id)
	start := m.now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task run panicked", "panic", r)
			m.fail(ctx, logger, id, fmt.Sprintf("unexpected error: %v", r), nil)
		}
	}()

	failed, err := m.run(ctx, logger, id, items)
	if err != nil {
		logger.Error("task failed", "error", err, "duration", m.now().Sub(start).String())
		m.fail(ctx, logger, id, err.Error(), failed)
		return
	}
	logger.Info("task completed",
		"total_files", len(items),
		"failed_files", len(failed),
		"duration", m.now().Sub(start).String())
}

type itemOutcome struct {
	output Output
	err    error
}

func (m *Manager) run(ctx context.Context, logger *slog.Logger, id string, items []Item) ([]ItemError, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if t.TotalFiles != len(items) {
		return nil, fmt.Errorf("task expects %d files, got %d", t.TotalFiles, len(items))
	}
	proc, ok := m.processors[t.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, t.Mode)
	}

	processing := StatusProcessing
	if err := m.store.Update(ctx, id, Update{Status: &processing}); err != nil {
		return nil, fmt.Errorf("failed to mark task processing: %w", err)
	}
	logger.Info("processing task", "mode", t.Mode, "total_files", len(items))

	// Outcomes are indexed by dispatch position so the archive keeps input order.
	outcomes := make([]itemOutcome, len(items))
	var wg conc.WaitGroup
	var dispatchErr error
	for i, item := range items {
		progress, processed := Percent(i, len(items)), i
		if err := m.store.Update(ctx, id, Update{Progress: &progress, ProcessedFiles: &processed}); err != nil {
			dispatchErr = fmt.Errorf("failed to update progress: %w", err)
			break
		}
		logger.Debug("dispatching item", "index", i, "name", item.Name, "progress", progress)
		wg.Go(func() {
			outcomes[i] = m.processItem(ctx, proc, item)
		})
	}
	wg.Wait()
	if dispatchErr != nil {
		return nil, dispatchErr
	}

	var (
		entries []archive.Entry
		failed  []ItemError
		taken   = make(map[string]bool, len(items))
	)
	for i, o := range outcomes {
		if o.err != nil {
			logger.Warn("item failed", "index", i, "name", items[i].Name, "error", o.err)
			failed = append(failed, ItemError{Name: items[i].Name, Reason: o.err.Error()})
			continue
		}
		name := uniqueName(o.output.Name, taken)
		if name != o.output.Name {
			logger.Debug("renamed duplicate output", "index", i, "name", o.output.Name, "archived_as", name)
		}
		entries = append(entries, archive.Entry{Name: name, Data: o.output.Data})
	}

	if len(entries) == 0 {
		return failed, errors.New(AllFailedMessage)
	}

	zipped, err := archive.Build(entries)
	if err != nil {
		return failed, fmt.Errorf("failed to build archive: %w", err)
	}
	if err := m.store.SetResult(ctx, id, zipped, Terminal{FailedItems: failed, EndTime: m.now().UTC()}); err != nil {
		return failed, fmt.Errorf("failed to store result: %w", err)
	}
	return failed, nil
}

// uniqueName returns name, or name with a numeric suffix before its extension
// when an earlier entry already took it, and marks the result as taken.
func uniqueName(name string, taken map[string]bool) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	taken[candidate] = true
	return candidate
}

// processItem isolates a single item: a panic in the processor becomes that item's failure.
func (m *Manager) processItem(ctx context.Context, proc ItemProcessor, item Item) (out itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = itemOutcome{err: &ItemFailure{Name: item.Name, Stage: "panic", Err: fmt.Errorf("%v", r)}}
		}
	}()
	output, err := proc.Process(ctx, item)
	if err != nil {
		var failure *ItemFailure
		if !errors.As(err, &failure) {
			err = &ItemFailure{Name: item.Name, Stage: "process", Err: err}
		}
		return itemOutcome{err: err}
	}
	return itemOutcome{output: output}
}

// fail records msg as the terminal error, best effort. The store may itself be the
// reason the run failed, so its errors are only logged.
func (m *Manager) fail(ctx context.Context, logger *slog.Logger, id, msg string, failed []ItemError) {
	// A cancelled run context must not prevent the failure from being recorded.
	ctx = context.WithoutCancel(ctx)
	err := m.store.SetError(ctx, id, msg, Terminal{FailedItems: failed, EndTime: m.now().UTC()})
	if err != nil {
		logger.Error("failed to record task failure", "error", err, "task_error", msg)
	}
}

// Status returns the current record of task id.
func (m *Manager) Status(ctx context.Context, id string) (*Task, error) {
	return m.store.Get(ctx, id)
}

// Result returns the archive of a completed task.
func (m *Manager) Result(ctx context.Context, id string) ([]byte, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, t.Status)
	}
	return m.store.GetResult(ctx, id)
}

// Download returns the archive of a completed task and removes the task.
func (m *Manager) Download(ctx context.Context, id string) ([]byte, error) {
	data, err := m.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Error("failed to delete downloaded task", "task_id", id, "error", err)
	}
	return data, nil
}

// Delete removes task id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Ping reports whether the task store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
