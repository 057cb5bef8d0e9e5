package task

import (
	"context"
	"sync"
	"time"
)

// Store persists task records. Every method is atomic with respect to a single task ID,
// and implementations must be safe for concurrent use.
type Store interface {
	// Create inserts t as given.
	Create(ctx context.Context, t *Task) error

	// Get returns the task without its result bytes, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// GetResult returns the archive of a completed task, or ErrResultMissing.
	GetResult(ctx context.Context, id string) ([]byte, error)

	// Update applies a non-terminal change. Returns ErrTerminal once the task has finished.
	Update(ctx context.Context, id string, u Update) error

	// SetResult stores the archive and marks the task completed.
	SetResult(ctx context.Context, id string, result []byte, term Terminal) error

	// SetError stores msg and marks the task failed.
	SetError(ctx context.Context, id string, msg string, term Terminal) error

	// Delete removes the task and its result. Returns ErrNotFound for unknown IDs.
	Delete(ctx context.Context, id string) error

	// DeleteOlderThan removes finished tasks whose end time is before cutoff
	// and returns how many were removed. Unfinished tasks are never touched.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

type memoryEntry struct {
	task   *Task
	result []byte
}

// MemoryStore keeps tasks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = &memoryEntry{task: t.Clone()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.task.Clone(), nil
}

func (s *MemoryStore) GetResult(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if len(e.result) == 0 {
		return nil, ErrResultMissing
	}
	return e.result, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, u Update) error {
	return s.mutate(id, func(e *memoryEntry) error {
		return e.task.Apply(u)
	})
}

func (s *MemoryStore) SetResult(_ context.Context, id string, result []byte, term Terminal) error {
	return s.mutate(id, func(e *memoryEntry) error {
		if err := e.task.Complete(term); err != nil {
			return err
		}
		e.result = result
		return nil
	})
}

func (s *MemoryStore) SetError(_ context.Context, id string, msg string, term Terminal) error {
	return s.mutate(id, func(e *memoryEntry) error {
		return e.task.Fail(msg, term)
	})
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, e := range s.tasks {
		if e.task.EndTime != nil && e.task.EndTime.Before(cutoff) {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// mutate applies fn to a working copy and commits it only when fn succeeds.
func (s *MemoryStore) mutate(id string, fn func(e *memoryEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	work := &memoryEntry{task: e.task.Clone(), result: e.result}
	if err := fn(work); err != nil {
		return err
	}
	s.tasks[id] = work
	return nil
}
