package task

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Mode selects which item processor handles a task's images.
type Mode string

const (
	ModeWhite    Mode = "white"    // background removal
	ModeInterior Mode = "interior" // AI scene generation
)

// AllFailedMessage is stored as the task error when no item succeeded.
const AllFailedMessage = "All images failed to process"

var (
	ErrNotFound      = errors.New("task not found")
	ErrTerminal      = errors.New("task already finished")
	ErrNotCompleted  = errors.New("task is not completed")
	ErrResultMissing = errors.New("task result not found")
	ErrUnknownMode   = errors.New("unknown processing mode")
	ErrInvalidTotal  = errors.New("total files must be at least 1")
	ErrInvalidUpdate = errors.New("invalid task update")
)

type Task struct {
	ID             string      `json:"task_id"`
	Mode           Mode        `json:"mode"`
	Status         Status      `json:"status"`
	Progress       int         `json:"progress"`
	ProcessedFiles int         `json:"processed_files"`
	TotalFiles     int         `json:"total_files"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        *time.Time  `json:"end_time,omitempty"`
	Error          string      `json:"error,omitempty"`
	FailedItems    []ItemError `json:"failed_items,omitempty"`
}

// ItemError records why one input file was left out of the archive.
type ItemError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Item is one uploaded image of a batch.
type Item struct {
	Name        string
	ContentType string
	Data        []byte
}

// Output is the processed image produced for one Item.
type Output struct {
	Name string
	Data []byte
}

// ItemFailure is the error an ItemProcessor returns for a single item.
type ItemFailure struct {
	Name  string
	Stage string
	Err   error
}

func (f *ItemFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Name, f.Stage, f.Err)
}

func (f *ItemFailure) Unwrap() error { return f.Err }

// Update carries the non-terminal fields a run may change. Nil fields are left as is.
type Update struct {
	Status         *Status
	Progress       *int
	ProcessedFiles *int
}

// Terminal carries the bookkeeping written together with a result or an error.
type Terminal struct {
	FailedItems []ItemError
	EndTime     time.Time
}

// Percent returns floor(100*done/total).
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}

// Clone returns a deep copy safe to hand out of a store.
func (t *Task) Clone() *Task {
	c := *t
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	if t.FailedItems != nil {
		c.FailedItems = append([]ItemError(nil), t.FailedItems...)
	}
	return &c
}

// Apply validates u against the current state and mutates t in place.
// Stores call it inside their per-task critical section.
func (t *Task) Apply(u Update) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	if u.Status != nil {
		switch *u.Status {
		case StatusProcessing:
		case StatusPending:
			if t.Status != StatusPending {
				return fmt.Errorf("%w: cannot move from %s back to pending", ErrInvalidUpdate, t.Status)
			}
		default:
			return fmt.Errorf("%w: status %s is set through SetResult or SetError", ErrInvalidUpdate, *u.Status)
		}
	}
	if u.ProcessedFiles != nil && (*u.ProcessedFiles < t.ProcessedFiles || *u.ProcessedFiles > t.TotalFiles) {
		return fmt.Errorf("%w: processed files %d outside [%d, %d]", ErrInvalidUpdate, *u.ProcessedFiles, t.ProcessedFiles, t.TotalFiles)
	}
	if u.Progress != nil && (*u.Progress < t.Progress || *u.Progress > 100) {
		return fmt.Errorf("%w: progress %d outside [%d, 100]", ErrInvalidUpdate, *u.Progress, t.Progress)
	}

	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ProcessedFiles != nil {
		t.ProcessedFiles = *u.ProcessedFiles
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	return nil
}

// Complete moves t to completed. Progress and processed files jump to their maximum.
func (t *Task) Complete(term Terminal) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	end := term.EndTime
	t.Status = StatusCompleted
	t.Progress = 100
	t.ProcessedFiles = t.TotalFiles
	t.EndTime = &end
	t.Error = ""
	t.FailedItems = term.FailedItems
	return nil
}

// Fail moves t to failed with msg. Progress keeps its last value.
func (t *Task) Fail(msg string, term Terminal) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	if msg == "" {
		msg = "unknown error"
	}
	end := term.EndTime
	t.Status = StatusFailed
	t.EndTime = &end
	t.Error = msg
	t.FailedItems = term.FailedItems
	return nil
}
