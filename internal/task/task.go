// Package task implements the per-node task record and its append-only
// history ledger. Tasks are values: every mutation returns an updated
// copy with its own history slice, so snapshots held by callers never
// change underneath them.
package task

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// ValidStatus reports whether s is one of the three known states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Action tags a history entry with the kind of change it records.
type Action string

const (
	ActionCreated        Action = "created"
	ActionStatusChange   Action = "status-change"
	ActionProgressChange Action = "progress-change"
	ActionNote           Action = "note"
)

var (
	ErrInvalidStatus = errors.New("invalid status")
	ErrProgressRange = errors.New("progress out of range")
	ErrMissingActor  = errors.New("missing acting user")
)

// Entry is one immutable line of the ledger.
type Entry struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	User             string    `json:"user"`
	Action           Action    `json:"action"`
	PreviousStatus   Status    `json:"previousStatus,omitempty"`
	CurrentStatus    Status    `json:"currentStatus,omitempty"`
	PreviousProgress *int      `json:"previousProgress,omitempty"`
	CurrentProgress  *int      `json:"currentProgress,omitempty"`
	Note             string    `json:"note,omitempty"`
}

// Task is the work record attached to a mind-map node.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	AssignedTo  string     `json:"assignedTo"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	History     []Entry    `json:"history"`
}

// New seeds a task for a node. The ledger starts with a single
// "created" entry attributed to actingUser.
func New(title, actingUser string) Task {
	now := time.Now().UTC()
	return Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    StatusNotStarted,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
		History: []Entry{{
			ID:        uuid.NewString(),
			Timestamp: now,
			User:      actingUser,
			Action:    ActionCreated,
		}},
	}
}

// ChangeStatus returns the task with its status replaced and a
// status-change entry appended. The entry is appended even when next
// equals the current status: repeated confirmations are part of the
// record.
func (t Task) ChangeStatus(next Status, actingUser string) (Task, error) {
	if !ValidStatus(next) {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if actingUser == "" {
		return Task{}, ErrMissingActor
	}
	now := time.Now().UTC()
	prev := t.Status
	t.Status = next
	t.UpdatedAt = now
	t.History = append(slices.Clone(t.History), Entry{
		ID:             uuid.NewString(),
		Timestamp:      now,
		User:           actingUser,
		Action:         ActionStatusChange,
		PreviousStatus: prev,
		CurrentStatus:  next,
	})
	return t, nil
}

// ChangeProgress returns the task with progress replaced. Unlike
// status changes, setting progress to its current value is a no-op and
// leaves the ledger untouched.
func (t Task) ChangeProgress(next int, actingUser string) (Task, error) {
	if next < 0 || next > 100 {
		return Task{}, fmt.Errorf("%w: %d", ErrProgressRange, next)
	}
	if actingUser == "" {
		return Task{}, ErrMissingActor
	}
	if next == t.Progress {
		return t, nil
	}
	now := time.Now().UTC()
	prev := t.Progress
	t.Progress = next
	t.UpdatedAt = now
	t.History = append(slices.Clone(t.History), Entry{
		ID:               uuid.NewString(),
		Timestamp:        now,
		User:             actingUser,
		Action:           ActionProgressChange,
		PreviousProgress: &prev,
		CurrentProgress:  &next,
	})
	return t, nil
}

// AddNote appends a free-text note entry, stored exactly as
// submitted. Blank or whitespace-only notes are silently ignored and
// the task is returned unchanged.
func (t Task) AddNote(note, actingUser string) (Task, error) {
	if actingUser == "" {
		return Task{}, ErrMissingActor
	}
	if strings.TrimSpace(note) == "" {
		return t, nil
	}
	now := time.Now().UTC()
	t.UpdatedAt = now
	t.History = append(slices.Clone(t.History), Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		User:      actingUser,
		Action:    ActionNote,
		Note:      note,
	})
	return t, nil
}

// HistoryNewestFirst yields ledger entries most recent first, the
// order the activity panel displays them in. The sequence is
// restartable and does not mutate the task.
func (t Task) HistoryNewestFirst() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := len(t.History) - 1; i >= 0; i-- {
			if !yield(t.History[i]) {
				return
			}
		}
	}
}
