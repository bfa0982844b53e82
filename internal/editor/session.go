// Package editor holds the in-memory state of one open map and drives
// auto-save: edits accumulate locally and a save fires once the map
// has been quiet for the configured interval. Demo sessions apply
// every edit locally but never call the saver.
package editor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mindloom/api/internal/store"
	"mindloom/api/internal/task"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrClosed       = errors.New("editor session closed")
)

// Saver persists the current document and returns the stored version,
// with its authoritative updatedAt.
type Saver func(ctx context.Context, m store.MindMap) (store.MindMap, error)

type Session struct {
	actor string
	demo  bool
	quiet time.Duration
	save  Saver

	mu     sync.Mutex
	m      store.MindMap
	dirty  bool
	gen    uint64
	timer  *time.Timer
	closed bool
}

func NewSession(m store.MindMap, actor string, demo bool, quiet time.Duration, save Saver) *Session {
	return &Session{m: m, actor: actor, demo: demo, quiet: quiet, save: save}
}

// Snapshot returns a copy of the current document safe to read while
// edits continue.
func (s *Session) Snapshot() store.MindMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.m)
}

// Dirty reports whether there are unsaved edits.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) SetTitle(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m.Title = title
	s.markDirtyLocked()
	return nil
}

func (s *Session) AddNode(n store.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m.Nodes = append(s.m.Nodes, n)
	s.markDirtyLocked()
	return nil
}

// AddNodes folds a batch, such as an image import, into the canvas.
func (s *Session) AddNodes(nodes []store.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m.Nodes = append(s.m.Nodes, nodes...)
	s.markDirtyLocked()
	return nil
}

func (s *Session) MoveNode(nodeID string, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	i := s.findNodeLocked(nodeID)
	if i < 0 {
		return ErrNodeNotFound
	}
	s.m.Nodes[i].Position = store.Position{X: x, Y: y}
	s.markDirtyLocked()
	return nil
}

func (s *Session) Connect(e store.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m.Edges = append(s.m.Edges, e)
	s.markDirtyLocked()
	return nil
}

// OpenTask returns the node's task, seeding a fresh one on first open
// so the ledger starts with a created entry for the opening user.
func (s *Session) OpenTask(nodeID string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}
	i := s.findNodeLocked(nodeID)
	if i < 0 {
		return task.Task{}, ErrNodeNotFound
	}
	if s.m.Nodes[i].Data.Task == nil {
		t := task.New(s.m.Nodes[i].Data.Label, s.actor)
		s.m.Nodes[i].Data.Task = &t
		s.markDirtyLocked()
	}
	return *s.m.Nodes[i].Data.Task, nil
}

func (s *Session) ChangeTaskStatus(nodeID string, status task.Status) (task.Task, error) {
	return s.mutateTask(nodeID, func(t task.Task) (task.Task, error) {
		return t.ChangeStatus(status, s.actor)
	})
}

func (s *Session) ChangeTaskProgress(nodeID string, progress int) (task.Task, error) {
	return s.mutateTask(nodeID, func(t task.Task) (task.Task, error) {
		return t.ChangeProgress(progress, s.actor)
	})
}

func (s *Session) AddTaskNote(nodeID, note string) (task.Task, error) {
	return s.mutateTask(nodeID, func(t task.Task) (task.Task, error) {
		return t.AddNote(note, s.actor)
	})
}

func (s *Session) mutateTask(nodeID string, fn func(task.Task) (task.Task, error)) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}
	i := s.findNodeLocked(nodeID)
	if i < 0 {
		return task.Task{}, ErrNodeNotFound
	}
	cur := s.m.Nodes[i].Data.Task
	if cur == nil {
		t := task.New(s.m.Nodes[i].Data.Label, s.actor)
		cur = &t
	}
	next, err := fn(*cur)
	if err != nil {
		return task.Task{}, err
	}
	s.m.Nodes[i].Data.Task = &next
	s.markDirtyLocked()
	return next, nil
}

// markDirtyLocked bumps the edit generation and restarts the quiet
// timer. Held lock required.
func (s *Session) markDirtyLocked() {
	s.dirty = true
	s.gen++
	if s.timer == nil {
		s.timer = time.AfterFunc(s.quiet, s.autoSave)
	} else {
		s.timer.Reset(s.quiet)
	}
}

func (s *Session) autoSave() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		log.Printf("editor: auto-save: %v", err)
	}
}

// Flush saves now if there are unsaved edits. A demo session marks
// itself clean without persisting. A failed save leaves the session
// dirty so the next edit or flush retries.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	if s.demo {
		s.dirty = false
		s.mu.Unlock()
		return nil
	}
	snapshotGen := s.gen
	doc := copyMap(s.m)
	s.mu.Unlock()

	saved, err := s.save(ctx, doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.UpdatedAt = saved.UpdatedAt
	// Edits that raced the save stay dirty for the next cycle.
	if s.gen == snapshotGen {
		s.dirty = false
	}
	return nil
}

// Close stops the auto-save timer and flushes outstanding edits.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

func (s *Session) findNodeLocked(nodeID string) int {
	for i := range s.m.Nodes {
		if s.m.Nodes[i].ID == nodeID {
			return i
		}
	}
	return -1
}

func copyMap(m store.MindMap) store.MindMap {
	out := m
	out.Nodes = make([]store.Node, len(m.Nodes))
	copy(out.Nodes, m.Nodes)
	out.Edges = make([]store.Edge, len(m.Edges))
	copy(out.Edges, m.Edges)
	out.Collaborators = make([]store.Collaborator, len(m.Collaborators))
	copy(out.Collaborators, m.Collaborators)
	return out
}
