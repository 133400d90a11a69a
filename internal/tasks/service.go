// Package tasks owns the live task collection and keeps it in step with storage.
package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fusion/internal/storage"
)

// Store is the persistence the service writes through to.
type Store interface {
	SaveTask(t storage.Task) error
	UpdateTask(t storage.Task) error
	DeleteTask(id string) error
	ListTasks(userID string) ([]storage.Task, error)
}

type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "insert"
	case Updated:
		return "update"
	case Deleted:
		return "delete"
	}
	return "unknown"
}

// Change is delivered to subscribers after a mutation is confirmed by the store.
type Change struct {
	Kind ChangeKind
	Task storage.Task
}

// Input describes a task to create.
type Input struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    string
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title        *string
	Description  *string
	Priority     *string
	Completed    *bool
	DueDate      *time.Time
	ClearDueDate bool
}

// Service holds the current user's tasks, newest first.
type Service struct {
	store  Store
	userID string
	now    func() time.Time

	mu    sync.RWMutex
	tasks []storage.Task

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

func New(store Store, userID string) *Service {
	return &Service{
		store:  store,
		userID: userID,
		now:    time.Now,
		subs:   make(map[int]func(Change)),
	}
}

// Load replaces the in-memory snapshot with the stored tasks.
func (s *Service) Load() error {
	list, err := s.store.ListTasks(s.userID)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	s.mu.Lock()
	s.tasks = list
	s.mu.Unlock()
	return nil
}

// Tasks returns a copy of the current collection, newest first.
func (s *Service) Tasks() []storage.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *Service) Get(id string) (storage.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return storage.Task{}, false
	}
	return s.tasks[i], true
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Service) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Service) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Service) CreateTask(in Input) (storage.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return storage.Task{}, errors.New("task title is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = storage.PriorityMedium
	}
	if !storage.ValidPriority(priority) {
		return storage.Task{}, fmt.Errorf("invalid priority %q: must be low, medium or high", priority)
	}

	t := storage.Task{
		ID:          uuid.New().String(),
		UserID:      s.userID,
		Title:       title,
		Description: in.Description,
		Priority:    priority,
		DueDate:     in.DueDate,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.SaveTask(t); err != nil {
		return storage.Task{}, fmt.Errorf("saving task: %w", err)
	}

	s.mu.Lock()
	s.tasks = append([]storage.Task{t}, s.tasks...)
	s.mu.Unlock()

	slog.Debug("task created", "id", t.ID, "title", t.Title)
	s.notify(Change{Kind: Inserted, Task: t})
	return t, nil
}

// UpdateTask applies p optimistically and reverts the local copy if the
// store rejects the write.
func (s *Service) UpdateTask(id string, p Patch) (storage.Task, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return storage.Task{}, storage.ErrNotFound
	}
	prev := s.tasks[i]
	next, err := applyPatch(prev, p)
	if err != nil {
		s.mu.Unlock()
		return storage.Task{}, err
	}
	s.tasks[i] = next
	s.mu.Unlock()

	if err := s.store.UpdateTask(next); err != nil {
		s.revert(prev, next, errors.Is(err, storage.ErrNotFound))
		return storage.Task{}, fmt.Errorf("updating task: %w", err)
	}

	s.notify(Change{Kind: Updated, Task: next})
	return next, nil
}

// ToggleComplete flips the completed flag of a task.
func (s *Service) ToggleComplete(id string) (storage.Task, error) {
	t, ok := s.Get(id)
	if !ok {
		return storage.Task{}, storage.ErrNotFound
	}
	done := !t.Completed
	return s.UpdateTask(id, Patch{Completed: &done})
}

func (s *Service) DeleteTask(id string) error {
	t, ok := s.Get(id)
	if !ok {
		return storage.ErrNotFound
	}
	if err := s.store.DeleteTask(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.remove(id)
		}
		return fmt.Errorf("deleting task: %w", err)
	}
	s.remove(id)
	s.notify(Change{Kind: Deleted, Task: t})
	return nil
}

func (s *Service) revert(prev, optimistic storage.Task, gone bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(prev.ID)
	if i < 0 {
		return
	}
	if gone {
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		return
	}
	// Leave newer writes alone.
	if sameTask(s.tasks[i], optimistic) {
		s.tasks[i] = prev
	}
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	}
}

// indexOf must be called with mu held.
func (s *Service) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func applyPatch(t storage.Task, p Patch) (storage.Task, error) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return storage.Task{}, errors.New("task title is required")
		}
		t.Title = title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		if !storage.ValidPriority(*p.Priority) {
			return storage.Task{}, fmt.Errorf("invalid priority %q: must be low, medium or high", *p.Priority)
		}
		t.Priority = *p.Priority
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	return t, nil
}

func sameTask(a, b storage.Task) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Priority != b.Priority || a.Completed != b.Completed {
		return false
	}
	if (a.DueDate == nil) != (b.DueDate == nil) {
		return false
	}
	return a.DueDate == nil || a.DueDate.Equal(*b.DueDate)
}
