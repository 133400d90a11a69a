// Package calendar owns the live event collection.
package calendar

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fusion/internal/storage"
)

type Store interface {
	SaveEvent(e storage.Event) error
	UpdateEvent(e storage.Event) error
	DeleteEvent(id string) error
	ListEvents(userID string) ([]storage.Event, error)
}

type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
	Deleted
)

type Change struct {
	Kind  ChangeKind
	Event storage.Event
}

type Input struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Start       *time.Time
	End         *time.Time
}

// Service holds the current user's events ordered by start time.
type Service struct {
	store  Store
	userID string
	now    func() time.Time

	mu     sync.RWMutex
	events []storage.Event

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

func (s *Service) Load() error {
	list, err := s.store.ListEvents(s.userID)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}
	s.mu.Lock()
	s.events = list
	s.mu.Unlock()
	return nil
}

// Events returns a copy of the current collection.
func (s *Service) Events() []storage.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Service) Get(id string) (storage.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return storage.Event{}, false
	}
	return s.events[i], true
}

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

func validate(e storage.Event) error {
	if e.Title == "" {
		return errors.New("event title is required")
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return errors.New("event start and end are required")
	}
	if e.End.Before(e.Start) {
		return errors.New("event end must not be before its start")
	}
	return nil
}

func (s *Service) CreateEvent(in Input) (storage.Event, error) {
	e := storage.Event{
		ID:          uuid.New().String(),
		UserID:      s.userID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Start:       in.Start,
		End:         in.End,
		CreatedAt:   s.now().UTC(),
	}
	if err := validate(e); err != nil {
		return storage.Event{}, err
	}
	if err := s.store.SaveEvent(e); err != nil {
		return storage.Event{}, fmt.Errorf("saving event: %w", err)
	}

	s.mu.Lock()
	s.events = append(s.events, e)
	s.sortLocked()
	s.mu.Unlock()

	slog.Debug("event created", "id", e.ID, "title", e.Title, "start", e.Start)
	s.notify(Change{Kind: Inserted, Event: e})
	return e, nil
}

// UpdateEvent applies p optimistically and restores the previous version if
// the store rejects the write.
func (s *Service) UpdateEvent(id string, p Patch) (storage.Event, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return storage.Event{}, storage.ErrNotFound
	}
	prev := s.events[i]
	next := prev
	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Start != nil {
		next.Start = *p.Start
	}
	if p.End != nil {
		next.End = *p.End
	}
	if err := validate(next); err != nil {
		s.mu.Unlock()
		return storage.Event{}, err
	}
	s.events[i] = next
	s.sortLocked()
	s.mu.Unlock()

	if err := s.store.UpdateEvent(next); err != nil {
		s.mu.Lock()
		if j := s.indexOf(id); j >= 0 {
			if errors.Is(err, storage.ErrNotFound) {
				s.events = append(s.events[:j], s.events[j+1:]...)
			} else if sameEvent(s.events[j], next) {
				s.events[j] = prev
				s.sortLocked()
			}
		}
		s.mu.Unlock()
		return storage.Event{}, fmt.Errorf("updating event: %w", err)
	}

	s.notify(Change{Kind: Updated, Event: next})
	return next, nil
}

func (s *Service) DeleteEvent(id string) error {
	e, ok := s.Get(id)
	if !ok {
		return storage.ErrNotFound
	}
	if err := s.store.DeleteEvent(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.remove(id)
		}
		return fmt.Errorf("deleting event: %w", err)
	}
	s.remove(id)
	s.notify(Change{Kind: Deleted, Event: e})
	return nil
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.events = append(s.events[:i], s.events[i+1:]...)
	}
}

func (s *Service) indexOf(id string) int {
	for i := range s.events {
		if s.events[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) sortLocked() {
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Start.Before(s.events[j].Start)
	})
}

func sameEvent(a, b storage.Event) bool {
	return a.Title == b.Title && a.Description == b.Description && a.Start.Equal(b.Start) && a.End.Equal(b.End)
}
