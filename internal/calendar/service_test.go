package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/kalambet/fusion/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type rejectingStore struct {
	Store
}

func (rejectingStore) UpdateEvent(storage.Event) error { return errors.New("conflict") }

var day = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func TestEventsOrderedByStart(t *testing.T) {
	store := openTestStore(t)
	svc := New(store, "u1")

	for _, h := range []int{15, 9, 12} {
		start := day.Add(time.Duration(h) * time.Hour)
		if _, err := svc.CreateEvent(Input{Title: "e", Start: start, End: start.Add(time.Hour)}); err != nil {
			t.Fatalf("CreateEvent: %v", err)
		}
	}

	for _, list := range [][]storage.Event{svc.Events(), reload(t, store)} {
		for i := 1; i < len(list); i++ {
			if list[i].Start.Before(list[i-1].Start) {
				t.Errorf("events not ordered by start: %v before %v", list[i-1].Start, list[i].Start)
			}
		}
	}
}

func reload(t *testing.T, store Store) []storage.Event {
	t.Helper()
	svc := New(store, "u1")
	if err := svc.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return svc.Events()
}

func TestCreateEventValidation(t *testing.T) {
	svc := New(openTestStore(t), "u1")

	if _, err := svc.CreateEvent(Input{Title: "", Start: day, End: day}); err == nil {
		t.Error("expected error for empty title")
	}
	if _, err := svc.CreateEvent(Input{Title: "x"}); err == nil {
		t.Error("expected error for missing start/end")
	}
	if _, err := svc.CreateEvent(Input{Title: "x", Start: day.Add(time.Hour), End: day}); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestUpdateEventRevertsOnFailure(t *testing.T) {
	base := openTestStore(t)
	svc := New(base, "u1")
	e, _ := svc.CreateEvent(Input{Title: "Standup", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)})

	svc.store = rejectingStore{Store: base}
	title := "Retro"
	if _, err := svc.UpdateEvent(e.ID, Patch{Title: &title}); err == nil {
		t.Fatal("expected error")
	}
	got, _ := svc.Get(e.ID)
	if got.Title != "Standup" {
		t.Errorf("Title = %q, want reverted to Standup", got.Title)
	}
}

func TestUpdateAndDeleteEvent(t *testing.T) {
	svc := New(openTestStore(t), "u1")
	e, _ := svc.CreateEvent(Input{Title: "Dentist", Start: day.Add(15 * time.Hour), End: day.Add(16 * time.Hour)})

	var kinds []ChangeKind
	svc.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	start := day.Add(17 * time.Hour)
	end := day.Add(18 * time.Hour)
	got, err := svc.UpdateEvent(e.ID, Patch{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if !got.Start.Equal(start) {
		t.Errorf("Start = %v, want %v", got.Start, start)
	}

	if err := svc.DeleteEvent(e.ID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if err := svc.DeleteEvent(e.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second DeleteEvent err = %v, want ErrNotFound", err)
	}
	if len(kinds) != 2 || kinds[0] != Updated || kinds[1] != Deleted {
		t.Errorf("change kinds = %v, want [Updated Deleted]", kinds)
	}
}
