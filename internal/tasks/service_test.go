package tasks

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

// failingStore rejects updates and deletes.
type failingStore struct {
	Store
	err error
}

func (f failingStore) UpdateTask(storage.Task) error { return f.err }
func (f failingStore) DeleteTask(string) error       { return f.err }

func TestCreateTaskDefaults(t *testing.T) {
	svc := New(openTestStore(t), "u1")

	task, err := svc.CreateTask(Input{Title: "  Buy milk  "})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Title != "Buy milk" {
		t.Errorf("Title = %q, want trimmed", task.Title)
	}
	if task.Priority != storage.PriorityMedium {
		t.Errorf("Priority = %q, want medium", task.Priority)
	}
	if task.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", task.UserID)
	}
	if task.ID == "" {
		t.Error("ID is empty")
	}
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	svc := New(openTestStore(t), "u1")

	if _, err := svc.CreateTask(Input{Title: " "}); err == nil {
		t.Error("expected error for empty title")
	}
	if _, err := svc.CreateTask(Input{Title: "x", Priority: "urgent"}); err == nil {
		t.Error("expected error for unknown priority")
	}
	if n := len(svc.Tasks()); n != 0 {
		t.Errorf("got %d tasks after rejected creates, want 0", n)
	}
}

func TestTasksNewestFirstAndReload(t *testing.T) {
	store := openTestStore(t)
	svc := New(store, "u1")
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	for _, title := range []string{"first", "second", "third"} {
		if _, err := svc.CreateTask(Input{Title: title}); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	check := func(label string, list []storage.Task) {
		t.Helper()
		want := []string{"third", "second", "first"}
		if len(list) != len(want) {
			t.Fatalf("%s: got %d tasks, want %d", label, len(list), len(want))
		}
		for i, w := range want {
			if list[i].Title != w {
				t.Errorf("%s: list[%d] = %q, want %q", label, i, list[i].Title, w)
			}
		}
	}
	check("live", svc.Tasks())

	reloaded := New(store, "u1")
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	check("reloaded", reloaded.Tasks())
}

func TestUpdateTaskAndNotify(t *testing.T) {
	svc := New(openTestStore(t), "u1")
	task, _ := svc.CreateTask(Input{Title: "Draft"})

	var changes []Change
	unsub := svc.Subscribe(func(c Change) { changes = append(changes, c) })

	title := "Final"
	due := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := svc.UpdateTask(task.ID, Patch{Title: &title, DueDate: &due})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Title != "Final" || got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("UpdateTask = %+v", got)
	}
	if len(changes) != 1 || changes[0].Kind != Updated {
		t.Fatalf("changes = %+v, want one update", changes)
	}

	unsub()
	if _, err := svc.ToggleComplete(task.ID); err != nil {
		t.Fatalf("ToggleComplete: %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("received %d changes after unsubscribe, want 1", len(changes))
	}
	if cur, _ := svc.Get(task.ID); !cur.Completed {
		t.Error("task not completed after toggle")
	}
}

func TestUpdateTaskRevertsOnStoreFailure(t *testing.T) {
	base := openTestStore(t)
	svc := New(base, "u1")
	task, _ := svc.CreateTask(Input{Title: "Keep me"})

	svc.store = failingStore{Store: base, err: errors.New("disk full")}

	var notified bool
	svc.Subscribe(func(Change) { notified = true })

	title := "Changed"
	if _, err := svc.UpdateTask(task.ID, Patch{Title: &title}); err == nil {
		t.Fatal("expected error from failing store")
	}
	cur, ok := svc.Get(task.ID)
	if !ok {
		t.Fatal("task vanished after failed update")
	}
	if cur.Title != "Keep me" {
		t.Errorf("Title = %q, want reverted to %q", cur.Title, "Keep me")
	}
	if notified {
		t.Error("subscribers notified of a failed update")
	}
}

func TestDeleteTaskTwice(t *testing.T) {
	svc := New(openTestStore(t), "u1")
	task, _ := svc.CreateTask(Input{Title: "Temp"})

	var deleted []string
	svc.Subscribe(func(c Change) {
		if c.Kind == Deleted {
			deleted = append(deleted, c.Task.ID)
		}
	})

	if err := svc.DeleteTask(task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := svc.DeleteTask(task.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second DeleteTask err = %v, want ErrNotFound", err)
	}
	if len(deleted) != 1 {
		t.Errorf("delete notifications = %d, want 1", len(deleted))
	}
}

func TestDeleteTaskStoreFailureKeepsTask(t *testing.T) {
	base := openTestStore(t)
	svc := New(base, "u1")
	task, _ := svc.CreateTask(Input{Title: "Sticky"})

	svc.store = failingStore{Store: base, err: errors.New("locked")}
	if err := svc.DeleteTask(task.ID); err == nil {
		t.Fatal("expected error from failing store")
	}
	if _, ok := svc.Get(task.ID); !ok {
		t.Error("task removed locally despite store failure")
	}
}

func TestClearDueDate(t *testing.T) {
	svc := New(openTestStore(t), "u1")
	due := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	task, _ := svc.CreateTask(Input{Title: "Dated", DueDate: &due})

	got, err := svc.UpdateTask(task.ID, Patch{ClearDueDate: true})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.DueDate != nil {
		t.Errorf("DueDate = %v, want nil", got.DueDate)
	}
}
