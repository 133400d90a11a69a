package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/fusion/internal/assistant"
	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/chat"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

const testToken = "test-token-12345"

type mockAssistant struct {
	history *chat.Store
	reply   string
}

func (m *mockAssistant) Send(_ context.Context, text string) ([]storage.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, assistant.ErrEmptyMessage
	}
	return []storage.ChatMessage{
		m.history.Append(storage.SenderUser, text),
		m.history.Append(storage.SenderAssistant, m.reply),
	}, nil
}

type recordingReminders struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (r *recordingReminders) ScheduleTaskReminder(t storage.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, "task:"+t.ID)
}

func (r *recordingReminders) CancelTaskReminder(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, "task:"+id)
}

func (r *recordingReminders) ScheduleEventReminder(e storage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, "event:"+e.ID)
}

func (r *recordingReminders) CancelEventReminder(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, "event:"+id)
}

type testEnv struct {
	handler   http.Handler
	history   *chat.Store
	tasks     *tasks.Service
	calendar  *calendar.Service
	reminders *recordingReminders
}

func setupHandler(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		history:   chat.New(store, 100),
		tasks:     tasks.New(store, "u1"),
		calendar:  calendar.New(store, "u1"),
		reminders: &recordingReminders{},
	}
	if err := env.history.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	env.handler = NewHandler(Deps{
		Assistant: &mockAssistant{history: env.history, reply: "Done."},
		History:   env.history,
		Tasks:     env.tasks,
		Calendar:  env.calendar,
		Reminders: env.reminders,
		Token:     testToken,
		Location:  time.UTC,
	})
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (env *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, authReq(method, url, body, testToken))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := setupHandler(t)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupHandler(t)
	for _, token := range []string{"", "wrong-token"} {
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, authReq(http.MethodGet, "/tasks", "", token))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, w.Code)
		}
	}
}

func TestChat(t *testing.T) {
	env := setupHandler(t)

	w := env.do(t, http.MethodPost, "/chat", `{"message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), `"state"`) {
		t.Errorf("response carries a turn state: %s", w.Body.String())
	}
	resp := decode[ChatResponse](t, w)
	if len(resp.Messages) != 2 || resp.Messages[1].Text != "Done." {
		t.Errorf("messages = %+v", resp.Messages)
	}

	w = env.do(t, http.MethodGet, "/messages?limit=2", "")
	msgs := decode[[]storage.ChatMessage](t, w)
	if len(msgs) != 2 || msgs[0].Text != "hello" {
		t.Errorf("GET /messages = %+v", msgs)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	env := setupHandler(t)
	w := env.do(t, http.MethodPost, "/chat", `{"message":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/chat", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", w.Code)
	}
}

func TestClearMessages(t *testing.T) {
	env := setupHandler(t)
	env.history.Append(storage.SenderUser, "hi")

	w := env.do(t, http.MethodDelete, "/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	msgs := env.history.Messages()
	if len(msgs) != 1 || msgs[0].Text != chat.WelcomeText {
		t.Errorf("history after clear = %+v", msgs)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := setupHandler(t)

	w := env.do(t, http.MethodPost, "/tasks", `{"title":"Report","due_date":"2031-05-01T09:00:00","priority":"high"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	task := decode[storage.Task](t, w)
	if task.Priority != storage.PriorityHigh || task.DueDate == nil {
		t.Fatalf("created task = %+v", task)
	}
	if want := time.Date(2031, 5, 1, 9, 0, 0, 0, time.UTC); !task.DueDate.Equal(want) {
		t.Errorf("due = %v, want %v", task.DueDate, want)
	}

	w = env.do(t, http.MethodPatch, "/tasks/"+task.ID, `{"title":"Final report","due_date":""}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	task = decode[storage.Task](t, w)
	if task.Title != "Final report" || task.DueDate != nil {
		t.Errorf("updated task = %+v", task)
	}

	w = env.do(t, http.MethodPost, "/tasks/"+task.ID+"/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", w.Code)
	}
	if !decode[storage.Task](t, w).Completed {
		t.Error("toggle did not complete the task")
	}

	w = env.do(t, http.MethodGet, "/tasks?status=pending", "")
	if n := len(decode[[]storage.Task](t, w)); n != 0 {
		t.Errorf("pending tasks = %d, want 0", n)
	}

	w = env.do(t, http.MethodDelete, "/tasks/"+task.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/tasks/"+task.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}

	env.reminders.mu.Lock()
	defer env.reminders.mu.Unlock()
	if len(env.reminders.scheduled) == 0 || len(env.reminders.cancelled) == 0 {
		t.Errorf("reminders not kept in step: scheduled=%v cancelled=%v", env.reminders.scheduled, env.reminders.cancelled)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := setupHandler(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"description":"x"}`},
		{"bad priority", `{"title":"x","priority":"urgent"}`},
		{"bad date", `{"title":"x","due_date":"next tuesday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/tasks", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
	if n := len(env.tasks.Tasks()); n != 0 {
		t.Errorf("tasks = %d, want 0", n)
	}
}

func TestUnknownTask(t *testing.T) {
	env := setupHandler(t)
	if w := env.do(t, http.MethodPatch, "/tasks/missing", `{"title":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("PATCH: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/tasks/missing/toggle", ""); w.Code != http.StatusNotFound {
		t.Errorf("toggle: expected 404, got %d", w.Code)
	}
}

func TestEventLifecycle(t *testing.T) {
	env := setupHandler(t)

	w := env.do(t, http.MethodPost, "/events", `{"title":"Standup","start":"2031-05-01T09:00:00","end":"2031-05-01T09:15:00"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	ev := decode[storage.Event](t, w)

	w = env.do(t, http.MethodPatch, "/events/"+ev.ID, `{"start":"2031-05-01T10:00:00"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ev = decode[storage.Event](t, w)
	if got := ev.End.Sub(ev.Start); got != 15*time.Minute {
		t.Errorf("duration after moving start = %v, want 15m", got)
	}

	w = env.do(t, http.MethodGet, "/events", "")
	if n := len(decode[[]storage.Event](t, w)); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}

	if w := env.do(t, http.MethodDelete, "/events/"+ev.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if len(env.calendar.Events()) != 0 {
		t.Error("event not deleted")
	}
}

func TestCreateEventValidation(t *testing.T) {
	env := setupHandler(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing end", `{"title":"x","start":"2031-05-01T09:00:00"}`},
		{"end before start", `{"title":"x","start":"2031-05-01T09:00:00","end":"2031-05-01T08:00:00"}`},
		{"missing title", `{"start":"2031-05-01T09:00:00","end":"2031-05-01T10:00:00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/events", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}
