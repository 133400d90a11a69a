package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Assistant runs chat turns.
type Assistant interface {
	Send(ctx context.Context, text string) ([]storage.ChatMessage, error)
}

// History is the persisted conversation.
type History interface {
	Messages() []storage.ChatMessage
	Reset()
}

type TaskService interface {
	Tasks() []storage.Task
	Get(id string) (storage.Task, bool)
	CreateTask(in tasks.Input) (storage.Task, error)
	UpdateTask(id string, p tasks.Patch) (storage.Task, error)
	ToggleComplete(id string) (storage.Task, error)
	DeleteTask(id string) error
}

type EventService interface {
	Events() []storage.Event
	Get(id string) (storage.Event, bool)
	CreateEvent(in calendar.Input) (storage.Event, error)
	UpdateEvent(id string, p calendar.Patch) (storage.Event, error)
	DeleteEvent(id string) error
}

// Reminders keeps reminder rows in step with direct edits.
type Reminders interface {
	ScheduleTaskReminder(t storage.Task)
	CancelTaskReminder(id string)
	ScheduleEventReminder(e storage.Event)
	CancelEventReminder(id string)
}

type Deps struct {
	Assistant Assistant
	History   History
	Tasks     TaskService
	Calendar  EventService
	Reminders Reminders
	Token     string
	// Location interprets request dates that carry no zone.
	Location *time.Location
}

// NewHandler returns the HTTP API. Every route except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Location == nil {
		deps.Location = time.Local
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))
		r.Get("/messages", handleListMessages(deps))
		r.Delete("/messages", handleClearMessages(deps))

		r.Get("/tasks", handleListTasks(deps))
		r.Post("/tasks", handleCreateTask(deps))
		r.Patch("/tasks/{id}", handleUpdateTask(deps))
		r.Delete("/tasks/{id}", handleDeleteTask(deps))
		r.Post("/tasks/{id}/toggle", handleToggleTask(deps))

		r.Get("/events", handleListEvents(deps))
		r.Post("/events", handleCreateEvent(deps))
		r.Patch("/events/{id}", handleUpdateEvent(deps))
		r.Delete("/events/{id}", handleDeleteEvent(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
