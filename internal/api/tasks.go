package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fusion/internal/action"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

// TaskRequest is the body of POST /tasks and PATCH /tasks/{id}. Absent fields
// are left unchanged on PATCH; an empty due_date clears it.
type TaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	Completed   *bool   `json:"completed"`
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := deps.Tasks.Tasks()
		out := make([]storage.Task, 0, len(all))
		switch status := r.URL.Query().Get("status"); status {
		case "", "all":
			out = append(out, all...)
		case "pending", "completed":
			for _, t := range all {
				if t.Completed == (status == "completed") {
					out = append(out, t)
				}
			}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid status %q: use all, pending or completed", status)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		in := tasks.Input{Title: *req.Title}
		if req.Description != nil {
			in.Description = *req.Description
		}
		if req.Priority != nil {
			if !storage.ValidPriority(*req.Priority) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid priority %q", *req.Priority)
				return
			}
			in.Priority = *req.Priority
		}
		if req.DueDate != nil && *req.DueDate != "" {
			due, err := parseTime(*req.DueDate, deps.Location)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid due_date: %v", err)
				return
			}
			in.DueDate = &due
		}

		t, err := deps.Tasks.CreateTask(in)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create task: %v", err)
			return
		}
		deps.Reminders.ScheduleTaskReminder(t)
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Tasks.Get(id); !ok {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}

		var req TaskRequest
		if !decodeBody(w, r, &req) {
			return
		}

		patch := tasks.Patch{
			Title:       req.Title,
			Description: req.Description,
			Completed:   req.Completed,
		}
		if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title must not be empty")
			return
		}
		if req.Priority != nil {
			if !storage.ValidPriority(*req.Priority) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid priority %q", *req.Priority)
				return
			}
			patch.Priority = req.Priority
		}
		if req.DueDate != nil {
			if *req.DueDate == "" {
				patch.ClearDueDate = true
			} else {
				due, err := parseTime(*req.DueDate, deps.Location)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid due_date: %v", err)
					return
				}
				patch.DueDate = &due
			}
		}

		deps.Reminders.CancelTaskReminder(id)
		t, err := deps.Tasks.UpdateTask(id, patch)
		if err != nil {
			if prev, ok := deps.Tasks.Get(id); ok {
				deps.Reminders.ScheduleTaskReminder(prev)
			}
			taskError(w, "update", err)
			return
		}
		deps.Reminders.ScheduleTaskReminder(t)
		writeJSON(w, http.StatusOK, t)
	}
}

func handleToggleTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Tasks.ToggleComplete(chi.URLParam(r, "id"))
		if err != nil {
			taskError(w, "toggle", err)
			return
		}
		if t.Completed {
			deps.Reminders.CancelTaskReminder(t.ID)
		} else {
			deps.Reminders.ScheduleTaskReminder(t)
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Tasks.DeleteTask(id); err != nil {
			taskError(w, "delete", err)
			return
		}
		deps.Reminders.CancelTaskReminder(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func taskError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "failed to %s task: %v", op, err)
}

// parseTime accepts RFC 3339 and the zone-less forms the chat model emits.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	st, err := action.ParseStamp(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return st.Time, nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
