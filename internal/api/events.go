package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/storage"
)

type EventRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
}

func (req EventRequest) times(loc *time.Location) (start, end *time.Time, err error) {
	if req.Start != nil {
		t, err := parseTime(*req.Start, loc)
		if err != nil {
			return nil, nil, errors.New("invalid start: " + err.Error())
		}
		start = &t
	}
	if req.End != nil {
		t, err := parseTime(*req.End, loc)
		if err != nil {
			return nil, nil, errors.New("invalid end: " + err.Error())
		}
		end = &t
	}
	return start, end, nil
}

func handleListEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := []storage.Event{}
		upcoming := r.URL.Query().Get("upcoming") == "true"
		now := time.Now()
		for _, e := range deps.Calendar.Events() {
			if upcoming && e.End.Before(now) {
				continue
			}
			out = append(out, e)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EventRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		start, end, err := req.times(deps.Location)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if start == nil || end == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "start and end are required")
			return
		}
		if end.Before(*start) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "end must not be before start")
			return
		}

		in := calendar.Input{Title: *req.Title, Start: *start, End: *end}
		if req.Description != nil {
			in.Description = *req.Description
		}
		e, err := deps.Calendar.CreateEvent(in)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create event: %v", err)
			return
		}
		deps.Reminders.ScheduleEventReminder(e)
		writeJSON(w, http.StatusCreated, e)
	}
}

func handleUpdateEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		prev, ok := deps.Calendar.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}

		var req EventRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title must not be empty")
			return
		}
		start, end, err := req.times(deps.Location)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		// Moving only the start keeps the event's length.
		if start != nil && end == nil {
			e := start.Add(prev.End.Sub(prev.Start))
			end = &e
		}
		s, e := prev.Start, prev.End
		if start != nil {
			s = *start
		}
		if end != nil {
			e = *end
		}
		if e.Before(s) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "end must not be before start")
			return
		}

		deps.Reminders.CancelEventReminder(id)
		updated, err := deps.Calendar.UpdateEvent(id, calendar.Patch{
			Title:       req.Title,
			Description: req.Description,
			Start:       start,
			End:         end,
		})
		if err != nil {
			deps.Reminders.ScheduleEventReminder(prev)
			eventError(w, "update", err)
			return
		}
		deps.Reminders.ScheduleEventReminder(updated)
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Calendar.DeleteEvent(id); err != nil {
			eventError(w, "delete", err)
			return
		}
		deps.Reminders.CancelEventReminder(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func eventError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "event not found")
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "failed to %s event: %v", op, err)
}
