package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/fusion/internal/assistant"
	"github.com/kalambet/fusion/internal/storage"
)

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Messages []storage.ChatMessage `json:"messages"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}

		msgs, err := deps.Assistant.Send(r.Context(), req.Message)
		if errors.Is(err, assistant.ErrEmptyMessage) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{Messages: msgs})
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs := deps.History.Messages()
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 && limit < len(msgs) {
			msgs = msgs[len(msgs)-limit:]
		}
		if msgs == nil {
			msgs = []storage.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleClearMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.History.Reset()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}
