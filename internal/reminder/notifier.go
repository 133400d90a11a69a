package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/fusion/internal/storage"
)

// Notifier delivers a due reminder to the user.
type Notifier interface {
	Notify(ctx context.Context, r storage.Reminder) error
}

// LogNotifier writes reminders to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, r storage.Reminder) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reminder", "title", r.Title, "body", r.Body, "source_type", r.SourceType, "source_id", r.SourceID)
	return nil
}

// WebhookNotifier POSTs each reminder as JSON to a URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	FireAt     time.Time `json:"fire_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, r storage.Reminder) error {
	body, err := json.Marshal(webhookPayload{
		ID:         r.ID,
		Title:      r.Title,
		Body:       r.Body,
		SourceType: r.SourceType,
		SourceID:   r.SourceID,
		FireAt:     r.FireAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans a reminder out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r storage.Reminder) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
