package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/fusion/internal/storage"
)

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	r := storage.Reminder{ID: "event-e1-15m", Title: "Upcoming event", Body: "dentist starts in 15 minutes", SourceType: storage.SourceEvent, SourceID: "e1", FireAt: time.Now()}
	if err := n.Notify(context.Background(), r); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.ID != r.ID || got.Body != r.Body {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookNotifierNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), storage.Reminder{ID: "x"}); err == nil {
		t.Fatal("expected error for 502")
	}
}

type errNotifier struct{ err error }

func (e errNotifier) Notify(context.Context, storage.Reminder) error { return e.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{LogNotifier{}, errNotifier{err: boom}}
	if err := m.Notify(context.Background(), storage.Reminder{ID: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want it to wrap boom", err)
	}
	if err := (Multi{LogNotifier{}}).Notify(context.Background(), storage.Reminder{ID: "x"}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
