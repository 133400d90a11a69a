package action

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func stamp(t time.Time) *Stamp { return &Stamp{Time: t} }

func TestValidate(t *testing.T) {
	now := time.Date(2025, 6, 11, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		p       Payload
		missing []string
		reason  string
	}{
		{"create task ok", Payload{Action: Create, Type: Task, Title: "a"}, nil, ""},
		{"create task no title", Payload{Action: Create, Type: Task}, []string{"title"}, ""},
		{"create event ok", Payload{Action: Create, Type: Event, Title: "a", Start: stamp(now), End: stamp(now)}, nil, ""},
		{"create event no times", Payload{Action: Create, Type: Event, Title: "a"}, []string{"start", "end"}, ""},
		{"update ok", Payload{Action: Update, Type: Task, ID: "1", Title: "a"}, nil, ""},
		{"update no id", Payload{Action: Update, Type: Task, Title: "a"}, []string{"id"}, ""},
		{"delete ok", Payload{Action: Delete, Type: Event, Title: "a"}, nil, ""},
		{"delete no title", Payload{Action: Delete, Type: Event}, []string{"title"}, ""},
		{"unknown action", Payload{Action: "archive", Type: Task, Title: "a"}, nil, "archive"},
		{"unknown type", Payload{Action: Create, Type: "note", Title: "a"}, nil, "note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.p)
			if tt.missing == nil && tt.reason == "" {
				if err != nil {
					t.Fatalf("Validate: unexpected error %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if tt.reason != "" {
				if !strings.Contains(ve.Error(), tt.reason) {
					t.Errorf("Error() = %q, want it to mention %q", ve.Error(), tt.reason)
				}
				return
			}
			if strings.Join(ve.Missing, ",") != strings.Join(tt.missing, ",") {
				t.Errorf("Missing = %v, want %v", ve.Missing, tt.missing)
			}
			for _, f := range tt.missing {
				if !strings.Contains(ve.Error(), f) {
					t.Errorf("Error() = %q does not name %q", ve.Error(), f)
				}
			}
			if !strings.Contains(ve.Error(), string(tt.p.Action)) {
				t.Errorf("Error() = %q does not name the action", ve.Error())
			}
		})
	}
}
