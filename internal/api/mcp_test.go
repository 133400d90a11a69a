package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *testEnv) {
	t.Helper()
	env := setupHandler(t)
	return MCPDeps{
		Assistant: &mockAssistant{history: env.history, reply: "Added it."},
		History:   env.history,
		Tasks:     env.tasks,
		Calendar:  env.calendar,
	}, env
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SendMessage(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	handler := mcpSendMessage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{
		"message": "add milk to my list",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Added it." {
		t.Errorf("reply = %q, want only the assistant text", got)
	}
	if n := env.history.Len(); n != 3 {
		t.Errorf("history length = %d, want 3", n)
	}
}

func TestMCPTool_SendMessage_Missing(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpSendMessage(deps)(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result")
	}
}

func TestMCPTool_ListTasks(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	a, _ := env.tasks.CreateTask(tasks.Input{Title: "A"})
	if _, err := env.tasks.CreateTask(tasks.Input{Title: "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.tasks.ToggleComplete(a.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		status string
		want   []string
	}{
		{"all", []string{"B", "A"}},
		{"pending", []string{"B"}},
		{"completed", []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			result, err := mcpListTasks(deps)(context.Background(), makeCallToolRequest("list_tasks", map[string]interface{}{"status": tt.status}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []storage.Task
			if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			var titles []string
			for _, task := range got {
				titles = append(titles, task.Title)
			}
			if strings.Join(titles, ",") != strings.Join(tt.want, ",") {
				t.Errorf("titles = %v, want %v", titles, tt.want)
			}
		})
	}

	result, _ := mcpListTasks(deps)(context.Background(), makeCallToolRequest("list_tasks", map[string]interface{}{"status": "later"}))
	if !result.IsError {
		t.Error("expected error for invalid status")
	}
}

func TestMCPTool_ListEvents(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(48 * time.Hour)
	for _, start := range []time.Time{past, future} {
		if _, err := env.calendar.CreateEvent(calendar.Input{Title: "Sync", Start: start, End: start.Add(time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := mcpListEvents(deps)(context.Background(), makeCallToolRequest("list_events", map[string]interface{}{"upcoming": true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []storage.Event
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(future) {
		t.Errorf("upcoming events = %+v", got)
	}
}

func TestMCPResource_History(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	for i := 0; i < historyLimit+5; i++ {
		env.history.Append(storage.SenderUser, "ping")
	}

	contents, err := mcpResourceHistory(deps)(context.Background(), makeReadResourceRequest("chat://history"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var msgs []storage.ChatMessage
	if err := json.Unmarshal([]byte(tc.Text), &msgs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(msgs) != historyLimit {
		t.Errorf("history = %d messages, want %d", len(msgs), historyLimit)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	send := mcpSendMessage(deps)
	list := mcpListTasks(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := send(context.Background(), makeCallToolRequest("send_message", map[string]interface{}{"message": "hi"})); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := list(context.Background(), makeCallToolRequest("list_tasks", nil)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
