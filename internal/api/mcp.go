package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fusion/internal/storage"
)

// historyLimit bounds the chat://history resource.
const historyLimit = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Assistant Assistant
	History   History
	Tasks     interface{ Tasks() []storage.Task }
	Calendar  interface{ Events() []storage.Event }
}

// NewMCPServer creates an MCP server exposing the assistant to other agents.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"fusion",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fusion manages the user's tasks and calendar through a chat assistant."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a chat message to the assistant. It may create, update or delete tasks and events. Returns the assistant's replies."),
			mcp.WithString("message", mcp.Description("What the user says, e.g. \"Schedule dentist tomorrow 3-4pm\""), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List the user's tasks, newest first."),
			mcp.WithString("status", mcp.Description("all, pending or completed (default all)")),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("list_events",
			mcp.WithDescription("List the user's calendar events ordered by start time."),
			mcp.WithBoolean("upcoming", mcp.Description("Only events that have not ended yet")),
		),
		mcpListEvents(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://history",
			"Chat History",
			mcp.WithResourceDescription("The most recent chat messages as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(message) == "" {
			return mcpError("message is required"), nil
		}

		msgs, err := deps.Assistant.Send(ctx, message)
		if err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}

		var replies []string
		for _, m := range msgs {
			if m.Sender == storage.SenderAssistant {
				replies = append(replies, m.Text)
			}
		}
		return mcpText(strings.Join(replies, "\n\n")), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "all")

		out := []storage.Task{}
		for _, t := range deps.Tasks.Tasks() {
			switch status {
			case "all", "":
			case "pending":
				if t.Completed {
					continue
				}
			case "completed":
				if !t.Completed {
					continue
				}
			default:
				return mcpError(fmt.Sprintf("invalid status %q: use all, pending or completed", status)), nil
			}
			out = append(out, t)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListEvents(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		upcoming := req.GetBool("upcoming", false)
		now := time.Now()

		out := []storage.Event{}
		for _, e := range deps.Calendar.Events() {
			if upcoming && e.End.Before(now) {
				continue
			}
			out = append(out, e)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal events: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs := deps.History.Messages()
		if len(msgs) > historyLimit {
			msgs = msgs[len(msgs)-historyLimit:]
		}

		b, err := json.Marshal(msgs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
