package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/fusion/internal/api"
	"github.com/kalambet/fusion/internal/config"
	"github.com/kalambet/fusion/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Send a message to the assistant and print its replies.

Without arguments, starts an interactive session that reads one message per
line until EOF or "exit".

Examples:
  fusion chat "Schedule dentist tomorrow 3-4pm"
  fusion chat /list-pending
  fusion chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(args) > 0 {
			return sendChat(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "))
		}
		return chatLoop(cmd.Context(), client, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// sendChat prints the assistant's replies; the user's own message is not
// echoed.
func sendChat(ctx context.Context, client *apiClient, w io.Writer, message string) error {
	resp, err := client.post(ctx, "/chat", api.ChatRequest{Message: message})
	if err != nil {
		return err
	}
	var out api.ChatResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	for _, m := range out.Messages {
		if m.Sender == storage.SenderAssistant {
			printMessage(w, m)
		}
	}
	return nil
}

func chatLoop(ctx context.Context, client *apiClient, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, colorize(colorBold, "> "))
		if !sc.Scan() {
			fmt.Fprintln(w)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := sendChat(ctx, client, w, line); err != nil {
			printError("%v", err)
		}
	}
}

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Show or clear the conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/messages?limit=%d", limit))
		if err != nil {
			return err
		}
		var msgs []storage.ChatMessage
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

var messagesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/messages")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Conversation cleared")
		return nil
	},
}

func init() {
	messagesCmd.Flags().Int("limit", 20, "number of most recent messages to show")
	messagesCmd.AddCommand(messagesClearCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and edit tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/tasks?status="+url.QueryEscape(status))
		if err != nil {
			return err
		}
		var ts []storage.Task
		if err := decodeJSON(resp, &ts); err != nil {
			return err
		}
		if len(ts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
			return nil
		}
		for _, t := range ts {
			printTask(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		due, _ := cmd.Flags().GetString("due")
		priority, _ := cmd.Flags().GetString("priority")
		description, _ := cmd.Flags().GetString("description")

		req := api.TaskRequest{Title: &title}
		if due != "" {
			req.DueDate = &due
		}
		if priority != "" {
			req.Priority = &priority
		}
		if description != "" {
			req.Description = &description
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/tasks", req)
		if err != nil {
			return err
		}
		var t storage.Task
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Task %q created (%s)", t.Title, shortID(t.ID))
		return nil
	},
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Toggle a task's completed flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := resolveID(cmd.Context(), client, "/tasks", args[0])
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/tasks/"+id+"/toggle", nil)
		if err != nil {
			return err
		}
		var t storage.Task
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		if t.Completed {
			printSuccess("Task %q completed", t.Title)
		} else {
			printSuccess("Task %q reopened", t.Title)
		}
		return nil
	},
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := resolveID(cmd.Context(), client, "/tasks", args[0])
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/tasks/"+id)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Task %s deleted", shortID(id))
		return nil
	},
}

func init() {
	tasksCmd.Flags().String("status", "all", "all, pending or completed")
	tasksAddCmd.Flags().String("due", "", "due date, e.g. 2025-06-11T17:00:00")
	tasksAddCmd.Flags().String("priority", "", "low, medium or high (default medium)")
	tasksAddCmd.Flags().String("description", "", "optional description")
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksDoneCmd)
	tasksCmd.AddCommand(tasksRmCmd)
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List and edit calendar events",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/events?upcoming=true"
		if all {
			path = "/events"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var es []storage.Event
		if err := decodeJSON(resp, &es); err != nil {
			return err
		}
		if len(es) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
			return nil
		}
		for _, e := range es {
			printEvent(cmd.OutOrStdout(), e)
		}
		return nil
	},
}

var eventsAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a calendar event",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		if start == "" || end == "" {
			return fmt.Errorf("--start and --end are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/events", api.EventRequest{Title: &title, Start: &start, End: &end})
		if err != nil {
			return err
		}
		var e storage.Event
		if err := decodeJSON(resp, &e); err != nil {
			return err
		}
		printSuccess("Event %q scheduled for %s", e.Title, e.Start.Local().Format("Jan 2, 2006 15:04"))
		return nil
	},
}

var eventsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a calendar event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := resolveID(cmd.Context(), client, "/events", args[0])
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/events/"+id)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Event %s deleted", shortID(id))
		return nil
	},
}

func init() {
	eventsCmd.Flags().Bool("all", false, "include past events")
	eventsAddCmd.Flags().String("start", "", "start, e.g. 2025-06-11T15:00:00")
	eventsAddCmd.Flags().String("end", "", "end, e.g. 2025-06-11T16:00:00")
	eventsCmd.AddCommand(eventsAddCmd)
	eventsCmd.AddCommand(eventsRmCmd)
}

// resolveID expands the short id prefix shown by list commands.
func resolveID(ctx context.Context, client *apiClient, collection, prefix string) (string, error) {
	resp, err := client.get(ctx, collection)
	if err != nil {
		return "", err
	}
	var items []struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &items); err != nil {
		return "", err
	}

	var matches []string
	for _, it := range items {
		if it.ID == prefix {
			return it.ID, nil
		}
		if strings.HasPrefix(it.ID, prefix) {
			matches = append(matches, it.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no item with id %q", prefix)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("id prefix %q is ambiguous (%d matches)", prefix, len(matches))
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export stored data",
}

// Export is the document written by "fusion data export".
type Export struct {
	ExportedAt time.Time             `json:"exported_at" yaml:"exported_at"`
	Tasks      []storage.Task        `json:"tasks" yaml:"tasks"`
	Events     []storage.Event       `json:"events" yaml:"events"`
	Messages   []storage.ChatMessage `json:"messages" yaml:"messages"`
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tasks, events and messages as JSON or YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "yaml" {
			return fmt.Errorf("invalid --format %q: use json or yaml", format)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		exp, err := collectExport(cmd.Context(), client)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := writeExport(w, exp, format); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		return nil
	},
}

func collectExport(ctx context.Context, client *apiClient) (Export, error) {
	exp := Export{ExportedAt: time.Now().UTC()}
	for path, dst := range map[string]any{
		"/tasks":    &exp.Tasks,
		"/events":   &exp.Events,
		"/messages": &exp.Messages,
	} {
		resp, err := client.get(ctx, path)
		if err != nil {
			return Export{}, err
		}
		if err := decodeJSON(resp, dst); err != nil {
			return Export{}, fmt.Errorf("exporting %s: %w", strings.TrimPrefix(path, "/"), err)
		}
	}
	return exp, nil
}

func writeExport(w io.Writer, exp Export, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(exp); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exp)
}

func init() {
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataExportCmd.Flags().String("format", "json", "json or yaml")
	dataCmd.AddCommand(dataExportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
