package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fusion/internal/api"
	"github.com/kalambet/fusion/internal/assistant"
	"github.com/kalambet/fusion/internal/calendar"
	"github.com/kalambet/fusion/internal/chat"
	"github.com/kalambet/fusion/internal/config"
	"github.com/kalambet/fusion/internal/executor"
	"github.com/kalambet/fusion/internal/llm"
	"github.com/kalambet/fusion/internal/reminder"
	"github.com/kalambet/fusion/internal/storage"
	"github.com/kalambet/fusion/internal/tasks"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fusion server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fusion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fusion status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fusion.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(config.ParseLevel(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// newModel builds the configured language-model client. The local backend is
// checked, and its model pulled if needed, before the server accepts chats.
func newModel(ctx context.Context, cfg config.Config) (llm.Client, error) {
	opts := llm.Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	switch cfg.LLM.Backend {
	case config.BackendOllama:
		opts.Model = cfg.LLM.OllamaModel
		c := llm.NewOllama(cfg.LLM.OllamaBaseURL, opts)
		if err := c.EnsureReady(ctx, os.Stderr); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return llm.NewOpenRouter(cfg.LLM.OpenRouterAPIKey, cfg.LLM.BaseURL, opts), nil
	}
}

func newNotifier(cfg config.Config) reminder.Notifier {
	n := reminder.Multi{reminder.LogNotifier{}}
	if cfg.Reminder.WebhookURL != "" {
		n = append(n, reminder.NewWebhookNotifier(cfg.Reminder.WebhookURL))
	}
	return n
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "fusion version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	loc, err := cfg.Chat.Location()
	if err != nil {
		return err
	}

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fusion is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fusion is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	taskSvc := tasks.New(store, cfg.User.ID)
	calSvc := calendar.New(store, cfg.User.ID)
	history := chat.New(store, cfg.Chat.MaxMessages)

	var loads errgroup.Group
	loads.Go(taskSvc.Load)
	loads.Go(calSvc.Load)
	loads.Go(history.Load)
	if err := loads.Wait(); err != nil {
		return err
	}
	slog.Info("state loaded", "tasks", len(taskSvc.Tasks()), "events", len(calSvc.Events()), "messages", history.Len())

	scheduler := reminder.NewScheduler(store)
	defer taskSvc.Subscribe(scheduler.OnTaskChange)()
	defer calSvc.Subscribe(scheduler.OnEventChange)()
	scheduler.Resync(taskSvc.Tasks(), calSvc.Events())

	model, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}

	exec := executor.New(taskSvc, calSvc, scheduler, loc)
	asst := assistant.New(history, model, exec, taskSvc, calSvc, assistant.Options{
		Window:   cfg.LLM.ContextMessages,
		Timeout:  cfg.LLM.TimeoutDuration(),
		Location: loc,
	})

	handler := api.NewHandler(api.Deps{
		Assistant: asst,
		History:   history,
		Tasks:     taskSvc,
		Calendar:  calSvc,
		Reminders: scheduler,
		Token:     apiToken,
		Location:  loc,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	worker := reminder.NewWorker(store, newNotifier(cfg), cfg.Reminder.PollDuration())
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Assistant: asst,
			History:   history,
			Tasks:     taskSvc,
			Calendar:  calSvc,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "fusion listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fusion is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fusion (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fusion (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	probe := &http.Client{Timeout: 2 * time.Second}
	running := false
	if resp, err := probe.Get(serverURL + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	switch cfg.LLM.Backend {
	case config.BackendOllama:
		printStatus("Model", "%s (ollama at %s)", cfg.LLM.OllamaModel, cfg.LLM.OllamaBaseURL)
	default:
		printStatus("Model", "%s (openrouter)", cfg.LLM.Model)
	}

	if running {
		if client, err := newAPIClient(); err == nil {
			printCounts(ctx, client)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printCounts(ctx context.Context, client *apiClient) {
	if resp, err := client.get(ctx, "/tasks?status=pending"); err == nil {
		var ts []storage.Task
		if decodeJSON(resp, &ts) == nil {
			printStatus("Pending", "%s", countLabel(len(ts), "task"))
		}
	}
	if resp, err := client.get(ctx, "/events?upcoming=true"); err == nil {
		var es []storage.Event
		if decodeJSON(resp, &es) == nil {
			printStatus("Upcoming", "%s", countLabel(len(es), "event"))
		}
	}
	if resp, err := client.get(ctx, "/messages?limit=1"); err == nil {
		var msgs []storage.ChatMessage
		if decodeJSON(resp, &msgs) == nil && len(msgs) > 0 {
			printStatus("Last message", "%s", formatAge(time.Since(msgs[0].CreatedAt)))
		}
	}
}
