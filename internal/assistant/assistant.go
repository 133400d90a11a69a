// Package assistant runs one conversational turn: it asks the model, turns
// its reply into chat messages and applies any action it carries.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/fusion/internal/action"
	"github.com/kalambet/fusion/internal/chat"
	"github.com/kalambet/fusion/internal/executor"
	"github.com/kalambet/fusion/internal/llm"
	"github.com/kalambet/fusion/internal/storage"
)

const (
	// RetryText is shown when the model gave no usable reply.
	RetryText = "Let's try that again. Could you clarify your request?"
	// CrashText is shown when a turn fails unexpectedly.
	CrashText = "⚠️ Oops, something went wrong. Let's try that again."

	defaultWindow  = 15
	defaultTimeout = 15 * time.Second
)

var ErrEmptyMessage = errors.New("message is empty")

type State int32

const (
	Idle State = iota
	AwaitingModelResponse
	ProcessingAction
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingModelResponse:
		return "awaiting_model_response"
	case ProcessingAction:
		return "processing_action"
	}
	return "unknown"
}

type TaskLister interface {
	Tasks() []storage.Task
}

type EventLister interface {
	Events() []storage.Event
}

// Executor applies a validated action, emitting progress as chat text.
type Executor interface {
	Execute(p action.Payload, out executor.Emitter) executor.Outcome
}

type Options struct {
	// Window is how many prior messages are sent to the model.
	Window int
	// Timeout bounds each model request.
	Timeout  time.Duration
	Location *time.Location
}

// Assistant serialises turns: a Send issued while another is in flight waits
// for it, so every model request sees the history its predecessor produced.
type Assistant struct {
	chat     *chat.Store
	model    llm.Client
	parser   *action.Parser
	exec     Executor
	tasks    TaskLister
	events   EventLister
	window   int
	timeout  time.Duration
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger

	turn  sync.Mutex
	state atomic.Int32
}

func New(store *chat.Store, model llm.Client, exec Executor, ts TaskLister, es EventLister, opts Options) *Assistant {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Assistant{
		chat:     store,
		model:    model,
		parser:   action.NewParser(opts.Location),
		exec:     exec,
		tasks:    ts,
		events:   es,
		window:   opts.Window,
		timeout:  opts.Timeout,
		location: opts.Location,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

func (a *Assistant) State() State {
	return State(a.state.Load())
}

func (a *Assistant) setState(s State) {
	a.state.Store(int32(s))
}

// Send records text as a user message, runs the turn and returns every message
// it appended, the user's first. Failures are reported as assistant messages;
// the only error is ErrEmptyMessage.
func (a *Assistant) Send(ctx context.Context, text string) (out []storage.ChatMessage, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	a.turn.Lock()
	defer a.turn.Unlock()

	history := a.chat.Recent(a.window)
	out = append(out, a.chat.Append(storage.SenderUser, text))
	emit := func(s string) {
		out = append(out, a.chat.Append(storage.SenderAssistant, s))
	}

	defer a.setState(Idle)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("turn failed", "panic", r, "state", a.State())
			emit(CrashText)
		}
	}()

	if IsCommand(text) {
		emit(a.runCommand(text))
		return out, nil
	}

	a.setState(AwaitingModelResponse)
	reply, err := a.complete(ctx, history, text)
	if err != nil {
		a.logger.Warn("model request failed", "error", err)
		emit(RetryText)
		return out, nil
	}

	a.setState(ProcessingAction)
	a.handleReply(reply, emit)
	return out, nil
}

func (a *Assistant) complete(ctx context.Context, history []storage.ChatMessage, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: SystemPrompt(a.now(), a.location, a.window, a.tasks.Tasks(), a.events.Events()),
	})
	for _, m := range history {
		role := llm.RoleAssistant
		if m.Sender == storage.SenderUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	start := time.Now()
	reply, err := a.model.Complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("completing turn: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("completing turn: empty reply")
	}
	a.logger.Debug("model replied", "messages", len(msgs), "elapsed", time.Since(start))
	return reply, nil
}

func (a *Assistant) handleReply(reply string, emit func(string)) {
	res := a.parser.Parse(reply)
	text := strings.TrimSpace(res.Text)

	if res.Payload == nil {
		if text == "" {
			text = RetryText
		}
		emit(text)
		return
	}

	if text != "" {
		emit(text)
	}
	if err := action.Validate(*res.Payload); err != nil {
		var ve *action.ValidationError
		if errors.As(err, &ve) {
			a.logger.Info("action rejected", "action", ve.Action, "type", ve.Type, "missing", ve.Missing)
		}
		emit(err.Error())
		return
	}
	a.exec.Execute(*res.Payload, executor.EmitFunc(emit))
}
