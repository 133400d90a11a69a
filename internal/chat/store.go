// Package chat keeps the capped, persisted conversation log.
package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fusion/internal/storage"
)

// DefaultMaxMessages is how many messages are retained when no cap is given.
const DefaultMaxMessages = 100

// WelcomeText seeds an empty conversation.
const WelcomeText = "Hello! I am FUSION, your task management assistant. How can I help you today?"

// Persistence loads and replaces the whole stored conversation.
type Persistence interface {
	LoadMessages() ([]storage.ChatMessage, error)
	ReplaceMessages(msgs []storage.ChatMessage) error
}

// Store is an append-only message log trimmed to the most recent max entries.
// Every mutation is written through to persistence; write failures are logged
// and the in-memory log stays authoritative.
type Store struct {
	p   Persistence
	max int
	now func() time.Time

	mu   sync.RWMutex
	msgs []storage.ChatMessage
}

func New(p Persistence, max int) *Store {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &Store{p: p, max: max, now: time.Now}
}

// Load reads the persisted conversation. An empty log is seeded with the
// welcome message.
func (s *Store) Load() error {
	msgs, err := s.p.LoadMessages()
	if err != nil {
		return fmt.Errorf("loading chat history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = msgs
	if len(s.msgs) > s.max {
		s.msgs = s.msgs[len(s.msgs)-s.max:]
	}
	if len(s.msgs) == 0 {
		s.msgs = []storage.ChatMessage{s.newMessage(storage.SenderAssistant, WelcomeText)}
		s.persistLocked()
	}
	return nil
}

// Append adds a message and returns it.
func (s *Store) Append(sender, text string) storage.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.newMessage(sender, text)
	s.msgs = append(s.msgs, m)
	if len(s.msgs) > s.max {
		s.msgs = append([]storage.ChatMessage(nil), s.msgs[len(s.msgs)-s.max:]...)
	}
	s.persistLocked()
	return m
}

// Messages returns the whole log, oldest first.
func (s *Store) Messages() []storage.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Recent returns up to n of the newest messages, oldest first.
func (s *Store) Recent(n int) []storage.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(s.msgs) - n
	if start < 0 {
		start = 0
	}
	out := make([]storage.ChatMessage, len(s.msgs)-start)
	copy(out, s.msgs[start:])
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Reset clears the conversation back to the welcome message.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = []storage.ChatMessage{s.newMessage(storage.SenderAssistant, WelcomeText)}
	s.persistLocked()
}

func (s *Store) newMessage(sender, text string) storage.ChatMessage {
	return storage.ChatMessage{
		ID:        uuid.New().String(),
		Text:      text,
		Sender:    sender,
		CreatedAt: s.now().UTC(),
	}
}

func (s *Store) persistLocked() {
	if err := s.p.ReplaceMessages(s.msgs); err != nil {
		slog.Warn("persisting chat history failed", "error", err, "messages", len(s.msgs))
	}
}
