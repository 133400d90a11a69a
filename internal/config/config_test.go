package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strs[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error { b.strs[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }
func (b *mapBackend) Delete(key string) error {
	delete(b.strs, key)
	delete(b.ints, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{value: "kc-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.LLM.Backend != BackendOpenRouter {
		t.Errorf("LLM.Backend = %q, want %q", cfg.LLM.Backend, BackendOpenRouter)
	}
	if cfg.LLM.Model != "deepseek/deepseek-chat-v3-0324" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "deepseek/deepseek-chat-v3-0324")
	}
	if cfg.LLM.ContextMessages != 15 {
		t.Errorf("LLM.ContextMessages = %d, want 15", cfg.LLM.ContextMessages)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 500 {
		t.Errorf("LLM.MaxTokens = %d, want 500", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.TimeoutDuration() != 15*time.Second {
		t.Errorf("LLM.TimeoutDuration() = %v, want 15s", cfg.LLM.TimeoutDuration())
	}
	if cfg.Chat.MaxMessages != 100 {
		t.Errorf("Chat.MaxMessages = %d, want 100", cfg.Chat.MaxMessages)
	}
	if cfg.Reminder.PollDuration() != 30*time.Second {
		t.Errorf("Reminder.PollDuration() = %v, want 30s", cfg.Reminder.PollDuration())
	}
	if cfg.User.ID != "local" {
		t.Errorf("User.ID = %q, want %q", cfg.User.ID, "local")
	}
}

// TestBackendValues verifies values from the platform backend are applied.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.ints["server.port"] = 5000
	b.strs["llm.model"] = "openai/gpt-4o"
	b.strs["llm.temperature"] = "0.2"
	b.strs["chat.timezone"] = "Europe/Berlin"
	b.strs["reminder.poll_interval"] = "5s"

	cfg, err := loadWith(b, mockKeychain{value: "kc-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "openai/gpt-4o" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM.Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	loc, err := cfg.Chat.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("Location = %q, want Europe/Berlin", loc.String())
	}
	if cfg.Reminder.PollDuration() != 5*time.Second {
		t.Errorf("PollDuration = %v, want 5s", cfg.Reminder.PollDuration())
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.strs["llm.model"] = "backend-model"

	t.Setenv("FUSION_OPENROUTER_API_KEY", "env-key")
	t.Setenv("FUSION_LLM_MODEL", "env-model")
	t.Setenv("FUSION_LLM_CONTEXT_MESSAGES", "20")

	cfg, err := loadWith(b, mockKeychain{value: "keychain-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.OpenRouterAPIKey != "env-key" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.LLM.OpenRouterAPIKey, "env-key")
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "env-model")
	}
	if cfg.LLM.ContextMessages != 20 {
		t.Errorf("LLM.ContextMessages = %d, want 20", cfg.LLM.ContextMessages)
	}
}

// TestMissingRequiredField verifies a clear error when the API key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMapBackend(), mockKeychain{err: errors.New("no entry")})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}

	want := "missing required config"
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error = %q, want it to contain %q", got, want)
	}
}

// TestOllamaNeedsNoKey verifies the local backend loads without an API key.
func TestOllamaNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("FUSION_LLM_BACKEND", "ollama")

	cfg, err := loadWith(newMapBackend(), mockKeychain{err: errors.New("no entry")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Backend != BackendOllama {
		t.Errorf("LLM.Backend = %q, want %q", cfg.LLM.Backend, BackendOllama)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"FUSION_LLM_BACKEND": "gpt"}, "invalid llm.backend"},
		{"window larger than cap", map[string]string{"FUSION_LLM_CONTEXT_MESSAGES": "200"}, "chat.max_messages"},
		{"bad timezone", map[string]string{"FUSION_CHAT_TIMEZONE": "Mars/Olympus"}, "loading timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(newMapBackend(), mockKeychain{value: "k"})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

// TestKeychainFallback verifies the Keychain is consulted when no API key is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.OpenRouterAPIKey != "keychain-secret" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.LLM.OpenRouterAPIKey, "keychain-secret")
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKeyWith(b, "llm.temperature", "0.3"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "llm.temperature", "warm"); err == nil {
		t.Error("expected error for non-float temperature")
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "llm.openrouter_api_key", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.OpenRouterAPIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "llm.openrouter_api_key" || ki.Value == "sk-secret" {
			t.Errorf("ShowAll exposed secret key %q", ki.Key)
		}
	}
}

type memKeychain map[string]string

func (m memKeychain) Get(service, account string) (string, error) {
	v, ok := m[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m memKeychain) Set(service, account, value string) error {
	m[service+"/"+account] = value
	return nil
}

func TestGetAPITokenGeneratesOnce(t *testing.T) {
	kc := memKeychain{}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q -> %q", first, second)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{"debug": "DEBUG", "WARN": "WARN", "warning": "WARN", "error": "ERROR", "": "INFO", "chatty": "INFO"}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
