package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Chat     ChatConfig
	Reminder ReminderConfig
	User     UserConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

const (
	BackendOpenRouter = "openrouter"
	BackendOllama     = "ollama"
)

type LLMConfig struct {
	Backend          string
	BaseURL          string
	Model            string
	OllamaBaseURL    string
	OllamaModel      string
	Timeout          string
	ContextMessages  int
	Temperature      float64
	MaxTokens        int
	OpenRouterAPIKey string
}

// TimeoutDuration parses Timeout, falling back to 15s when it is empty or invalid.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type ChatConfig struct {
	MaxMessages int
	Timezone    string
}

// Location resolves Timezone. An empty value means the host's local zone.
func (c ChatConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type ReminderConfig struct {
	PollInterval string
	WebhookURL   string
}

// PollDuration parses PollInterval, falling back to 30s.
func (c ReminderConfig) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type UserConfig struct {
	ID string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Backend:         BackendOpenRouter,
			BaseURL:         "https://openrouter.ai/api/v1",
			Model:           "deepseek/deepseek-chat-v3-0324",
			OllamaBaseURL:   "http://localhost:11434",
			OllamaModel:     "llama3.1",
			Timeout:         "15s",
			ContextMessages: 15,
			Temperature:     0.7,
			MaxTokens:       500,
		},
		Chat: ChatConfig{
			MaxMessages: 100,
		},
		Reminder: ReminderConfig{
			PollInterval: "30s",
		},
		User: UserConfig{
			ID: "local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fusion.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/fusion/config.json
// and secrets are read from $XDG_DATA_HOME/fusion/secrets.json.
//
// Environment variables (FUSION_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret lookups for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "fusion"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	switch cfg.LLM.Backend {
	case BackendOpenRouter, BackendOllama:
	default:
		return Config{}, fmt.Errorf("invalid llm.backend %q: must be %q or %q", cfg.LLM.Backend, BackendOpenRouter, BackendOllama)
	}

	if cfg.LLM.ContextMessages <= 0 {
		return Config{}, fmt.Errorf("invalid llm.context_messages %d: must be positive", cfg.LLM.ContextMessages)
	}
	if cfg.Chat.MaxMessages < cfg.LLM.ContextMessages {
		return Config{}, fmt.Errorf("chat.max_messages (%d) must not be smaller than llm.context_messages (%d)", cfg.Chat.MaxMessages, cfg.LLM.ContextMessages)
	}
	if _, err := cfg.Chat.Location(); err != nil {
		return Config{}, err
	}

	// Only the hosted backend needs a key.
	if cfg.LLM.Backend != BackendOpenRouter {
		return cfg, nil
	}

	if cfg.LLM.OpenRouterAPIKey == "" {
		if key, err := kc.Get(keychainService, "openrouter_api_key"); err == nil && key != "" {
			cfg.LLM.OpenRouterAPIKey = key
		}
	}

	if cfg.LLM.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable FUSION_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// ParseLevel maps a log.level value to a slog level name understood by
// slog.Level.UnmarshalText. Unknown values map to INFO.
func ParseLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}
