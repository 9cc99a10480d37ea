package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
	"github.com/stupiduntilnot/slavik/internal/persona"
	"github.com/stupiduntilnot/slavik/internal/sanitize"
)

// Transports and providers accepted by LoadWorkerConfig.
const (
	TransportTelegram = "telegram"
	TransportConsole  = "console"
	TransportDummy    = "dummy"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderDummy  = "dummy"
)

// WorkerConfig holds configuration for the bot process.
type WorkerConfig struct {
	Transport string

	TelegramAPIBase      string
	Timeout              int
	SleepSeconds         int
	DropPending          bool
	PendingWindowSeconds int64
	PendingMaxMessages   int
	BotUsername          string

	ModelProvider        string
	OpenAIAPIKey         string
	OpenAIChatCompURL    string
	OpenAIModel          string
	OpenAITemperature    float64
	GeminiAPIKey         string
	GeminiModel          string
	CompletionRetries    int
	CompletionTimeout    time.Duration
	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string

	DBPath string

	Persona      persona.Persona
	PersonaFile  string
	PersonaWatch bool
	MaxSymbols   int
	TriggerNames []string
	PromptScheme string
	Sanitizers   string
	Markers      []string
	ContextScope string
	Concurrency  int

	TelemetryEnabled  bool
	TelemetryEndpoint string

	LogLevel  string
	LogFormat string
}

// LoadWorkerConfig reads worker configuration from environment variables.
func LoadWorkerConfig() (WorkerConfig, error) {
	return LoadWorkerConfigFor(envOrDefault("SLAVIK_TRANSPORT", TransportTelegram))
}

// LoadWorkerConfigFor is LoadWorkerConfig with the transport fixed by the
// caller instead of SLAVIK_TRANSPORT.
func LoadWorkerConfigFor(transport string) (WorkerConfig, error) {
	modelProvider := envOrDefault("SLAVIK_MODEL_PROVIDER", ProviderOpenAI)

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	switch transport {
	case TransportTelegram:
		if telegramToken == "" {
			return WorkerConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when SLAVIK_TRANSPORT=telegram")
		}
	case TransportConsole, TransportDummy:
	default:
		return WorkerConfig{}, fmt.Errorf("SLAVIK_TRANSPORT: unknown transport %q", transport)
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	switch modelProvider {
	case ProviderOpenAI:
		if openaiKey == "" {
			return WorkerConfig{}, fmt.Errorf("OPENAI_API_KEY is required in environment when SLAVIK_MODEL_PROVIDER=openai")
		}
	case ProviderGemini:
		if geminiKey == "" {
			return WorkerConfig{}, fmt.Errorf("GEMINI_API_KEY is required in environment when SLAVIK_MODEL_PROVIDER=gemini")
		}
	case ProviderDummy:
	default:
		return WorkerConfig{}, fmt.Errorf("SLAVIK_MODEL_PROVIDER: unknown provider %q", modelProvider)
	}

	cfg := WorkerConfig{
		Transport:            transport,
		TelegramAPIBase:      fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken),
		Timeout:              envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:         envIntOrDefault("TG_SLEEP_SECONDS", 1),
		DropPending:          envBoolOrDefault("TG_DROP_PENDING", true),
		PendingWindowSeconds: int64(envIntOrDefault("TG_PENDING_WINDOW_SECONDS", 600)),
		PendingMaxMessages:   envIntOrDefault("TG_PENDING_MAX_MESSAGES", 50),
		BotUsername:          strings.TrimPrefix(os.Getenv("TG_BOT_USERNAME"), "@"),

		ModelProvider:        modelProvider,
		OpenAIAPIKey:         openaiKey,
		OpenAIChatCompURL:    envOrDefault("OPENAI_CHAT_COMPLETIONS_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIModel:          envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITemperature:    envFloatOrDefault("OPENAI_TEMPERATURE", 0.9),
		GeminiAPIKey:         geminiKey,
		GeminiModel:          envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		CompletionRetries:    envIntOrDefault("SLAVIK_COMPLETION_RETRIES", 0),
		CompletionTimeout:    time.Duration(envIntOrDefault("SLAVIK_COMPLETION_TIMEOUT_SECONDS", 60)) * time.Second,
		DummyProviderScript:  envOrDefault("SLAVIK_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript: envOrDefault("SLAVIK_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:      envOrDefault("SLAVIK_DUMMY_SEND_SCRIPT", "ok"),

		DBPath: envOrDefault("SLAVIK_DB_PATH", "/state/slavik.db"),

		PersonaFile:  os.Getenv("SLAVIK_PERSONA_FILE"),
		PersonaWatch: envBoolOrDefault("SLAVIK_PERSONA_WATCH", false),
		MaxSymbols:   envIntOrDefault("SLAVIK_MAX_CONTEXT_SYMBOLS", ctxpkg.DefaultMaxSymbols),
		TriggerNames: splitList(envOrDefault("SLAVIK_TRIGGER_NAMES", "славик")),
		PromptScheme: envOrDefault("SLAVIK_PROMPT_SCHEME", ctxpkg.SchemePerTurn),
		Sanitizers:   envOrDefault("SLAVIK_SANITIZERS", sanitize.StepMarkers+","+sanitize.StepNamePrefix),
		Markers:      splitList(envOrDefault("SLAVIK_MARKERS", strings.Join(sanitize.DefaultMarkers, ","))),
		ContextScope: envOrDefault("SLAVIK_CONTEXT_SCOPE", "chat"),
		Concurrency:  envIntOrDefault("SLAVIK_CONCURRENCY", 4),

		TelemetryEnabled:  envBoolOrDefault("SLAVIK_TELEMETRY_ENABLED", false),
		TelemetryEndpoint: envOrDefault("SLAVIK_TELEMETRY_ENDPOINT", "localhost:4318"),

		LogLevel:  envOrDefault("SLAVIK_LOG_LEVEL", "info"),
		LogFormat: envOrDefault("SLAVIK_LOG_FORMAT", "json"),
	}

	p, err := loadPersona(cfg.PersonaFile)
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg.Persona = p

	if err := cfg.validate(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

// loadPersona resolves the default persona: the YAML file when given,
// otherwise the built-in persona with SLAVIK_BOT_NAME / SLAVIK_PERSONA
// overrides.
func loadPersona(path string) (persona.Persona, error) {
	if path != "" {
		p, err := persona.Load(path)
		if err != nil {
			return persona.Persona{}, fmt.Errorf("SLAVIK_PERSONA_FILE: %w", err)
		}
		return p, nil
	}
	p := persona.Default()
	p.Name = envOrDefault("SLAVIK_BOT_NAME", p.Name)
	p.Text = envOrDefault("SLAVIK_PERSONA", p.Text)
	if err := p.Validate(); err != nil {
		return persona.Persona{}, fmt.Errorf("SLAVIK_BOT_NAME: %w", err)
	}
	return p, nil
}

func (c WorkerConfig) validate() error {
	positive := []struct {
		key   string
		value int
	}{
		{"SLAVIK_MAX_CONTEXT_SYMBOLS", c.MaxSymbols},
		{"SLAVIK_CONCURRENCY", c.Concurrency},
		{"SLAVIK_COMPLETION_TIMEOUT_SECONDS", int(c.CompletionTimeout / time.Second)},
		{"TG_SLEEP_SECONDS", c.SleepSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.key, p.value)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("TG_TIMEOUT must not be negative, got %d", c.Timeout)
	}
	if c.CompletionRetries < 0 {
		return fmt.Errorf("SLAVIK_COMPLETION_RETRIES must not be negative, got %d", c.CompletionRetries)
	}
	if _, err := ctxpkg.NewAssembler(c.PromptScheme); err != nil {
		return fmt.Errorf("SLAVIK_PROMPT_SCHEME: %w", err)
	}
	if _, err := sanitize.Parse(c.Sanitizers, c.Markers); err != nil {
		return fmt.Errorf("SLAVIK_SANITIZERS: %w", err)
	}
	switch c.ContextScope {
	case "chat", "global":
	default:
		return fmt.Errorf("SLAVIK_CONTEXT_SCOPE: unknown scope %q", c.ContextScope)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("SLAVIK_LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
