package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Storage backends.
const (
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

type Config struct {
	Port         string     `envconfig:"PORT" default:"8080"`
	Environment  string     `envconfig:"ENVIRONMENT" default:"development"`
	LogLevelName string     `envconfig:"LOG_LEVEL" default:"info"`
	LogLevel     slog.Level `ignored:"true"`

	// LLM
	LLMProvider      string `envconfig:"LLM_PROVIDER" default:"openai"`
	ModelName        string `envconfig:"MODEL_NAME"`
	BackendModelName string `envconfig:"BACKEND_MODEL_NAME"` // Cheaper model for search queries and validation
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL"`
	VeniceAPIKey     string `envconfig:"VENICE_API_KEY"`
	OpenRouterAPIKey string `envconfig:"OPENROUTER_API_KEY"`
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	OllamaURL        string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`

	// Storage
	StorageBackend string        `envconfig:"STORAGE_BACKEND" default:"redis"`
	RedisURL       string        `envconfig:"REDIS_URL" default:"localhost:6379"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	DataDir        string        `envconfig:"DATA_DIR" default:"./data"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"0"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// Scenario discovery
	ReaderBaseURL string        `envconfig:"READER_BASE_URL" default:"https://r.jina.ai/"`
	TavilyAPIKey  string        `envconfig:"TAVILY_API_KEY"`
	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`

	// Live games
	AutosaveDebounce  time.Duration `envconfig:"AUTOSAVE_DEBOUNCE" default:"3s"`
	SyncErrorClear    time.Duration `envconfig:"SYNC_ERROR_CLEAR" default:"5s"`
	ValidationEnabled bool          `envconfig:"VALIDATION_ENABLED" default:"true"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.LLMProvider = strings.ToLower(cfg.LLMProvider)
	cfg.StorageBackend = strings.ToLower(cfg.StorageBackend)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case StorageRedis:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q (supported: redis, postgres)", c.StorageBackend)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
