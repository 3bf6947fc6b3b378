package services

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	ProviderOpenAI     = "openai"
	ProviderVenice     = "venice"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOllamaModel    = "llama3.1"
	defaultVeniceModel    = "llama-3.3-70b"
	defaultRouterModel    = "openai/gpt-4o-mini"
)

// ProviderConfig selects and configures one LLM backend.
type ProviderConfig struct {
	Provider string
	Model    string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	VeniceAPIKey     string
	OpenRouterAPIKey string
	AnthropicAPIKey  string
	OllamaURL        string
	GeminiAPIKey     string
}

// NewLLMService builds the configured provider wrapped with metrics.
func NewLLMService(ctx context.Context, cfg ProviderConfig, logger *slog.Logger) (LLMService, error) {
	model := cfg.Model
	orDefault := func(def string) string {
		if model == "" {
			return def
		}
		return model
	}

	var svc LLMService
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		svc = NewOpenAIService(OpenAIConfig{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    orDefault(defaultOpenAIModel),
			JSONMode: cfg.OpenAIBaseURL == "",
		}, logger)
	case ProviderVenice:
		if cfg.VeniceAPIKey == "" {
			return nil, fmt.Errorf("VENICE_API_KEY is required for the venice provider")
		}
		svc = NewVeniceService(cfg.VeniceAPIKey, orDefault(defaultVeniceModel), logger)
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is required for the openrouter provider")
		}
		svc = NewOpenRouterService(cfg.OpenRouterAPIKey, orDefault(defaultRouterModel), logger)
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		svc = NewAnthropicService(cfg.AnthropicAPIKey, orDefault(defaultAnthropicModel), logger)
	case ProviderOllama:
		o, err := NewOllamaService(cfg.OllamaURL, orDefault(defaultOllamaModel), logger)
		if err != nil {
			return nil, err
		}
		svc = o
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		g, err := NewGeminiService(ctx, cfg.GeminiAPIKey, orDefault(DefaultGeminiModel), logger)
		if err != nil {
			return nil, err
		}
		svc = g
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	return WithMetrics(svc, provider), nil
}

// ModelName resolves the model a provider will use, for startup logging and
// InitModel.
func (cfg ProviderConfig) ModelName() string {
	if cfg.Model != "" {
		return cfg.Model
	}
	switch cfg.Provider {
	case ProviderVenice:
		return defaultVeniceModel
	case ProviderOpenRouter:
		return defaultRouterModel
	case ProviderAnthropic:
		return defaultAnthropicModel
	case ProviderOllama:
		return defaultOllamaModel
	case ProviderGemini:
		return DefaultGeminiModel
	default:
		return defaultOpenAIModel
	}
}
