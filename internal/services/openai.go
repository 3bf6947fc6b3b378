package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
)

const (
	veniceBaseURL     = "https://api.venice.ai/api/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	DefaultOpenAITemperature = 0.7
	DefaultOpenAIMaxTokens   = 4096
)

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
	Model   string
	// JSONMode asks the endpoint for a JSON object reply. Every prompt the
	// engine sends already demands JSON, so this only tightens the contract
	// where the endpoint supports it.
	JSONMode bool
}

// OpenAIService implements LLMService for OpenAI and the OpenAI-compatible
// gateways (Venice, OpenRouter).
type OpenAIService struct {
	client   *openai.Client
	model    string
	jsonMode bool
	logger   *slog.Logger
}

var _ LLMService = (*OpenAIService)(nil)

func NewOpenAIService(cfg OpenAIConfig, logger *slog.Logger) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: 120 * time.Second,
	}
	return &OpenAIService{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		jsonMode: cfg.JSONMode,
		logger:   logger,
	}
}

// NewVeniceService points the OpenAI client at Venice AI.
func NewVeniceService(apiKey, model string, logger *slog.Logger) *OpenAIService {
	return NewOpenAIService(OpenAIConfig{APIKey: apiKey, BaseURL: veniceBaseURL, Model: model}, logger)
}

// NewOpenRouterService points the OpenAI client at OpenRouter.
func NewOpenRouterService(apiKey, model string, logger *slog.Logger) *OpenAIService {
	return NewOpenAIService(OpenAIConfig{APIKey: apiKey, BaseURL: openRouterBaseURL, Model: model, JSONMode: true}, logger)
}

func (o *OpenAIService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

func (o *OpenAIService) request(messages []chat.ChatMessage, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: DefaultOpenAITemperature,
		MaxTokens:   DefaultOpenAIMaxTokens,
		Stream:      stream,
	}
	if o.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

func (o *OpenAIService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	o.logger.Debug("Chat completion received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return &chat.ChatResponse{
		Message: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}, nil
}

func (o *OpenAIService) ChatStream(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(messages, true))
	if err != nil {
		return nil, fmt.Errorf("failed to open chat stream: %w", err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				sendChunk(ctx, ch, StreamChunk{Done: true})
				return
			}
			if err != nil {
				sendChunk(ctx, ch, StreamChunk{Err: fmt.Errorf("chat stream failed: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !sendChunk(ctx, ch, StreamChunk{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return ch, nil
}
