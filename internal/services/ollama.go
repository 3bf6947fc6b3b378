package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
)

// OllamaService implements the LLMService interface for a local Ollama server
type OllamaService struct {
	client    *api.Client
	modelName string
	logger    *slog.Logger
}

var _ LLMService = (*OllamaService)(nil)

// NewOllamaService creates a new Ollama service instance
func NewOllamaService(baseURL string, modelName string, logger *slog.Logger) (*OllamaService, error) {
	// The native API lives at the root, not under /v1.
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	return &OllamaService{
		client:    api.NewClient(u, &http.Client{}),
		modelName: modelName,
		logger:    logger,
	}, nil
}

// InitModel waits for the server and pulls the model if it is missing
func (s *OllamaService) InitModel(ctx context.Context, modelName string) error {
	s.logger.Info("Initializing LLM model", "model", modelName)

	if err := s.waitForOllamaReady(ctx); err != nil {
		return fmt.Errorf("ollama service is not ready: %w", err)
	}

	ready, err := s.isModelReady(ctx, modelName)
	if err != nil {
		return fmt.Errorf("failed to check model readiness: %w", err)
	}
	if ready {
		s.logger.Info("Model already available", "model", modelName)
		return nil
	}

	s.logger.Info("Model not found, pulling it", "model", modelName)
	err = s.client.Pull(ctx, &api.PullRequest{Model: modelName}, func(p api.ProgressResponse) error {
		s.logger.Debug("Pull progress", "model", modelName, "status", p.Status, "completed", p.Completed, "total", p.Total)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to pull model: %w", err)
	}
	s.logger.Info("Model pulled successfully", "model", modelName)
	return nil
}

func (s *OllamaService) waitForOllamaReady(ctx context.Context) error {
	const maxRetries = 30
	for i := 0; i < maxRetries; i++ {
		err := s.client.Heartbeat(ctx)
		if err == nil {
			return nil
		}
		s.logger.Debug("Ollama not ready yet", "error", err, "attempt", i+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("ollama did not become available after %d attempts", maxRetries)
}

func (s *OllamaService) isModelReady(ctx context.Context, modelName string) (bool, error) {
	list, err := s.client.List(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range list.Models {
		if m.Name == modelName || m.Model == modelName || strings.TrimSuffix(m.Name, ":latest") == modelName {
			return true, nil
		}
	}
	return false, nil
}

func (s *OllamaService) request(messages []chat.ChatMessage, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	return &api.ChatRequest{
		Model:    s.modelName,
		Messages: msgs,
		Stream:   &stream,
		Format:   json.RawMessage(`"json"`),
	}
}

// Chat generates a chat response using the Ollama API (non-streaming)
func (s *OllamaService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	s.logger.Debug("Making Ollama chat request", "model", s.modelName, "message_count", len(messages))

	var content strings.Builder
	err := s.client.Chat(ctx, s.request(messages, false), func(r api.ChatResponse) error {
		content.WriteString(r.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}
	if content.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return &chat.ChatResponse{Message: content.String(), Model: s.modelName}, nil
}

// ChatStream generates a streaming chat response using the Ollama API
func (s *OllamaService) ChatStream(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		err := s.client.Chat(ctx, s.request(messages, true), func(r api.ChatResponse) error {
			if r.Message.Content != "" {
				if !sendChunk(ctx, ch, StreamChunk{Content: r.Message.Content}) {
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			sendChunk(ctx, ch, StreamChunk{Err: fmt.Errorf("ollama stream failed: %w", err)})
			return
		}
		sendChunk(ctx, ch, StreamChunk{Done: true})
	}()
	return ch, nil
}
