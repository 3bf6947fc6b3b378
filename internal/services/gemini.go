package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiService implements LLMService for Google Gemini
type GeminiService struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

var _ LLMService = (*GeminiService)(nil)

func NewGeminiService(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &GeminiService{client: client, modelName: modelName, logger: logger}, nil
}

func (g *GeminiService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

func (g *GeminiService) Close() error {
	return g.client.Close()
}

// session builds a fresh model per call; GenerativeModel carries mutable
// per-request settings.
func (g *GeminiService) session(messages []chat.ChatMessage) (*genai.ChatSession, []genai.Part, error) {
	systemPrompt, conversation := chat.SplitSystem(messages)
	if len(conversation) == 0 {
		return nil, nil, fmt.Errorf("no non-system messages provided")
	}

	model := g.client.GenerativeModel(g.modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.7)
	if systemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}

	cs := model.StartChat()
	for _, m := range conversation[:len(conversation)-1] {
		role := "user"
		if m.Role == chat.ChatRoleAgent {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	last := conversation[len(conversation)-1]
	return cs, []genai.Part{genai.Text(last.Content)}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return b.String()
}

func (g *GeminiService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	cs, parts, err := g.session(messages)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &chat.ChatResponse{Message: text, Model: g.modelName}, nil
}

func (g *GeminiService) ChatStream(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
	cs, parts, err := g.session(messages)
	if err != nil {
		return nil, err
	}
	iter := cs.SendMessageStream(ctx, parts...)

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				sendChunk(ctx, ch, StreamChunk{Done: true})
				return
			}
			if err != nil {
				sendChunk(ctx, ch, StreamChunk{Err: fmt.Errorf("gemini stream failed: %w", err)})
				return
			}
			if text := responseText(resp); text != "" {
				if !sendChunk(ctx, ch, StreamChunk{Content: text}) {
					return
				}
			}
		}
	}()
	return ch, nil
}
