package services

import (
	"context"
	"errors"
	"strings"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// LLMService defines the interface for interacting with the LLM API
type LLMService interface {
	// InitModel prepares the model on startup. Hosted providers treat this
	// as a no-op.
	InitModel(ctx context.Context, modelName string) error

	// Chat returns the complete reply to the conversation.
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)

	// ChatStream returns the reply as incremental text chunks. The channel
	// is closed after a chunk with Done set or Err non-nil. Cancelling ctx
	// stops the upstream call.
	ChatStream(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error)
}

// StreamChunk is one increment of a streamed reply.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// CollectStream drains a stream into the full text. onChunk, when non-nil,
// sees every non-empty increment in order.
func CollectStream(ctx context.Context, ch <-chan StreamChunk, onChunk func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			if chunk.Content != "" {
				b.WriteString(chunk.Content)
				if onChunk != nil {
					onChunk(chunk.Content)
				}
			}
			if chunk.Done {
				return b.String(), nil
			}
		}
	}
}

// sendChunk delivers a chunk unless the consumer has gone away.
func sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
