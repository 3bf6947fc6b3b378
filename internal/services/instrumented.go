package services

import (
	"context"
	"time"

	"github.com/jwebster45206/crisis-engine/internal/metrics"
	"github.com/jwebster45206/crisis-engine/pkg/chat"
)

// InstrumentedLLM records request counts and latency for a provider.
type InstrumentedLLM struct {
	next     LLMService
	provider string
}

var _ LLMService = (*InstrumentedLLM)(nil)

// WithMetrics wraps svc so every call is observed under the provider label.
func WithMetrics(svc LLMService, provider string) *InstrumentedLLM {
	return &InstrumentedLLM{next: svc, provider: provider}
}

func (i *InstrumentedLLM) InitModel(ctx context.Context, modelName string) error {
	return i.next.InitModel(ctx, modelName)
}

func (i *InstrumentedLLM) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	start := time.Now()
	resp, err := i.next.Chat(ctx, messages)
	metrics.ObserveLLM(i.provider, "chat", start, err)
	return resp, err
}

// ChatStream observes the call when the stream terminates, not when it opens.
func (i *InstrumentedLLM) ChatStream(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
	start := time.Now()
	upstream, err := i.next.ChatStream(ctx, messages)
	if err != nil {
		metrics.ObserveLLM(i.provider, "stream", start, err)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var streamErr error
		defer func() { metrics.ObserveLLM(i.provider, "stream", start, streamErr) }()

		for chunk := range upstream {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			if !sendChunk(ctx, out, chunk) {
				streamErr = ctx.Err()
				return
			}
		}
	}()
	return out, nil
}
