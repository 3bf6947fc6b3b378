package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
)

// MockLLMAPI is a mock implementation of LLMService for testing
type MockLLMAPI struct {
	InitModelFunc  func(ctx context.Context, modelName string) error
	ChatFunc       func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)
	ChatStreamFunc func(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error)

	// Track calls for testing
	InitModelCalls  []string
	ChatCalls       [][]chat.ChatMessage
	ChatStreamCalls [][]chat.ChatMessage

	mu sync.Mutex // protects all fields above
}

var _ LLMService = (*MockLLMAPI)(nil)

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{}
}

// NewMockLLMWithReply returns a mock whose Chat and ChatStream both yield reply.
func NewMockLLMWithReply(reply string) *MockLLMAPI {
	m := NewMockLLMAPI()
	m.SetReply(reply)
	return m
}

func (m *MockLLMAPI) InitModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	m.InitModelCalls = append(m.InitModelCalls, modelName)
	fn := m.InitModelFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelName)
	}
	return nil
}

func (m *MockLLMAPI) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	m.mu.Lock()
	m.ChatCalls = append(m.ChatCalls, messages)
	fn := m.ChatFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	return &chat.ChatResponse{Message: "Mock response"}, nil
}

func (m *MockLLMAPI) ChatStream(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
	m.mu.Lock()
	m.ChatStreamCalls = append(m.ChatStreamCalls, messages)
	fn := m.ChatStreamFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	return StreamOf(ctx, "Mock response"), nil
}

// SetReply makes both call styles return reply. The stream splits it into
// small chunks so consumers see several increments.
func (m *MockLLMAPI) SetReply(reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		return &chat.ChatResponse{Message: reply}, nil
	}
	m.ChatStreamFunc = func(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
		return StreamOf(ctx, SplitChunks(reply, 8)...), nil
	}
}

// SetError makes both call styles fail with err.
func (m *MockLLMAPI) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		return nil, err
	}
	m.ChatStreamFunc = func(ctx context.Context, messages []chat.ChatMessage) (<-chan StreamChunk, error) {
		return nil, err
	}
}

// CallCounts returns the number of Chat and ChatStream calls so far.
func (m *MockLLMAPI) CallCounts() (chats, streams int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls), len(m.ChatStreamCalls)
}

// LastChatMessages returns the messages of the most recent Chat call.
func (m *MockLLMAPI) LastChatMessages() []chat.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ChatCalls) == 0 {
		return nil
	}
	return m.ChatCalls[len(m.ChatCalls)-1]
}

// StreamOf emits the given chunks followed by Done.
func StreamOf(ctx context.Context, chunks ...string) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if !sendChunk(ctx, ch, StreamChunk{Content: c}) {
				return
			}
		}
		sendChunk(ctx, ch, StreamChunk{Done: true})
	}()
	return ch
}

// SplitChunks cuts s into pieces of at most n bytes on rune boundaries.
func SplitChunks(s string, n int) []string {
	var out []string
	runes := []rune(s)
	var cur []rune
	size := 0
	for _, r := range runes {
		l := len(string(r))
		if size+l > n && len(cur) > 0 {
			out = append(out, string(cur))
			cur, size = nil, 0
		}
		cur = append(cur, r)
		size += l
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
