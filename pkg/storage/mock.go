package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// MockStorage is an in-memory Storage for tests. Game states are copied
// through JSON on the way in and out, like a real backend.
type MockStorage struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	tokens    map[string]uuid.UUID
	scenarios map[string]*scenario.Scenario
	pingError error

	// CreateErr and UpdateErr, when set, fail the next calls.
	CreateErr error
	UpdateErr error

	CreateCalls int
	UpdateCalls int
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		sessions:  make(map[uuid.UUID]*Session),
		tokens:    make(map[string]uuid.UUID),
		scenarios: make(map[string]*scenario.Scenario),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetErrors configures failures for CreateSession and UpdateSession.
func (m *MockStorage) SetErrors(create, update error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateErr = create
	m.UpdateErr = update
}

// Calls returns the CreateSession and UpdateSession call counts.
func (m *MockStorage) Calls() (creates, updates int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CreateCalls, m.UpdateCalls
}

// AddScenario registers a preset.
func (m *MockStorage) AddScenario(s *scenario.Scenario) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[s.ID] = s.Clone()
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func copyState(gs *state.GameState) (*state.GameState, error) {
	if gs == nil {
		return nil, nil
	}
	data, err := json.Marshal(gs)
	if err != nil {
		return nil, err
	}
	var out state.GameState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MockStorage) CreateSession(ctx context.Context, ownerID, title string, gs *state.GameState) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return uuid.Nil, m.CreateErr
	}

	stored, err := copyState(gs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal gamestate: %w", err)
	}
	now := time.Now()
	s := &Session{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		GameState: stored,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s
	return s.ID, nil
}

func (m *MockStorage) UpdateSession(ctx context.Context, id uuid.UUID, gs *state.GameState, title *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	stored, err := copyState(gs)
	if err != nil {
		return fmt.Errorf("failed to marshal gamestate: %w", err)
	}
	s.GameState = stored
	if title != nil {
		s.Title = *title
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MockStorage) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	gs, err := copyState(s.GameState)
	if err != nil {
		return nil, err
	}
	out.GameState = gs
	return &out, nil
}

func (m *MockStorage) GetSessions(ctx context.Context, ownerID string) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []SessionSummary{}
	for _, s := range m.sessions {
		if s.OwnerID == ownerID {
			out = append(out, Summarize(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MockStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.ShareToken != "" {
		delete(m.tokens, s.ShareToken)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MockStorage) CreateShareLink(ctx context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	if s.ShareToken == "" {
		s.ShareToken = NewShareToken()
		m.tokens[s.ShareToken] = id
	}
	return s.ShareToken, nil
}

func (m *MockStorage) GetSharedSessionByToken(ctx context.Context, token string) (*SharedSession, error) {
	m.mu.RLock()
	id, ok := m.tokens[token]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, nil
	}
	return Shared(s), nil
}

func (m *MockStorage) ListScenarios(ctx context.Context) ([]ScenarioSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ScenarioSummary{}
	for _, s := range m.scenarios {
		out = append(out, ScenarioSummary{ID: s.ID, Title: s.Title, Description: s.Description, Region: s.Region, ActorCount: len(s.Actors)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStorage) GetScenario(ctx context.Context, id string) (*scenario.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}
