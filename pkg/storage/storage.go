package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// ErrNotFound is returned when a session or preset does not exist.
var ErrNotFound = errors.New("not found")

// Session is one saved game. The game state is stored as an opaque blob.
type Session struct {
	ID         uuid.UUID        `json:"id"`
	OwnerID    string           `json:"ownerId"`
	Title      string           `json:"title"`
	GameState  *state.GameState `json:"gameState"`
	ShareToken string           `json:"shareToken,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID            uuid.UUID   `json:"id"`
	Title         string      `json:"title"`
	ScenarioTitle string      `json:"scenarioTitle,omitempty"`
	CurrentTurn   int         `json:"currentTurn"`
	Phase         state.Phase `json:"phase"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// SharedSession is what a share link resolves to.
type SharedSession struct {
	SessionID uuid.UUID        `json:"sessionId"`
	Title     string           `json:"title"`
	GameState *state.GameState `json:"gameState"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ScenarioSummary is the listing view of a preset scenario.
type ScenarioSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Region      string `json:"region,omitempty"`
	ActorCount  int    `json:"actorCount"`
}

// Storage defines a unified interface for all storage operations.
// Sessions live in a database; preset scenarios are read from the filesystem.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Session operations
	CreateSession(ctx context.Context, ownerID, title string, gs *state.GameState) (uuid.UUID, error)
	// UpdateSession replaces the stored state; a nil title keeps the current one.
	UpdateSession(ctx context.Context, id uuid.UUID, gs *state.GameState, title *string) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	GetSessions(ctx context.Context, ownerID string) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	// CreateShareLink returns the session's share token, minting one on first use.
	CreateShareLink(ctx context.Context, id uuid.UUID) (string, error)
	// GetSharedSessionByToken returns nil, nil for an unknown token.
	GetSharedSessionByToken(ctx context.Context, token string) (*SharedSession, error)

	// Scenario presets (filesystem-backed)
	ListScenarios(ctx context.Context) ([]ScenarioSummary, error)
	GetScenario(ctx context.Context, id string) (*scenario.Scenario, error)
}

// Summarize builds the listing view of a session.
func Summarize(s *Session) SessionSummary {
	sum := SessionSummary{
		ID:        s.ID,
		Title:     s.Title,
		UpdatedAt: s.UpdatedAt,
	}
	if s.GameState != nil {
		sum.CurrentTurn = s.GameState.CurrentTurn
		sum.Phase = s.GameState.Phase
		if s.GameState.Scenario != nil {
			sum.ScenarioTitle = s.GameState.Scenario.Title
		}
	}
	return sum
}

// Shared builds the share-link view of a session.
func Shared(s *Session) *SharedSession {
	return &SharedSession{
		SessionID: s.ID,
		Title:     s.Title,
		GameState: s.GameState,
		UpdatedAt: s.UpdatedAt,
	}
}

// NewShareToken returns an unguessable URL-safe token.
func NewShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DefaultTitle names a session after its scenario.
func DefaultTitle(gs *state.GameState) string {
	if gs != nil && gs.Scenario != nil && gs.Scenario.Title != "" {
		return gs.Scenario.Title
	}
	return "Untitled Session"
}
