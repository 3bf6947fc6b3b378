package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeTurnStarted      EventType = "turn.started"
	EventTypeTurnProgress     EventType = "turn.progress"
	EventTypeTurnCompleted    EventType = "turn.completed"
	EventTypeTurnFailed       EventType = "turn.failed"
	EventTypeGameStateUpdated EventType = "game.state_updated"
	EventTypeGameSaved        EventType = "game.saved"
	EventTypeSyncError        EventType = "game.sync_error"
)

// Event represents a generic event structure
type Event struct {
	Type   EventType      `json:"type"`
	GameID string         `json:"game_id,omitempty"`
	Turn   int            `json:"turn,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Channel is the pub/sub channel of one live game.
func Channel(gameID string) string {
	return fmt.Sprintf("game-events:%s", gameID)
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// TurnStarted announces that a turn is being simulated.
func (b *Broadcaster) TurnStarted(ctx context.Context, gameID string, turn int, kind string) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeTurnStarted,
		GameID: gameID,
		Turn:   turn,
		Data:   map[string]any{"kind": kind},
	})
}

// TurnProgress relays a streaming progress update.
func (b *Broadcaster) TurnProgress(ctx context.Context, gameID string, turn int, stage string, progress int) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeTurnProgress,
		GameID: gameID,
		Turn:   turn,
		Data:   map[string]any{"stage": stage, "progress": progress},
	})
}

// TurnCompleted carries the events the turn produced and the new tension.
func (b *Broadcaster) TurnCompleted(ctx context.Context, gameID string, turn int, eventCount int, tension int) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeTurnCompleted,
		GameID: gameID,
		Turn:   turn,
		Data:   map[string]any{"events": eventCount, "tension_level": tension},
	})
}

func (b *Broadcaster) TurnFailed(ctx context.Context, gameID string, turn int, errorMsg string) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeTurnFailed,
		GameID: gameID,
		Turn:   turn,
		Data:   map[string]any{"error": errorMsg},
	})
}

// GameStateUpdated signals that the game moved to a new state version.
// Clients refetch the game when they see it.
func (b *Broadcaster) GameStateUpdated(ctx context.Context, gameID string, phase string, turn int, version uint64) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeGameStateUpdated,
		GameID: gameID,
		Turn:   turn,
		Data:   map[string]any{"phase": phase, "version": version},
	})
}

func (b *Broadcaster) GameSaved(ctx context.Context, gameID, sessionID string) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeGameSaved,
		GameID: gameID,
		Data:   map[string]any{"session_id": sessionID},
	})
}

func (b *Broadcaster) SyncError(ctx context.Context, gameID, errorMsg string) error {
	return b.Publish(ctx, Event{
		Type:   EventTypeSyncError,
		GameID: gameID,
		Data:   map[string]any{"error": errorMsg},
	})
}

// Publish sends an event to the game-specific channel. A nil broadcaster
// drops events.
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	if b == nil || b.redisClient == nil {
		return nil
	}
	channel := Channel(event.GameID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event", event)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published", "channel", channel, "event_type", event.Type)
	return nil
}
