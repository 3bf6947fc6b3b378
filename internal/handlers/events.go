package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/crisis-engine/internal/middleware"
	"github.com/jwebster45206/crisis-engine/internal/services/events"
	"github.com/jwebster45206/crisis-engine/internal/session"
	"github.com/jwebster45206/crisis-engine/internal/stream"
)

const keepaliveInterval = 30 * time.Second

// EventsHandler streams the pub/sub feed of one live game.
// GET /v1/events/games/{gameID}
type EventsHandler struct {
	redisClient *redis.Client
	registry    *session.Registry
	logger      *slog.Logger
	keepalive   time.Duration
}

func NewEventsHandler(redisClient *redis.Client, registry *session.Registry, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		redisClient: redisClient,
		registry:    registry,
		logger:      logger,
		keepalive:   keepaliveInterval,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, r, http.MethodGet)
		return
	}

	parts := pathParts(r.URL.Path, "/v1/events/games")
	if len(parts) != 1 {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/events/games/{gameID}")
		return
	}

	g, err := h.registry.Get(r.Context(), parts[0])
	if err == nil && !g.OwnedBy(middleware.OwnerID(r.Context())) {
		err = session.ErrForbidden
	}
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	if h.redisClient == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "Live events are not available.")
		return
	}

	sw, err := stream.NewWriter(w, h.logger)
	if err != nil {
		h.logger.Error("Streaming unsupported", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Streaming is not supported.")
		return
	}

	channel := events.Channel(g.ID)
	pubsub := h.redisClient.Subscribe(r.Context(), channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	// Events published before the subscription is confirmed would be lost.
	if _, err := pubsub.Receive(r.Context()); err != nil {
		h.logger.Error("Failed to subscribe to game events", "channel", channel, "error", err)
		_ = sw.Send(stream.EventError, stream.ErrorPayload{Error: "Live events are not available.", Code: "SUBSCRIBE_FAILED"})
		return
	}
	h.logger.Info("SSE connection established", "game_id", g.ID, "remote_addr", r.RemoteAddr)

	msgs := pubsub.Channel()
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	if err := sw.Send("connected", map[string]any{
		"game_id": g.ID,
		"message": "Connected to event stream",
	}); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "game_id", g.ID)
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if err := sw.Send(string(event.Type), event); err != nil {
				return
			}
		case <-ticker.C:
			if err := sw.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}
