package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

const (
	sessionPrefix      = "session:"
	ownerSessionPrefix = "owner-sessions:"
	sharePrefix        = "share:"
)

// RedisStorage implements the Storage interface using Redis for sessions
// and the filesystem for scenario presets
type RedisStorage struct {
	*Presets
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance. A zero ttl keeps
// sessions forever.
func NewRedisStorage(redisURL string, dataDir string, ttl time.Duration, logger *slog.Logger) *RedisStorage {
	return NewRedisStorageWithClient(redis.NewClient(services.RedisOptions(redisURL)), dataDir, ttl, logger)
}

// NewRedisStorageWithClient shares an existing client.
func NewRedisStorageWithClient(client *redis.Client, dataDir string, ttl time.Duration, logger *slog.Logger) *RedisStorage {
	return &RedisStorage{
		Presets: NewPresets(dataDir, logger),
		client:  client,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	return services.WaitForRedis(ctx, r.Ping, r.logger, 30, 2*time.Second)
}

// Session operations

func (r *RedisStorage) save(ctx context.Context, s *storage.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		r.logger.Error("Failed to marshal session", "session_id", s.ID, "error", err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionPrefix+s.ID.String(), data, r.ttl)
	pipe.ZAdd(ctx, ownerSessionPrefix+s.OwnerID, redis.Z{
		Score:  float64(s.UpdatedAt.UnixMilli()),
		Member: s.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to save session", "session_id", s.ID, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStorage) CreateSession(ctx context.Context, ownerID, title string, gs *state.GameState) (uuid.UUID, error) {
	now := r.now()
	s := &storage.Session{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		GameState: gs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(ctx, s); err != nil {
		return uuid.Nil, err
	}
	r.logger.Debug("Session created", "session_id", s.ID, "owner_id", ownerID)
	return s.ID, nil
}

func (r *RedisStorage) UpdateSession(ctx context.Context, id uuid.UUID, gs *state.GameState, title *string) error {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	s.GameState = gs
	if title != nil {
		s.Title = *title
	}
	s.UpdatedAt = r.now()
	return r.save(ctx, s)
}

func (r *RedisStorage) GetSession(ctx context.Context, id uuid.UUID) (*storage.Session, error) {
	data, err := r.client.Get(ctx, sessionPrefix+id.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
		}
		r.logger.Error("Failed to load session", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s storage.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		r.logger.Error("Failed to unmarshal session", "session_id", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// GetSessions lists an owner's sessions, most recently updated first.
// Index entries whose session has expired are pruned.
func (r *RedisStorage) GetSessions(ctx context.Context, ownerID string) ([]storage.SessionSummary, error) {
	indexKey := ownerSessionPrefix + ownerID
	ids, err := r.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := []storage.SessionSummary{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionPrefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s storage.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			r.logger.Warn("Skipping unreadable session", "session_id", ids[i], "error", err)
			continue
		}
		out = append(out, storage.Summarize(&s))
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			r.logger.Warn("Failed to prune session index", "owner_id", ownerID, "error", err)
		}
	}
	return out, nil
}

func (r *RedisStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionPrefix+id.String())
	pipe.ZRem(ctx, ownerSessionPrefix+s.OwnerID, id.String())
	if s.ShareToken != "" {
		pipe.Del(ctx, sharePrefix+s.ShareToken)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to delete session", "session_id", id, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStorage) CreateShareLink(ctx context.Context, id uuid.UUID) (string, error) {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if s.ShareToken != "" {
		return s.ShareToken, nil
	}

	s.ShareToken = storage.NewShareToken()
	if err := r.client.Set(ctx, sharePrefix+s.ShareToken, id.String(), 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store share token: %w", err)
	}
	// Keep UpdatedAt: sharing is not an edit.
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionPrefix+id.String(), data, redis.KeepTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return s.ShareToken, nil
}

func (r *RedisStorage) GetSharedSessionByToken(ctx context.Context, token string) (*storage.SharedSession, error) {
	idStr, err := r.client.Get(ctx, sharePrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve share token: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, nil
	}

	s, err := r.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return storage.Shared(s), nil
}
