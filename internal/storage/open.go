package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/crisis-engine/internal/config"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// Open builds the session store selected by STORAGE_BACKEND. The redis
// backend reuses client.
func Open(ctx context.Context, cfg *config.Config, client *redis.Client, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageRedis:
		rs := NewRedisStorageWithClient(client, cfg.DataDir, cfg.SessionTTL, logger)
		if err := rs.WaitForConnection(ctx); err != nil {
			return nil, err
		}
		return rs, nil
	case config.StoragePostgres:
		return NewPostgresStorage(ctx, cfg.DatabaseURL, cfg.DataDir, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}
}
