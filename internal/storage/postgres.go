package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	createSessionQuery = `
		INSERT INTO game_sessions (id, owner_id, title, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`

	updateSessionQuery = `
		UPDATE game_sessions
		SET state = $2, title = COALESCE($3, title), updated_at = $4
		WHERE id = $1`

	getSessionQuery = `
		SELECT id, owner_id, title, state, COALESCE(share_token, ''), created_at, updated_at
		FROM game_sessions
		WHERE id = $1`

	listSessionsQuery = `
		SELECT id, title,
		       COALESCE(state->'scenario'->>'title', ''),
		       COALESCE((state->>'currentTurn')::int, 0),
		       COALESCE(state->>'phase', ''),
		       updated_at
		FROM game_sessions
		WHERE owner_id = $1
		ORDER BY updated_at DESC`

	deleteSessionQuery = `DELETE FROM game_sessions WHERE id = $1`

	// Only the first caller mints the token; later calls read it back.
	shareSessionQuery = `
		UPDATE game_sessions
		SET share_token = COALESCE(share_token, $2)
		WHERE id = $1
		RETURNING share_token`

	sharedSessionQuery = `
		SELECT id, title, state, updated_at
		FROM game_sessions
		WHERE share_token = $1`
)

// PostgresStorage implements the Storage interface on PostgreSQL. The game
// state is one JSONB column; preset scenarios still come from the filesystem.
type PostgresStorage struct {
	*Presets
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Storage = (*PostgresStorage)(nil)

// NewPostgresStorage connects to databaseURL and applies pending migrations.
func NewPostgresStorage(ctx context.Context, databaseURL, dataDir string, logger *slog.Logger) (*PostgresStorage, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}

	var pool *pgxpool.Pool
	var lastErr error
	const maxRetries = 30
	for i := 0; i < maxRetries; i++ {
		pool, lastErr = pgxpool.NewWithConfig(ctx, poolConfig)
		if lastErr == nil {
			if lastErr = pool.Ping(ctx); lastErr == nil {
				break
			}
			pool.Close()
		}
		logger.Warn("Postgres not ready, retrying", "attempt", i+1, "max_retries", maxRetries, "error", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, lastErr)
	}

	p := NewPostgresStorageWithPool(pool, dataDir, logger)
	if err := p.Migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Connected to Postgres")
	return p, nil
}

// NewPostgresStorageWithPool wraps an existing pool without migrating.
func NewPostgresStorageWithPool(pool *pgxpool.Pool, dataDir string, logger *slog.Logger) *PostgresStorage {
	return &PostgresStorage{
		Presets: NewPresets(dataDir, logger),
		pool:    pool,
		logger:  logger,
		now:     time.Now,
	}
}

// Migrate applies the embedded schema migrations.
func (p *PostgresStorage) Migrate() error {
	db := stdlib.OpenDBFromPool(p.pool)
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()
	m.LockTimeout = 30 * time.Second

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	p.logger.Info("Database migrations applied")
	return nil
}

func (p *PostgresStorage) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	p.logger.Info("Postgres connection closed")
	return nil
}

func (p *PostgresStorage) CreateSession(ctx context.Context, ownerID, title string, gs *state.GameState) (uuid.UUID, error) {
	data, err := json.Marshal(gs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal gamestate: %w", err)
	}
	id := uuid.New()
	if _, err := p.pool.Exec(ctx, createSessionQuery, id, ownerID, title, data, p.now()); err != nil {
		p.logger.Error("Failed to create session", "owner_id", ownerID, "error", err)
		return uuid.Nil, fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

func (p *PostgresStorage) UpdateSession(ctx context.Context, id uuid.UUID, gs *state.GameState, title *string) error {
	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("failed to marshal gamestate: %w", err)
	}
	tag, err := p.pool.Exec(ctx, updateSessionQuery, id, data, title, p.now())
	if err != nil {
		p.logger.Error("Failed to update session", "session_id", id, "error", err)
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (p *PostgresStorage) GetSession(ctx context.Context, id uuid.UUID) (*storage.Session, error) {
	var s storage.Session
	var data []byte
	err := p.pool.QueryRow(ctx, getSessionQuery, id).Scan(
		&s.ID, &s.OwnerID, &s.Title, &data, &s.ShareToken, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var gs state.GameState
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gamestate: %w", err)
	}
	s.GameState = &gs
	return &s, nil
}

func (p *PostgresStorage) GetSessions(ctx context.Context, ownerID string) ([]storage.SessionSummary, error) {
	rows, err := p.pool.Query(ctx, listSessionsQuery, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []storage.SessionSummary{}
	for rows.Next() {
		var sum storage.SessionSummary
		var phase string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.ScenarioTitle, &sum.CurrentTurn, &phase, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.Phase = state.Phase(phase)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func (p *PostgresStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, deleteSessionQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (p *PostgresStorage) CreateShareLink(ctx context.Context, id uuid.UUID) (string, error) {
	var token string
	err := p.pool.QueryRow(ctx, shareSessionQuery, id, storage.NewShareToken()).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
		}
		return "", fmt.Errorf("failed to create share link: %w", err)
	}
	return token, nil
}

func (p *PostgresStorage) GetSharedSessionByToken(ctx context.Context, token string) (*storage.SharedSession, error) {
	var shared storage.SharedSession
	var data []byte
	err := p.pool.QueryRow(ctx, sharedSessionQuery, token).Scan(&shared.SessionID, &shared.Title, &data, &shared.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve share token: %w", err)
	}
	var gs state.GameState
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gamestate: %w", err)
	}
	shared.GameState = &gs
	return &shared, nil
}
