// Package session hosts live games on the server: each game owns a state
// store, an autosaver that writes it to session storage, and a snapshot
// mirror in the cache so a game survives a restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/internal/services/events"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// MirrorTTL is how long an idle game's snapshot stays in the cache.
const MirrorTTL = 24 * time.Hour

var (
	ErrGameNotFound = errors.New("game not found")
	ErrForbidden    = errors.New("game belongs to another owner")
)

// Game is one live game.
type Game struct {
	ID      string
	OwnerID string
	Store   *state.Store

	saver  *AutoSaver
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Saver returns the game's autosaver.
func (g *Game) Saver() *AutoSaver { return g.saver }

// OwnedBy reports whether ownerID may use the game. Anonymous games are
// open to everyone.
func (g *Game) OwnedBy(ownerID string) bool {
	return g.OwnerID == "" || g.OwnerID == ownerID
}

type mirrorRecord struct {
	GameID  string          `json:"gameId"`
	OwnerID string          `json:"ownerId,omitempty"`
	State   state.Persisted `json:"state"`
}

// MirrorKey is the cache key of a game's snapshot.
func MirrorKey(gameID string) string {
	return state.PersistNamespace + ":" + gameID
}

// Options tune the games of a registry.
type Options struct {
	Debounce   time.Duration
	ErrorClear time.Duration
}

// Registry holds the live games of this process.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Game

	storage storage.Storage
	cache   services.Cache
	events  *events.Broadcaster
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry. cache may be nil, which disables
// the snapshot mirror.
func NewRegistry(st storage.Storage, cache services.Cache, broadcaster *events.Broadcaster, opts Options, logger *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		games:   make(map[string]*Game),
		storage: st,
		cache:   cache,
		events:  broadcaster,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Create starts a new game in the setup phase.
func (r *Registry) Create(ownerID string) *Game {
	g := r.start(uuid.NewString(), ownerID, state.NewStore())
	r.logger.Info("Game created", "game_id", g.ID, "owner_id", ownerID)
	return g
}

// Get returns a live game, restoring it from the cache mirror when this
// process has not seen it.
func (r *Registry) Get(ctx context.Context, id string) (*Game, error) {
	r.mu.RLock()
	g, ok := r.games[id]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}
	if r.cache == nil {
		return nil, ErrGameNotFound
	}

	var rec mirrorRecord
	found, err := services.GetJSON(ctx, r.cache, MirrorKey(id), &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to read game snapshot: %w", err)
	}
	if !found {
		return nil, ErrGameNotFound
	}

	store := state.NewStore()
	store.Restore(rec.State)

	r.mu.Lock()
	if existing, ok := r.games[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	g = r.newGame(id, rec.OwnerID, store)
	r.games[id] = g
	r.mu.Unlock()
	r.run(g)

	r.logger.Info("Game restored from snapshot", "game_id", id, "turn", rec.State.CurrentTurn, "phase", rec.State.Phase)
	return g, nil
}

// Load replaces a game's state with a saved session. The session must
// belong to ownerID.
func (r *Registry) Load(ctx context.Context, g *Game, sessionID uuid.UUID, ownerID string) error {
	sess, err := r.storage.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if ownerID == "" || sess.OwnerID != ownerID || !g.OwnedBy(ownerID) {
		return ErrForbidden
	}
	if sess.GameState == nil {
		return fmt.Errorf("session %s has no game state", sessionID)
	}
	if g.Store.Snapshot().IsProcessing {
		return ErrBusy
	}
	g.Store.LoadFromCloud(*sess.GameState, sessionID.String())
	r.logger.Info("Session loaded into game", "game_id", g.ID, "session_id", sessionID)
	return nil
}

// Remove stops a game and drops its snapshot.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	g, ok := r.games[id]
	delete(r.games, id)
	r.mu.Unlock()
	if ok {
		g.cancel()
		<-g.done
	}
	if r.cache != nil {
		if err := r.cache.Del(ctx, MirrorKey(id)); err != nil {
			r.logger.Warn("Failed to delete game snapshot", "game_id", id, "error", err)
		}
	}
}

// Len returns the number of live games.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Close stops every game and flushes unsaved progress.
func (r *Registry) Close(ctx context.Context) {
	r.cancel()
	r.mu.RLock()
	games := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	r.mu.RUnlock()

	for _, g := range games {
		<-g.done
		if !g.saver.Eligible() {
			continue
		}
		if err := g.saver.SaveNow(ctx); err != nil {
			r.logger.Warn("Failed to flush game on shutdown", "game_id", g.ID, "error", err)
		}
	}
}

func (r *Registry) start(id, ownerID string, store *state.Store) *Game {
	g := r.newGame(id, ownerID, store)
	r.mu.Lock()
	r.games[id] = g
	r.mu.Unlock()
	r.run(g)
	return g
}

func (r *Registry) newGame(id, ownerID string, store *state.Store) *Game {
	ctx, cancel := context.WithCancel(r.ctx)
	g := &Game{
		ID:      id,
		OwnerID: ownerID,
		Store:   store,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	g.saver = NewAutoSaver(g, r.storage, r.events, r.opts.Debounce, r.opts.ErrorClear, r.logger)
	g.saver.OnChange(func(ctx context.Context) { r.changed(ctx, g) })
	return g
}

func (r *Registry) run(g *Game) {
	go func() {
		defer close(g.done)
		g.saver.Run(g.ctx)
	}()
}

// changed mirrors the snapshot and tells subscribers which version of the
// game is now current.
func (r *Registry) changed(ctx context.Context, g *Game) {
	r.mirror(ctx, g)
	gs, version := g.Store.SnapshotVersion()
	_ = r.events.GameStateUpdated(ctx, g.ID, string(gs.Phase), gs.CurrentTurn, version)
}

func (r *Registry) mirror(ctx context.Context, g *Game) {
	if r.cache == nil {
		return
	}
	rec := mirrorRecord{GameID: g.ID, OwnerID: g.OwnerID, State: g.Store.Persisted()}
	if err := services.SetJSON(ctx, r.cache, MirrorKey(g.ID), rec, MirrorTTL); err != nil {
		r.logger.Warn("Failed to mirror game snapshot", "game_id", g.ID, "error", err)
	}
}
