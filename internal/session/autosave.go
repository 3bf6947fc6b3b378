package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/crisis-engine/internal/metrics"
	"github.com/jwebster45206/crisis-engine/internal/services/events"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

const (
	DefaultDebounce   = 3 * time.Second
	DefaultErrorClear = 5 * time.Second
)

var (
	// ErrSaveInFlight is returned by SaveNow while another save runs.
	ErrSaveInFlight = errors.New("a save is already in flight")
	// ErrNotEligible is returned by SaveNow when the game is not in a
	// saveable state.
	ErrNotEligible = errors.New("game is not eligible for saving")
)

// AutoSaver writes a live game to session storage after it has been quiet
// for the debounce window. At most one save runs at a time.
type AutoSaver struct {
	game       *Game
	storage    storage.Storage
	events     *events.Broadcaster
	debounce   time.Duration
	errorClear time.Duration
	onChange   func(ctx context.Context)
	logger     *slog.Logger

	saving atomic.Bool
	now    func() time.Time

	// rearm is set by a finished save that left newer changes behind. wake
	// only nudges Run to look at it, so a dropped nudge loses nothing.
	mu    sync.Mutex
	rearm bool
	wake  chan struct{}
}

func NewAutoSaver(g *Game, st storage.Storage, broadcaster *events.Broadcaster, debounce, errorClear time.Duration, logger *slog.Logger) *AutoSaver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if errorClear <= 0 {
		errorClear = DefaultErrorClear
	}
	return &AutoSaver{
		game:       g,
		storage:    st,
		events:     broadcaster,
		debounce:   debounce,
		errorClear: errorClear,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// OnChange registers a hook run after every store mutation.
func (a *AutoSaver) OnChange(fn func(ctx context.Context)) {
	a.onChange = fn
}

// Run consumes the store's change signals until ctx is done.
func (a *AutoSaver) Run(ctx context.Context) {
	timer := time.NewTimer(a.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	changes := a.game.Store.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if a.onChange != nil {
				a.onChange(ctx)
			}
			timer.Reset(a.debounce)
		case <-timer.C:
			go func() {
				a.finish(a.SaveNow(ctx))
			}()
		case <-a.wake:
			if a.takeRearm() {
				timer.Reset(a.debounce)
			}
		}
	}
}

// finish records whether a save left unsaved changes and wakes Run.
func (a *AutoSaver) finish(err error) {
	if err == nil && a.game.Store.Status().Dirty {
		a.mu.Lock()
		a.rearm = true
		a.mu.Unlock()
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *AutoSaver) takeRearm() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.rearm
	a.rearm = false
	return r
}

// Eligible reports whether the game may be saved now.
func (a *AutoSaver) Eligible() bool {
	if a.game.OwnerID == "" {
		return false
	}
	gs := a.game.Store.Snapshot()
	return gs.Phase == state.PhasePlaying && gs.Scenario != nil && a.game.Store.Status().Dirty
}

// SaveNow saves the game immediately. The first save creates a session;
// later saves update it.
func (a *AutoSaver) SaveNow(ctx context.Context) error {
	if !a.saving.CompareAndSwap(false, true) {
		return ErrSaveInFlight
	}
	defer a.saving.Store(false)

	if !a.Eligible() {
		return ErrNotEligible
	}

	store := a.game.Store
	gs, version := store.SnapshotVersion()
	sessionID := store.Status().SessionID
	store.SetSyncStatus(state.SyncSaving)

	id, err := a.write(ctx, sessionID, &gs)
	if err != nil {
		a.fail(ctx, err)
		return err
	}
	if id != sessionID {
		store.SetSessionID(id)
	}
	store.MarkSaved(version, a.now())
	metrics.Autosaves.WithLabelValues(metrics.StatusOK).Inc()
	a.logger.Debug("Game saved", "game_id", a.game.ID, "session_id", id, "turn", gs.CurrentTurn, "version", version)
	_ = a.events.GameSaved(ctx, a.game.ID, id)
	return nil
}

func (a *AutoSaver) write(ctx context.Context, sessionID string, gs *state.GameState) (string, error) {
	if sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			return "", fmt.Errorf("invalid session id %q: %w", sessionID, err)
		}
		err = a.storage.UpdateSession(ctx, id, gs, nil)
		if err == nil {
			return sessionID, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("failed to update session: %w", err)
		}
		a.logger.Warn("Saved session disappeared, creating a new one", "game_id", a.game.ID, "session_id", sessionID)
	}

	id, err := a.storage.CreateSession(ctx, a.game.OwnerID, storage.DefaultTitle(gs), gs)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id.String(), nil
}

// fail leaves the store dirty and shows an error status until errorClear
// passes.
func (a *AutoSaver) fail(ctx context.Context, err error) {
	store := a.game.Store
	store.SetSyncStatus(state.SyncError)
	metrics.Autosaves.WithLabelValues(metrics.StatusError).Inc()
	a.logger.Error("Autosave failed", "game_id", a.game.ID, "error", err)
	_ = a.events.SyncError(ctx, a.game.ID, err.Error())

	time.AfterFunc(a.errorClear, func() {
		if store.Status().SyncStatus == state.SyncError {
			store.SetSyncStatus(state.SyncIdle)
		}
	})
}
