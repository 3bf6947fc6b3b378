package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/services/events"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// ErrBusy is returned when a turn is requested while another is in flight.
var ErrBusy = state.ErrProcessing

// Simulator is the part of the engine a controller drives.
type Simulator interface {
	Simulate(ctx context.Context, gs *state.GameState, action string) (*state.SimulationResponse, error)
	Skip(ctx context.Context, gs *state.GameState) (*state.SimulationResponse, error)
	SkipStream(ctx context.Context, gs *state.GameState, onChunk func(index int, text string)) (*state.SimulationResponse, error)
}

var _ Simulator = (*engine.Engine)(nil)

// Controller plays turns of live games. A turn runs against a snapshot of
// the store and is committed only when the engine succeeds.
type Controller struct {
	sim    Simulator
	events *events.Broadcaster
	logger *slog.Logger
}

func NewController(sim Simulator, broadcaster *events.Broadcaster, logger *slog.Logger) *Controller {
	return &Controller{sim: sim, events: broadcaster, logger: logger}
}

// Ready reports whether g can take a turn right now.
func (c *Controller) Ready(g *Game) error {
	gs := g.Store.Snapshot()
	if gs.IsProcessing {
		return ErrBusy
	}
	if gs.Phase != state.PhasePlaying {
		return fmt.Errorf("%w: turns require phase %q, current phase is %q", state.ErrInvalidTransition, state.PhasePlaying, gs.Phase)
	}
	return engine.CheckState(&gs)
}

// Act plays the player's action.
func (c *Controller) Act(ctx context.Context, g *Game, action string) (*state.SimulationResponse, error) {
	return c.play(ctx, g, "action", func(ctx context.Context, gs *state.GameState) (*state.SimulationResponse, error) {
		return c.sim.Simulate(ctx, gs, action)
	})
}

// Skip plays a turn without a player action.
func (c *Controller) Skip(ctx context.Context, g *Game) (*state.SimulationResponse, error) {
	return c.play(ctx, g, "skip", c.sim.Skip)
}

// SkipStream is Skip over a streamed model call.
func (c *Controller) SkipStream(ctx context.Context, g *Game, onChunk func(index int, text string)) (*state.SimulationResponse, error) {
	return c.play(ctx, g, "skip", func(ctx context.Context, gs *state.GameState) (*state.SimulationResponse, error) {
		return c.sim.SkipStream(ctx, gs, onChunk)
	})
}

// RelayProgress publishes a streaming progress step to the game's feed.
func (c *Controller) RelayProgress(ctx context.Context, g *Game, step string, progress int) {
	turn := g.Store.Snapshot().CurrentTurn
	_ = c.events.TurnProgress(ctx, g.ID, turn, step, progress)
}

type turnFunc func(ctx context.Context, gs *state.GameState) (*state.SimulationResponse, error)

func (c *Controller) play(ctx context.Context, g *Game, kind string, run turnFunc) (*state.SimulationResponse, error) {
	if !g.Store.TryStartProcessing() {
		return nil, ErrBusy
	}
	defer g.Store.SetProcessing(false)

	gs := g.Store.Snapshot()
	if gs.Phase != state.PhasePlaying {
		return nil, fmt.Errorf("%w: turns require phase %q, current phase is %q", state.ErrInvalidTransition, state.PhasePlaying, gs.Phase)
	}
	turn := gs.CurrentTurn
	_ = c.events.TurnStarted(ctx, g.ID, turn, kind)

	resp, err := run(ctx, &gs)
	if err != nil {
		c.logger.Warn("Turn failed", "game_id", g.ID, "turn", turn, "kind", kind, "error", err)
		_ = c.events.TurnFailed(ctx, g.ID, turn, err.Error())
		return nil, err
	}

	if err := g.Store.ApplySimulation(resp); err != nil {
		c.logger.Warn("Failed to apply turn", "game_id", g.ID, "turn", turn, "error", err)
		_ = c.events.TurnFailed(ctx, g.ID, turn, err.Error())
		return nil, err
	}
	g.Store.IncrementTurn()

	after := g.Store.Snapshot()
	c.logger.Info("Turn completed",
		"game_id", g.ID,
		"turn", turn,
		"kind", kind,
		"events", len(resp.Events),
		"tension_level", after.WorldState.TensionLevel)
	_ = c.events.TurnCompleted(ctx, g.ID, turn, len(resp.Events), after.WorldState.TensionLevel)
	return resp, nil
}
