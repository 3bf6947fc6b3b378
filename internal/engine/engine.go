// Package engine runs one turn of the simulation: it renders the turn prompt
// from a game state, calls the model, decodes the reply and reconciles it
// against the state it was produced for.
//
// The engine holds no per-game state. Every call is a function of its
// inputs, and a failed call returns an *Error without a partial result, so a
// caller commits a turn only after a full success.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/crisis-engine/internal/metrics"
	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/pkg/chat"
	"github.com/jwebster45206/crisis-engine/pkg/prompts"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

const (
	turnKindAction = "action"
	turnKindSkip   = "skip"
)

// Engine simulates turns with a language model.
type Engine struct {
	llm      services.LLMService
	resolver *prompts.Resolver
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an engine over the embedded prompt templates.
func New(llm services.LLMService, logger *slog.Logger) *Engine {
	return &Engine{
		llm:      llm,
		resolver: prompts.DefaultResolver(),
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithResolver swaps the template source.
func (e *Engine) WithResolver(r *prompts.Resolver) *Engine {
	e.resolver = r
	return e
}

// Simulate plays the player's action and returns the world's response.
func (e *Engine) Simulate(ctx context.Context, gs *state.GameState, action string) (*state.SimulationResponse, error) {
	if err := CheckState(gs); err != nil {
		return nil, err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, inputError("action", "action text is empty")
	}

	resp, err := e.run(ctx, gs, action, false, nil)
	metrics.Turns.WithLabelValues(turnKindAction, metrics.Status(err)).Inc()
	return resp, err
}

// Skip plays a turn in which the player does nothing.
func (e *Engine) Skip(ctx context.Context, gs *state.GameState) (*state.SimulationResponse, error) {
	if err := CheckState(gs); err != nil {
		return nil, err
	}
	resp, err := e.run(ctx, gs, "", true, nil)
	metrics.Turns.WithLabelValues(turnKindSkip, metrics.Status(err)).Inc()
	return resp, err
}

// SkipStream is Skip with a streamed model call. onChunk sees every text
// increment with its zero-based index as it arrives; the reply is decoded
// only once the stream is complete.
func (e *Engine) SkipStream(ctx context.Context, gs *state.GameState, onChunk func(index int, text string)) (*state.SimulationResponse, error) {
	if err := CheckState(gs); err != nil {
		return nil, err
	}
	if onChunk == nil {
		onChunk = func(int, string) {}
	}
	resp, err := e.run(ctx, gs, "", true, onChunk)
	metrics.Turns.WithLabelValues(turnKindSkip, metrics.Status(err)).Inc()
	return resp, err
}

// CheckState reports an input *Error when gs cannot be simulated.
func CheckState(gs *state.GameState) error {
	if gs == nil || gs.Scenario == nil {
		return inputError("scenario", "game state has no scenario")
	}
	if gs.PlayerActorID == "" {
		return inputError("playerActorId", "no player actor selected")
	}
	if gs.Scenario.FindActor(gs.PlayerActorID) == nil {
		return inputError("playerActorId", "player actor "+gs.PlayerActorID+" is not in the scenario")
	}
	return nil
}

func (e *Engine) run(ctx context.Context, gs *state.GameState, action string, skip bool, onChunk func(int, string)) (*state.SimulationResponse, error) {
	b := prompts.New().WithResolver(e.resolver).WithGameState(gs).WithAction(action)
	if skip {
		b = b.Skip()
	}
	messages, err := b.Build()
	if err != nil {
		return nil, &Error{Kind: KindInput, Field: "gameState", Err: err}
	}

	raw, err := e.call(ctx, messages, onChunk)
	if err != nil {
		e.logger.Error("Model call failed", "turn", gs.CurrentTurn, "skip", skip, "error", err)
		return nil, &Error{Kind: KindUpstream, Err: err}
	}

	sim, err := DecodeSimulation(raw)
	if err != nil {
		e.logger.Warn("Failed to decode simulation", "turn", gs.CurrentTurn, "skip", skip, "error", err, "response", prompts.Truncate(raw, 500))
		return nil, err
	}

	resp := e.reconcile(gs, sim, skip)
	e.logger.Debug("Turn simulated", "turn", gs.CurrentTurn, "skip", skip, "events", len(resp.Events))
	return resp, nil
}

func (e *Engine) call(ctx context.Context, messages []chat.ChatMessage, onChunk func(int, string)) (string, error) {
	if onChunk == nil {
		resp, err := e.llm.Chat(ctx, messages)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(resp.Message) == "" {
			return "", services.ErrEmptyResponse
		}
		return resp.Message, nil
	}

	ch, err := e.llm.ChatStream(ctx, messages)
	if err != nil {
		return "", err
	}
	index := 0
	raw, err := services.CollectStream(ctx, ch, func(text string) {
		onChunk(index, text)
		index++
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", services.ErrEmptyResponse
	}
	return raw, nil
}
