package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jwebster45206/crisis-engine/internal/middleware"
	"github.com/jwebster45206/crisis-engine/internal/session"
	"github.com/jwebster45206/crisis-engine/internal/stream"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// GameHandler drives games that live on the server.
// Routes:
// POST   /v1/games                          - Create a game, optionally with a scenario
// GET    /v1/games/{id}                     - Read the game
// DELETE /v1/games/{id}                     - Discard the game
// POST   /v1/games/{id}/scenario            - {scenarioId | scenario}
// POST   /v1/games/{id}/character           - {actorId}
// POST   /v1/games/{id}/milestone           - {milestoneId}
// POST   /v1/games/{id}/goal                - {type, description}
// POST   /v1/games/{id}/start
// POST   /v1/games/{id}/action              - {action, actionType}
// POST   /v1/games/{id}/skip                - Accept: text/event-stream streams
// POST   /v1/games/{id}/view                - {viewMode}
// POST   /v1/games/{id}/end
// POST   /v1/games/{id}/save                - Save now instead of waiting for autosave
// POST   /v1/games/{id}/reset
// POST   /v1/games/{id}/reset-setup
// POST   /v1/games/{id}/reset-milestone
// POST   /v1/games/{id}/load/{sessionId}
type GameHandler struct {
	registry   *session.Registry
	controller *session.Controller
	presets    storage.Storage
	logger     *slog.Logger
}

func NewGameHandler(registry *session.Registry, controller *session.Controller, presets storage.Storage, logger *slog.Logger) *GameHandler {
	return &GameHandler{
		registry:   registry,
		controller: controller,
		presets:    presets,
		logger:     logger,
	}
}

// GameView is the client's view of a live game.
type GameView struct {
	ID        string          `json:"id"`
	GameState state.GameState `json:"gameState"`
	Status    state.Status    `json:"status"`
}

type TurnResponse struct {
	Simulation *state.SimulationResponse `json:"simulation"`
	Game       GameView                  `json:"game"`
}

// GameRequest carries the fields of every game action; each route reads
// the ones it needs.
type GameRequest struct {
	ScenarioID  string             `json:"scenarioId,omitempty"`
	Scenario    *scenario.Scenario `json:"scenario,omitempty"`
	ActorID     string             `json:"actorId,omitempty"`
	MilestoneID string             `json:"milestoneId,omitempty"`
	Type        state.GoalType     `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Action      string             `json:"action,omitempty"`
	ActionType  string             `json:"actionType,omitempty"`
	ViewMode    string             `json:"viewMode,omitempty"`
}

func view(g *session.Game) GameView {
	return GameView{ID: g.ID, GameState: g.Store.Snapshot(), Status: g.Store.Status()}
}

func (h *GameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/v1/games")
	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, r, http.MethodPost)
			return
		}
		h.handleCreate(w, r)
		return
	}

	g, err := h.game(r.Context(), parts[0])
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, h.logger, http.StatusOK, view(g))
		case http.MethodDelete:
			h.registry.Remove(r.Context(), g.ID)
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodDelete)
		}
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, r, http.MethodPost)
		return
	}
	if parts[1] == "load" && len(parts) == 3 {
		h.handleLoad(w, r, g, parts[2])
		return
	}
	if len(parts) != 2 {
		writeError(w, h.logger, http.StatusNotFound, "Not found.")
		return
	}

	var req GameRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	switch parts[1] {
	case "action":
		h.handleAction(w, r, g, req)
	case "skip":
		h.handleSkip(w, r, g)
	case "save":
		h.handleSave(w, r, g)
	default:
		h.handleTransition(w, r, g, parts[1], req)
	}
}

// game looks a game up and hides games of other owners.
func (h *GameHandler) game(ctx context.Context, id string) (*session.Game, error) {
	g, err := h.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.OwnedBy(middleware.OwnerID(ctx)) {
		return nil, session.ErrForbidden
	}
	return g, nil
}

func (h *GameHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req GameRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := h.scenarioFor(r.Context(), req)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}

	g := h.registry.Create(middleware.OwnerID(r.Context()))
	if sc != nil {
		if err := g.Store.SetScenario(sc); err != nil {
			h.registry.Remove(r.Context(), g.ID)
			writeFailure(w, h.logger, err)
			return
		}
	}
	writeJSON(w, h.logger, http.StatusCreated, view(g))
}

// scenarioFor resolves an inline scenario or a preset id. Neither is nil,
// nil.
func (h *GameHandler) scenarioFor(ctx context.Context, req GameRequest) (*scenario.Scenario, error) {
	if req.Scenario != nil {
		sc := req.Scenario.Clone()
		sc.Normalize()
		if err := sc.Validate(); err != nil {
			return nil, errors.Join(state.ErrMissingScenario, err)
		}
		return sc, nil
	}
	if req.ScenarioID == "" {
		return nil, nil
	}
	return h.presets.GetScenario(ctx, req.ScenarioID)
}

func (h *GameHandler) handleTransition(w http.ResponseWriter, r *http.Request, g *session.Game, action string, req GameRequest) {
	var err error
	switch action {
	case "scenario":
		var sc *scenario.Scenario
		sc, err = h.scenarioFor(r.Context(), req)
		if err == nil {
			if sc == nil {
				err = state.ErrMissingScenario
			} else {
				err = g.Store.SetScenario(sc)
			}
		}
	case "character":
		err = g.Store.SelectCharacter(req.ActorID)
	case "milestone":
		err = g.Store.SelectMilestone(req.MilestoneID)
	case "goal":
		err = g.Store.SetPlayerGoal(state.PlayerGoal{Type: req.Type, Description: req.Description})
	case "start":
		err = g.Store.StartGame()
	case "view":
		g.Store.SetViewMode(req.ViewMode)
	case "end":
		err = g.Store.EndGame()
	case "reset":
		err = g.Store.ResetGame()
	case "reset-setup":
		err = g.Store.ResetToSetup()
	case "reset-milestone":
		err = g.Store.ResetToMilestone()
	default:
		writeError(w, h.logger, http.StatusNotFound, "Unknown game action.")
		return
	}
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Debug("Game action applied", "game_id", g.ID, "action", action)
	writeJSON(w, h.logger, http.StatusOK, view(g))
}

func (h *GameHandler) handleAction(w http.ResponseWriter, r *http.Request, g *session.Game, req GameRequest) {
	if req.ActionType != "" {
		g.Store.SetSelectedActionType(req.ActionType)
	}
	resp, err := h.controller.Act(r.Context(), g, req.Action)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, TurnResponse{Simulation: resp, Game: view(g)})
}

func (h *GameHandler) handleSkip(w http.ResponseWriter, r *http.Request, g *session.Game) {
	if !wantsEventStream(r) {
		resp, err := h.controller.Skip(r.Context(), g)
		if err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, TurnResponse{Simulation: resp, Game: view(g)})
		return
	}

	if err := h.controller.Ready(g); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	sw, err := stream.NewWriter(w, h.logger)
	if err != nil {
		h.logger.Error("Streaming unsupported", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Streaming is not supported.")
		return
	}
	relay := func(ev stream.ProgressEvent) {
		h.controller.RelayProgress(r.Context(), g, string(ev.Step), ev.Progress)
	}
	_, _ = stream.Run(r.Context(), sw, func(ctx context.Context, onChunk func(int, string)) (*state.SimulationResponse, error) {
		return h.controller.SkipStream(ctx, g, onChunk)
	}, h.logger, relay)
}

func (h *GameHandler) handleSave(w http.ResponseWriter, r *http.Request, g *session.Game) {
	err := g.Saver().SaveNow(r.Context())
	switch {
	case err == nil:
		writeJSON(w, h.logger, http.StatusOK, view(g))
	case errors.Is(err, session.ErrSaveInFlight):
		writeJSON(w, h.logger, http.StatusConflict, ErrorResponse{Error: "A save is already in progress.", Code: "SAVE_IN_FLIGHT"})
	case errors.Is(err, session.ErrNotEligible):
		writeJSON(w, h.logger, http.StatusConflict, ErrorResponse{Error: "Only signed-in games in play with unsaved changes can be saved.", Code: "NOT_SAVEABLE"})
	default:
		writeJSON(w, h.logger, http.StatusInternalServerError, ErrorResponse{Error: "Failed to save the game.", Code: "SAVE_FAILED"})
	}
}

func (h *GameHandler) handleLoad(w http.ResponseWriter, r *http.Request, g *session.Game, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format.")
		return
	}
	owner := middleware.OwnerID(r.Context())
	if owner == "" {
		writeError(w, h.logger, http.StatusUnauthorized, "Authentication required.")
		return
	}
	if err := h.registry.Load(r.Context(), g, id, owner); err != nil {
		if errors.Is(err, session.ErrForbidden) {
			writeError(w, h.logger, http.StatusNotFound, "Session not found.")
			return
		}
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, view(g))
}
