package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/stream"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// SimulateHandler plays stateless turns: the client sends the full game
// state and applies the result itself.
// Routes:
// POST /v1/simulate      - {gameState, action}
// POST /v1/simulate/skip - {gameState}; Accept: text/event-stream streams
type SimulateHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewSimulateHandler(e *engine.Engine, logger *slog.Logger) *SimulateHandler {
	return &SimulateHandler{engine: e, logger: logger}
}

type SimulateRequest struct {
	GameState *state.GameState `json:"gameState"`
	Action    string           `json:"action"`
}

func (h *SimulateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, r, http.MethodPost)
		return
	}

	var req SimulateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(engine.KindInput)})
		return
	}

	switch strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/simulate"), "/") {
	case "":
		h.handleAction(w, r, req)
	case "skip":
		h.handleSkip(w, r, req)
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found.")
	}
}

func (h *SimulateHandler) handleAction(w http.ResponseWriter, r *http.Request, req SimulateRequest) {
	resp, err := h.engine.Simulate(r.Context(), req.GameState, req.Action)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *SimulateHandler) handleSkip(w http.ResponseWriter, r *http.Request, req SimulateRequest) {
	if !wantsEventStream(r) {
		resp, err := h.engine.Skip(r.Context(), req.GameState)
		if err != nil {
			writeFailure(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, resp)
		return
	}

	if err := engine.CheckState(req.GameState); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	sw, err := stream.NewWriter(w, h.logger)
	if err != nil {
		h.logger.Error("Streaming unsupported", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Streaming is not supported.")
		return
	}
	_, _ = stream.Run(r.Context(), sw, func(ctx context.Context, onChunk func(int, string)) (*state.SimulationResponse, error) {
		return h.engine.SkipStream(ctx, req.GameState, onChunk)
	}, h.logger)
}

// ValidateHandler checks a proposed action against the actor's resources.
// POST /v1/validate-action - {actor, action}
type ValidateHandler struct {
	validator *engine.Validator
	logger    *slog.Logger
}

// NewValidateHandler creates the handler; a nil validator answers every
// request with the fail-open result and fallback set.
func NewValidateHandler(v *engine.Validator, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{validator: v, logger: logger}
}

type ValidateRequest struct {
	Actor  *scenario.Actor `json:"actor"`
	Action string          `json:"action"`
}

type ValidateResponse struct {
	engine.ValidationResult
	Error    string `json:"error,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, r, http.MethodPost)
		return
	}

	var req ValidateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(engine.KindInput)})
		return
	}
	if req.Actor == nil {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{Error: "actor is required", Code: string(engine.KindInput), Field: "actor"})
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{Error: "action is required", Code: string(engine.KindInput), Field: "action"})
		return
	}

	if h.validator == nil {
		writeJSON(w, h.logger, http.StatusOK, ValidateResponse{
			ValidationResult: engine.Allow(),
			Error:            "Action validation is not enabled.",
			Fallback:         true,
		})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ValidateResponse{ValidationResult: h.validator.Validate(r.Context(), *req.Actor, req.Action)})
}
