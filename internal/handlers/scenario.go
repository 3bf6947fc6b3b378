package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/crisis-engine/internal/discovery"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// Discoverer builds scenarios from a topic or a URL.
type Discoverer interface {
	Discover(ctx context.Context, req discovery.Request) (*scenario.Scenario, error)
}

var _ Discoverer = (*discovery.Pipeline)(nil)

// ScenarioHandler serves preset scenarios and runs discovery.
// Routes:
// GET  /v1/scenarios          - List presets
// GET  /v1/scenarios/{id}     - Read one preset
// POST /v1/scenarios/discover - Build a scenario from a query or source URL
type ScenarioHandler struct {
	log       *slog.Logger
	storage   storage.Storage
	discovery Discoverer
}

func NewScenarioHandler(log *slog.Logger, storage storage.Storage, discovery Discoverer) *ScenarioHandler {
	return &ScenarioHandler{
		log:       log,
		storage:   storage,
		discovery: discovery,
	}
}

type ScenarioListResponse struct {
	Scenarios []storage.ScenarioSummary `json:"scenarios"`
}

type DiscoverResponse struct {
	Scenario *scenario.Scenario `json:"scenario"`
}

func (h *ScenarioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/v1/scenarios")
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.log, r, http.MethodGet)
			return
		}
		h.handleList(w, r)
	case len(parts) == 1 && parts[0] == "discover":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.log, r, http.MethodPost)
			return
		}
		h.handleDiscover(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.log, r, http.MethodGet)
			return
		}
		h.handleGet(w, r, parts[0])
	default:
		writeError(w, h.log, http.StatusNotFound, "Not found.")
	}
}

func (h *ScenarioHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.storage.ListScenarios(r.Context())
	if err != nil {
		h.log.Error("Failed to list scenarios", "error", err)
		writeError(w, h.log, http.StatusInternalServerError, "Failed to list scenarios.")
		return
	}
	writeJSON(w, h.log, http.StatusOK, ScenarioListResponse{Scenarios: list})
}

func (h *ScenarioHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if strings.Contains(id, "..") {
		writeError(w, h.log, http.StatusBadRequest, "Invalid scenario id.")
		return
	}
	sc, err := h.storage.GetScenario(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, h.log, http.StatusNotFound, "Scenario not found.")
			return
		}
		h.log.Error("Failed to get scenario", "error", err, "scenario_id", id)
		writeError(w, h.log, http.StatusInternalServerError, "Failed to retrieve scenario.")
		return
	}
	writeJSON(w, h.log, http.StatusOK, sc)
}

func (h *ScenarioHandler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discovery.Request
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(discovery.CodeInvalidInput)})
		return
	}

	sc, err := h.discovery.Discover(r.Context(), req)
	if err != nil {
		var derr *discovery.Error
		if !errors.As(err, &derr) {
			h.log.Error("Discovery failed", "error", err)
			writeJSON(w, h.log, http.StatusInternalServerError, ErrorResponse{Error: "Scenario discovery failed.", Code: string(discovery.CodeDiscoveryFailed)})
			return
		}
		h.log.Warn("Discovery failed", "code", derr.Code, "error", err)
		writeJSON(w, h.log, discoveryStatus(derr.Code), ErrorResponse{Error: derr.Message(), Code: string(derr.Code)})
		return
	}
	writeJSON(w, h.log, http.StatusOK, DiscoverResponse{Scenario: sc})
}

func discoveryStatus(code discovery.Code) int {
	switch code {
	case discovery.CodeInvalidInput:
		return http.StatusBadRequest
	case discovery.CodePageNotFound, discovery.CodeDomainBlocked, discovery.CodeExtractionFailed:
		return http.StatusUnprocessableEntity
	case discovery.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
