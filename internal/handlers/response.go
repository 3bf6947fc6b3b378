package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/session"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// maxBodyBytes bounds request bodies. Game states carry the full event log.
const maxBodyBytes = 4 << 20

// ErrorResponse is the body of every failed request. Fallback marks a
// degraded optional feature the client should continue without.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Field    string `json:"field,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter, logger *slog.Logger, r *http.Request, allowed ...string) {
	logger.Warn("Method not allowed", "method", r.Method, "path", r.URL.Path)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, logger, http.StatusMethodNotAllowed, fmt.Sprintf("Method not allowed. Supported: %s.", strings.Join(allowed, ", ")))
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pathParts splits the path below prefix into its segments.
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// wantsEventStream reports whether the client negotiated SSE.
func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// writeFailure maps a component error to a status code and body.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	var eerr *engine.Error
	switch {
	case errors.As(err, &eerr):
		if eerr.Kind == engine.KindInput {
			writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: eerr.Error(), Code: eerr.Code(), Field: eerr.Field})
			return
		}
		logger.Error("Simulation failed", "kind", eerr.Kind, "error", err)
		writeJSON(w, logger, http.StatusInternalServerError, ErrorResponse{Error: "The simulation failed. Please try again.", Code: eerr.Code()})
	case errors.Is(err, session.ErrBusy):
		writeJSON(w, logger, http.StatusConflict, ErrorResponse{Error: "A turn is already being processed.", Code: "PROCESSING"})
	case errors.Is(err, state.ErrInvalidTransition):
		writeJSON(w, logger, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "INVALID_TRANSITION"})
	case errors.Is(err, state.ErrMissingScenario), errors.Is(err, state.ErrUnknownActor), errors.Is(err, state.ErrUnknownMilestone):
		writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(engine.KindInput)})
	case errors.Is(err, session.ErrGameNotFound), errors.Is(err, session.ErrForbidden):
		writeError(w, logger, http.StatusNotFound, "Game not found.")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, "Not found.")
	default:
		logger.Error("Request failed", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "Internal server error.")
	}
}
