package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jwebster45206/crisis-engine/internal/middleware"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

// SessionHandler manages the saved games of the authenticated owner.
// Routes:
// POST   /v1/sessions            - Save a new session
// GET    /v1/sessions            - List the owner's sessions, newest first
// GET    /v1/sessions/{id}       - Read one session
// PUT    /v1/sessions/{id}       - Replace the game state (and optionally the title)
// DELETE /v1/sessions/{id}       - Delete a session
// POST   /v1/sessions/{id}/share - Get the session's share link
type SessionHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewSessionHandler(storage storage.Storage, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{storage: storage, logger: logger}
}

type CreateSessionRequest struct {
	Title     string           `json:"title,omitempty"`
	GameState *state.GameState `json:"gameState"`
}

type UpdateSessionRequest struct {
	Title     *string          `json:"title,omitempty"`
	GameState *state.GameState `json:"gameState"`
}

type SessionIDResponse struct {
	ID uuid.UUID `json:"id"`
}

type SessionListResponse struct {
	Sessions []storage.SessionSummary `json:"sessions"`
}

type ShareResponse struct {
	Token string `json:"token"`
	Path  string `json:"path"`
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerID(r.Context())
	if owner == "" {
		writeError(w, h.logger, http.StatusUnauthorized, "Authentication required.")
		return
	}

	parts := pathParts(r.URL.Path, "/v1/sessions")
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r, owner)
		case http.MethodGet:
			h.handleList(w, r, owner)
		default:
			methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPost)
		}
		return
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format.")
		return
	}
	if len(parts) > 2 || (len(parts) == 2 && parts[1] != "share") {
		writeError(w, h.logger, http.StatusNotFound, "Not found.")
		return
	}

	sess, err := h.owned(r, id, owner)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, r, http.MethodPost)
			return
		}
		h.handleShare(w, r, sess.ID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.logger, http.StatusOK, sess)
	case http.MethodPut, http.MethodPatch:
		h.handleUpdate(w, r, sess.ID)
	case http.MethodDelete:
		h.handleDelete(w, r, sess.ID)
	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// owned loads a session and hides sessions of other owners.
func (h *SessionHandler) owned(r *http.Request, id uuid.UUID, owner string) (*storage.Session, error) {
	sess, err := h.storage.GetSession(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != owner {
		h.logger.Warn("Session requested by another owner", "session_id", id, "owner_id", owner)
		return nil, storage.ErrNotFound
	}
	return sess, nil
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request, owner string) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.GameState == nil {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{Error: "gameState is required", Field: "gameState"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = storage.DefaultTitle(req.GameState)
	}

	id, err := h.storage.CreateSession(r.Context(), owner, title, req.GameState)
	if err != nil {
		h.logger.Error("Failed to create session", "owner_id", owner, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to save session.")
		return
	}
	h.logger.Info("Session created", "session_id", id, "owner_id", owner)
	writeJSON(w, h.logger, http.StatusCreated, SessionIDResponse{ID: id})
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request, owner string) {
	list, err := h.storage.GetSessions(r.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list sessions", "owner_id", owner, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list sessions.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SessionListResponse{Sessions: list})
}

func (h *SessionHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.GameState == nil {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{Error: "gameState is required", Field: "gameState"})
		return
	}
	if err := h.storage.UpdateSession(r.Context(), id, req.GameState, req.Title); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SessionIDResponse{ID: id})
}

func (h *SessionHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.storage.DeleteSession(r.Context(), id); err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	h.logger.Info("Session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleShare(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	token, err := h.storage.CreateShareLink(r.Context(), id)
	if err != nil {
		writeFailure(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ShareResponse{Token: token, Path: "/v1/shared/" + token})
}

// SharedHandler resolves share links. It needs no authentication.
// GET /v1/shared/{token}
type SharedHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewSharedHandler(storage storage.Storage, logger *slog.Logger) *SharedHandler {
	return &SharedHandler{storage: storage, logger: logger}
}

func (h *SharedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, r, http.MethodGet)
		return
	}
	parts := pathParts(r.URL.Path, "/v1/shared")
	if len(parts) != 1 {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/shared/{token}")
		return
	}

	shared, err := h.storage.GetSharedSessionByToken(r.Context(), parts[0])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Shared session not found.")
			return
		}
		h.logger.Error("Failed to resolve share link", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load shared session.")
		return
	}
	if shared == nil {
		writeError(w, h.logger, http.StatusNotFound, "Shared session not found.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, shared)
}
