package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Event names on a turn stream.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// ErrNoFlusher is returned when the response writer cannot stream.
var ErrNoFlusher = errors.New("response writer does not support flushing")

// Writer writes server-sent events to an HTTP response. After the first
// failed write every later write is skipped.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	broken  bool
}

// NewWriter sets the event-stream headers and flushes them.
func NewWriter(w http.ResponseWriter, logger *slog.Logger) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher, logger: logger}, nil
}

// Send writes one event with a JSON data line.
func (s *Writer) Send(event string, data any) error {
	if s.broken {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("Failed to marshal SSE data", "event", event, "error", err)
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.broken = true
		s.logger.Warn("Failed to write SSE event", "event", event, "error", err)
		return fmt.Errorf("failed to write %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// Comment writes a comment line, used as a keepalive.
func (s *Writer) Comment(text string) error {
	if s.broken {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		s.broken = true
		return fmt.Errorf("failed to write comment: %w", err)
	}
	s.flusher.Flush()
	return nil
}
