// Package stream carries a skip turn over server-sent events: progress
// frames while the model streams, then exactly one complete or error frame.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/crisis-engine/internal/metrics"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

const (
	codeSimulationFailed = "SIMULATION_FAILED"
	codeInvalidInput     = "INVALID_INPUT"

	failedMessage = "The simulation failed. Please try again."
)

// TurnFunc runs one streamed turn, reporting each chunk index to onChunk.
type TurnFunc func(ctx context.Context, onChunk func(index int, text string)) (*state.SimulationResponse, error)

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type coder interface {
	Code() string
}

// Run executes turn and writes its frames to w. Observers see every progress
// event sent. A panic in turn is recovered and reported as an error frame.
func Run(ctx context.Context, w *Writer, turn TurnFunc, logger *slog.Logger, observers ...func(ProgressEvent)) (*state.SimulationResponse, error) {
	progress := NewProgress()
	onChunk := func(index int, _ string) {
		ev, ok := progress.Observe(index)
		if !ok {
			return
		}
		_ = w.Send(EventProgress, ev)
		for _, observe := range observers {
			observe(ev)
		}
	}

	resp, err := guard(ctx, turn, onChunk)
	if err == nil && resp == nil {
		err = errors.New("turn returned no response")
	}
	if err != nil {
		logger.Warn("Streamed turn failed", "error", err)
		_ = w.Send(EventError, errorPayload(err))
		metrics.SSEStreams.WithLabelValues(metrics.StatusError).Inc()
		return nil, err
	}

	if err := w.Send(EventComplete, resp); err != nil {
		// The turn is committed but the client still needs a terminal frame.
		logger.Warn("Failed to send complete frame", "error", err)
		_ = w.Send(EventError, ErrorPayload{Error: failedMessage, Code: codeSimulationFailed})
		metrics.SSEStreams.WithLabelValues(metrics.StatusError).Inc()
		return resp, nil
	}
	metrics.SSEStreams.WithLabelValues(metrics.StatusOK).Inc()
	return resp, nil
}

func guard(ctx context.Context, turn TurnFunc, onChunk func(int, string)) (resp *state.SimulationResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("panic during streamed turn: %v", r)
		}
	}()
	return turn(ctx, onChunk)
}

func errorPayload(err error) ErrorPayload {
	var c coder
	if errors.As(err, &c) {
		if c.Code() == codeInvalidInput {
			return ErrorPayload{Error: err.Error(), Code: codeInvalidInput}
		}
		return ErrorPayload{Error: failedMessage, Code: c.Code()}
	}
	return ErrorPayload{Error: failedMessage, Code: codeSimulationFailed}
}
