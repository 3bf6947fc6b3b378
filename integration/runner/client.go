package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// postGame posts a body to a /v1/games route and decodes a 2xx reply into out
func postGame(ctx context.Context, client *http.Client, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeReply(resp, out)
}

// GetGame retrieves the current state of a live game
func GetGame(ctx context.Context, client *http.Client, baseURL, gameID string) (*GameView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/games/"+gameID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create game request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send game request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var view GameView
	if err := decodeReply(resp, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func decodeReply(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s returned %d (%s): %s", resp.Request.URL.Path, resp.StatusCode, errResp.Code, errResp.Error)
		}
		return fmt.Errorf("%s returned %d: %s", resp.Request.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// StreamedSkip is the result of a skip turn read over server-sent events
type StreamedSkip struct {
	ProgressFrames int
	Simulation     *state.SimulationResponse
}

// SkipTurnStream requests a skip turn as an event stream and reads frames
// until the complete or error frame arrives
func SkipTurnStream(ctx context.Context, client *http.Client, baseURL, gameID string) (*StreamedSkip, error) {
	url := fmt.Sprintf("%s/v1/games/%s/skip", baseURL, gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create skip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send skip request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return nil, decodeReply(resp, nil)
	}

	result := &StreamedSkip{}
	reader := bufio.NewReader(resp.Body)
	for {
		event, data, err := readEvent(reader)
		if err != nil {
			return nil, fmt.Errorf("stream ended before completion after %d progress frames: %w", result.ProgressFrames, err)
		}

		switch event {
		case "progress":
			result.ProgressFrames++
		case "complete":
			var sim state.SimulationResponse
			if err := json.Unmarshal([]byte(data), &sim); err != nil {
				return nil, fmt.Errorf("failed to decode complete frame: %w", err)
			}
			result.Simulation = &sim
			return result, nil
		case "error":
			return nil, fmt.Errorf("stream reported an error: %s", data)
		}
	}
}

// readEvent reads one frame and returns its event name and data. Comment
// frames come back with an empty event name.
func readEvent(r *bufio.Reader) (string, string, error) {
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data, nil
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data += strings.TrimPrefix(line, "data: ")
		}
	}
}
