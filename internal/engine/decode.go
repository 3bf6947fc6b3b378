package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/textfilter"
)

var errNoObject = errors.New("model response contains no JSON object")

// Simulation is a model reply decoded against the turn schema but not yet
// reconciled. Models emit 12 and 12.0 alike, so tension and progress are
// floats here and resource gauges round while decoding.
type Simulation struct {
	Events             []EventPayload      `json:"events"`
	WorldStateUpdate   *WorldUpdatePayload `json:"worldStateUpdate"`
	GoalProgressUpdate *GoalPayload        `json:"goalProgressUpdate"`
	ActorUpdates       []state.ActorUpdate `json:"actorUpdates"`
	Narrative          string              `json:"narrative"`
}

type EventPayload struct {
	ActorID   string              `json:"actorId"`
	ActorName string              `json:"actorName"`
	Type      string              `json:"type"`
	Content   string              `json:"content"`
	Sentiment string              `json:"sentiment"`
	MediaType string              `json:"mediaType"`
	Media     *state.MediaContent `json:"media"`
	Impact    *state.Impact       `json:"impact"`
}

// WorldUpdatePayload shadows the tension field so it can be read as either
// a delta or an absolute value.
type WorldUpdatePayload struct {
	state.WorldStateUpdate
	TensionLevel *float64 `json:"tensionLevel"`
}

type GoalPayload struct {
	Progress   *float64 `json:"progress"`
	Evaluation string   `json:"evaluation"`
}

// DecodeSimulation turns raw model text into a Simulation. Fences and prose
// around the object are dropped first. Any shape mismatch fails the whole
// reply.
func DecodeSimulation(raw string) (*Simulation, error) {
	obj, ok := textfilter.JSONObject(raw)
	if !ok {
		return nil, &Error{Kind: KindParse, Err: errNoObject}
	}

	var sim Simulation
	if err := json.Unmarshal([]byte(obj), &sim); err != nil {
		return nil, &Error{Kind: KindParse, Err: fmt.Errorf("invalid simulation JSON: %w", err)}
	}
	if sim.GoalProgressUpdate != nil && sim.GoalProgressUpdate.Progress == nil {
		sim.GoalProgressUpdate = nil
	}
	return &sim, nil
}
