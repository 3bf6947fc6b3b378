package state

import "github.com/jwebster45206/crisis-engine/pkg/scenario"

// SimulationResponse is the reconciled result of one turn.
type SimulationResponse struct {
	Events             []GameEvent         `json:"events"`
	WorldStateUpdate   *WorldStateUpdate   `json:"worldStateUpdate,omitempty"`
	GoalProgressUpdate *GoalProgressUpdate `json:"goalProgressUpdate,omitempty"`
	ActorUpdates       []ActorUpdate       `json:"actorUpdates,omitempty"`
	Narrative          string              `json:"narrative,omitempty"`
}

type GoalProgressUpdate struct {
	Progress   int    `json:"progress"`
	Evaluation string `json:"evaluation,omitempty"`
}

// ActorUpdate changes the resource gauges of one actor.
type ActorUpdate struct {
	ActorID   string             `json:"actorId"`
	Resources scenario.Resources `json:"resources"`
}
