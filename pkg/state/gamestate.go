package state

import (
	"encoding/json"

	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

// Phase is a step of the game's setup-to-play lifecycle.
type Phase string

const (
	PhaseSetup           Phase = "setup"
	PhaseCharacterSelect Phase = "character-select"
	PhaseMilestoneSelect Phase = "milestone-select"
	PhaseGoalSelect      Phase = "goal-select"
	PhasePlaying         Phase = "playing"
	PhaseEnded           Phase = "ended"
)

const DefaultViewMode = "feed"

type GoalType string

const (
	GoalTypeSuggested GoalType = "suggested"
	GoalTypeCustom    GoalType = "custom"
)

// PlayerGoal is what the player is trying to achieve. Progress is always
// within 0..100.
type PlayerGoal struct {
	Type              GoalType `json:"type"`
	Description       string   `json:"description"`
	Progress          int      `json:"progress"`
	LastEvaluation    string   `json:"lastEvaluation,omitempty"`
	LastEvaluatedTurn int      `json:"lastEvaluatedTurn,omitempty"`
}

// GameState is the aggregate state of one game.
type GameState struct {
	Scenario            *scenario.Scenario `json:"scenario,omitempty"`
	PlayerActorID       string             `json:"playerActorId,omitempty"`
	StartingMilestoneID string             `json:"startingMilestoneId,omitempty"`
	PlayerGoal          *PlayerGoal        `json:"playerGoal,omitempty"`
	CurrentTurn         int                `json:"currentTurn"`
	Events              []GameEvent        `json:"events"`
	WorldState          WorldState         `json:"worldState"`
	Phase               Phase              `json:"phase"`
	ViewMode            string             `json:"viewMode,omitempty"`
	IsProcessing        bool               `json:"isProcessing"`
	SelectedActionType  string             `json:"selectedActionType,omitempty"`
}

// UnmarshalJSON gives a payload without a worldState the default world.
func (gs *GameState) UnmarshalJSON(data []byte) error {
	type plain GameState
	p := plain{WorldState: NewWorldState()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*gs = GameState(p)
	return nil
}

// NewGameState returns the state of a game that has not been set up yet.
func NewGameState() GameState {
	return GameState{
		Events:     []GameEvent{},
		WorldState: NewWorldState(),
		Phase:      PhaseSetup,
		ViewMode:   DefaultViewMode,
	}
}

// PlayerActor returns the actor the player controls, or nil.
func (gs *GameState) PlayerActor() *scenario.Actor {
	if gs == nil || gs.Scenario == nil {
		return nil
	}
	return gs.Scenario.FindActor(gs.PlayerActorID)
}

// RecentEvents returns at most the last n events.
func (gs *GameState) RecentEvents(n int) []GameEvent {
	if n <= 0 || len(gs.Events) == 0 {
		return nil
	}
	if len(gs.Events) <= n {
		return gs.Events
	}
	return gs.Events[len(gs.Events)-n:]
}

// Clone returns a deep copy of the state.
func (gs GameState) Clone() GameState {
	c := gs
	c.Scenario = gs.Scenario.Clone()
	if gs.PlayerGoal != nil {
		g := *gs.PlayerGoal
		c.PlayerGoal = &g
	}
	c.Events = make([]GameEvent, len(gs.Events))
	copy(c.Events, gs.Events)
	c.WorldState = gs.WorldState.Clone()
	return c
}

// ClampPercent bounds v to 0..100.
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
