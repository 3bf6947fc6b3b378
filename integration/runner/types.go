package runner

import (
	"time"

	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// Special action values that drive game transitions instead of a turn
const (
	SkipTurnAction         = "SKIP_TURN"
	SkipTurnStreamAction   = "SKIP_TURN_STREAM"
	ResetToMilestoneAction = "RESET_TO_MILESTONE"
	EndGameAction          = "END_GAME"
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name        string     `json:"name"`
	Scenario    string     `json:"scenario,omitempty"`     // Preset scenario id
	ActorID     string     `json:"actor_id,omitempty"`     // Player actor
	MilestoneID string     `json:"milestone_id,omitempty"` // Empty starts at the scenario opening
	Goal        SeedGoal   `json:"goal"`
	Steps       []TestStep `json:"steps,omitempty"` // Used for regular tests
	Cases       []string   `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// SeedGoal is the player goal set before the game starts
type SeedGoal struct {
	Type        state.GoalType `json:"type,omitempty"`
	Description string         `json:"description"`
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep defines a single test interaction and its expected outcomes
// Use action: "RESET_TO_MILESTONE" to replay setup from milestone selection
type TestStep struct {
	Name         string       `json:"name,omitempty"`
	Action       string       `json:"action"`
	ActionType   string       `json:"action_type,omitempty"`
	Expectations Expectations `json:"expect"`
}

// IsTurn reports whether the step runs a model turn
func (s TestStep) IsTurn() bool {
	switch s.Action {
	case ResetToMilestoneAction, EndGameAction:
		return false
	}
	return true
}

// Expectations defines what to check after a test step executes
type Expectations struct {
	// GameState properties - aligned with pkg/state/gamestate.go
	Phase           *state.Phase `json:"phase,omitempty"`
	CurrentTurn     *int         `json:"current_turn,omitempty"`
	TensionMin      *int         `json:"tension_min,omitempty"`
	TensionMax      *int         `json:"tension_max,omitempty"`
	TensionChanged  *bool        `json:"tension_changed,omitempty"`
	GoalProgressMin *int         `json:"goal_progress_min,omitempty"`
	GoalProgressMax *int         `json:"goal_progress_max,omitempty"`

	// Turn output
	MinEvents         *int     `json:"min_events,omitempty"`
	MaxEvents         *int     `json:"max_events,omitempty"`
	EventActors       []string `json:"event_actors,omitempty"`        // Actor ids that must appear in the turn's events
	EventTypes        []string `json:"event_types,omitempty"`         // Event types that must appear in the turn's events
	MinProgressFrames *int     `json:"min_progress_frames,omitempty"` // Streamed skips only

	// Response Analysis over the concatenated event content and narrative
	ResponseContains    []string `json:"response_contains,omitempty"`
	ResponseNotContains []string `json:"response_not_contains,omitempty"`
	ResponseRegex       string   `json:"response_regex,omitempty"`
	ResponseMinLength   *int     `json:"response_min_length,omitempty"`
	ResponseMaxLength   *int     `json:"response_max_length,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName     string
	StepName     string
	Success      bool
	Error        error
	Duration     time.Duration
	ResponseText string
	IsReset      bool // True if this was a reset step (should not count toward pass/fail metrics)

	// Game after the step; zero when the step failed before a state came back
	Turn       int
	Tension    int
	TensionWas int
	Events     int
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	GameID   string // ID of the live game used for this test

	StartTension int
	Final        *state.GameState // Last state seen, nil if setup failed
}

// GameView mirrors the live game payload returned by /v1/games
type GameView struct {
	ID        string          `json:"id"`
	GameState state.GameState `json:"gameState"`
}

// TurnResponse mirrors the action and skip payload
type TurnResponse struct {
	Simulation *state.SimulationResponse `json:"simulation"`
	Game       GameView                  `json:"game"`
}

// ErrorResponse mirrors the API error body
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
