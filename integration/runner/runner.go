package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jwebster45206/crisis-engine/pkg/state"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running crisis-engine API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
	ScenarioOverride  string // If set, overrides the preset scenario for all test cases
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 120 * time.Second},
		Timeout:           90 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite creates a live game, plays it through setup and executes each step
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	if r.ScenarioOverride != "" {
		suite.Scenario = r.ScenarioOverride
	}

	game, err := r.createGame(ctx, suite)
	if err != nil {
		result.Error = fmt.Errorf("failed to set up game: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.GameID = game.ID
	defer r.deleteGame(game.ID)

	prev := game.GameState
	result.StartTension = prev.WorldState.TensionLevel

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult, post := r.runStep(ctx, game.ID, step, suite, &prev)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
		} else {
			r.Logger("    [%d/%d] ✓ %s (%v) turn %d, tension %d → %d", i+1, len(suite.Steps), step.Name, stepResult.Duration, stepResult.Turn, stepResult.TensionWas, stepResult.Tension)
		}

		// Relative expectations compare against the last known state
		if post != nil {
			prev = *post
		} else if view, err := GetGame(ctx, r.Client, r.BaseURL, game.ID); err == nil {
			prev = view.GameState
		}
	}

	result.Final = &prev
	result.Duration = time.Since(start)
	return result, result.Error
}

// Summary is a one-line crisis report: where tension started and ended,
// the highest level seen and how many events the turns produced.
func (res TestRunResult) Summary() string {
	if res.Final == nil {
		return fmt.Sprintf("%s: no game", res.Job.Name)
	}
	peak, events, turns := res.StartTension, 0, 0
	for _, step := range res.Results {
		if step.Turn == 0 {
			continue
		}
		if step.Tension > peak {
			peak = step.Tension
		}
		if step.Events > 0 {
			turns++
			events += step.Events
		}
	}
	return fmt.Sprintf("%s [game %s]: %s at turn %d, tension %d → %d (peak %d), %d events over %d turns",
		res.Job.Name, res.GameID, res.Final.Phase, res.Final.CurrentTurn,
		res.StartTension, res.Final.WorldState.TensionLevel, peak, events, turns)
}

// createGame creates a game from the preset and drives it to the playing phase
func (r *Runner) createGame(ctx context.Context, suite TestSuite) (*GameView, error) {
	var created GameView
	if err := postGame(ctx, r.Client, r.BaseURL+"/v1/games", map[string]string{"scenarioId": suite.Scenario}, &created); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	actorID := suite.ActorID
	if actorID == "" {
		if created.GameState.Scenario == nil || len(created.GameState.Scenario.Actors) == 0 {
			return nil, fmt.Errorf("scenario %q has no actors to play", suite.Scenario)
		}
		actorID = created.GameState.Scenario.Actors[0].ID
	}
	if err := r.transition(ctx, created.ID, "character", map[string]string{"actorId": actorID}); err != nil {
		return nil, err
	}

	return r.startFromMilestone(ctx, created.ID, suite)
}

// startFromMilestone replays milestone, goal and start
func (r *Runner) startFromMilestone(ctx context.Context, gameID string, suite TestSuite) (*GameView, error) {
	if err := r.transition(ctx, gameID, "milestone", map[string]string{"milestoneId": suite.MilestoneID}); err != nil {
		return nil, err
	}

	goalType := suite.Goal.Type
	if goalType == "" {
		goalType = state.GoalTypeCustom
	}
	goal := map[string]string{"type": string(goalType), "description": suite.Goal.Description}
	if err := r.transition(ctx, gameID, "goal", goal); err != nil {
		return nil, err
	}

	var view GameView
	if err := postGame(ctx, r.Client, r.gameURL(gameID, "start"), struct{}{}, &view); err != nil {
		return nil, fmt.Errorf("failed to start game: %w", err)
	}
	return &view, nil
}

func (r *Runner) transition(ctx context.Context, gameID, action string, body any) error {
	if err := postGame(ctx, r.Client, r.gameURL(gameID, action), body, nil); err != nil {
		return fmt.Errorf("%s transition failed: %w", action, err)
	}
	return nil
}

func (r *Runner) gameURL(gameID, action string) string {
	return fmt.Sprintf("%s/v1/games/%s/%s", r.BaseURL, gameID, action)
}

func (r *Runner) deleteGame(gameID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.BaseURL+"/v1/games/"+gameID, nil)
	if err != nil {
		return
	}
	if resp, err := r.Client.Do(req); err == nil {
		_ = resp.Body.Close()
	}
}

// runStep executes a single test step and checks expectations
// Turns are retried once when the request deadline is hit
func (r *Runner) runStep(ctx context.Context, gameID string, step TestStep, suite TestSuite, prev *state.GameState) (TestResult, *state.GameState) {
	for attempt := 1; ; attempt++ {
		result, post, timedOut := r.executeStep(ctx, gameID, step, suite, prev)
		if !timedOut || attempt == 2 || !step.IsTurn() {
			return result, post
		}
		r.Logger("    Timeout detected, retrying step: %s", step.Name)
	}
}

// executeStep performs the actual step execution
func (r *Runner) executeStep(ctx context.Context, gameID string, step TestStep, suite TestSuite, prev *state.GameState) (TestResult, *state.GameState, bool) {
	start := time.Now()
	result := TestResult{StepName: step.Name}
	fail := func(err error) (TestResult, *state.GameState, bool) {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil, ctx.Err() == nil && isTimeout(err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	var (
		sim    *state.SimulationResponse
		post   *state.GameState
		frames = -1
	)

	switch step.Action {
	case ResetToMilestoneAction:
		if err := r.transition(stepCtx, gameID, "reset-milestone", struct{}{}); err != nil {
			return fail(err)
		}
		view, err := r.startFromMilestone(stepCtx, gameID, suite)
		if err != nil {
			return fail(fmt.Errorf("failed to replay setup: %w", err))
		}
		post = &view.GameState
		result.IsReset = true
		result.ResponseText = "[GAME RESET]"

	case EndGameAction:
		var view GameView
		if err := postGame(stepCtx, r.Client, r.gameURL(gameID, "end"), struct{}{}, &view); err != nil {
			return fail(fmt.Errorf("end failed: %w", err))
		}
		post = &view.GameState

	case SkipTurnStreamAction:
		streamed, err := SkipTurnStream(stepCtx, r.Client, r.BaseURL, gameID)
		if err != nil {
			return fail(fmt.Errorf("streamed skip failed: %w", err))
		}
		sim, frames = streamed.Simulation, streamed.ProgressFrames
		view, err := GetGame(stepCtx, r.Client, r.BaseURL, gameID)
		if err != nil {
			return fail(fmt.Errorf("failed to get game after skip: %w", err))
		}
		post = &view.GameState

	default:
		var turn TurnResponse
		var err error
		if step.Action == SkipTurnAction {
			err = postGame(stepCtx, r.Client, r.gameURL(gameID, "skip"), struct{}{}, &turn)
		} else {
			body := map[string]string{"action": step.Action, "actionType": step.ActionType}
			err = postGame(stepCtx, r.Client, r.gameURL(gameID, "action"), body, &turn)
		}
		if err != nil {
			return fail(fmt.Errorf("turn failed: %w", err))
		}
		sim, post = turn.Simulation, &turn.Game.GameState
	}

	if sim != nil {
		result.ResponseText = responseText(sim)
		result.Events = len(sim.Events)
	}
	result.Turn = post.CurrentTurn
	result.Tension = post.WorldState.TensionLevel
	result.TensionWas = prev.WorldState.TensionLevel

	if err := checkExpectations(step.Expectations, prev, post, sim, frames, result.ResponseText); err != nil {
		result.Error = fmt.Errorf("expectation failed: %w", err)
		result.Duration = time.Since(start)
		return result, post, false
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result, post, false
}

func isTimeout(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout")
}

// responseText joins the turn's event content and narrative for text checks
func responseText(sim *state.SimulationResponse) string {
	parts := make([]string, 0, len(sim.Events)+1)
	for _, ev := range sim.Events {
		parts = append(parts, ev.Content)
	}
	if sim.Narrative != "" {
		parts = append(parts, sim.Narrative)
	}
	return strings.Join(parts, "\n")
}

// checkExpectations validates the test expectations against the game after the step.
// progressFrames is negative when the step was not streamed.
func checkExpectations(exp Expectations, preState, postState *state.GameState, sim *state.SimulationResponse, progressFrames int, responseText string) error {
	if exp.Phase != nil {
		if postState.Phase != *exp.Phase {
			return fmt.Errorf("expected phase %s, got %s", *exp.Phase, postState.Phase)
		}
	}

	if exp.CurrentTurn != nil {
		if postState.CurrentTurn != *exp.CurrentTurn {
			return fmt.Errorf("expected current_turn to be %d, got %d", *exp.CurrentTurn, postState.CurrentTurn)
		}
	}

	tension := postState.WorldState.TensionLevel
	if exp.TensionMin != nil && tension < *exp.TensionMin {
		return fmt.Errorf("expected tension >= %d, got %d", *exp.TensionMin, tension)
	}
	if exp.TensionMax != nil && tension > *exp.TensionMax {
		return fmt.Errorf("expected tension <= %d, got %d", *exp.TensionMax, tension)
	}
	if exp.TensionChanged != nil {
		changed := tension != preState.WorldState.TensionLevel
		if changed != *exp.TensionChanged {
			return fmt.Errorf("expected tension changed to be %t, went from %d to %d", *exp.TensionChanged, preState.WorldState.TensionLevel, tension)
		}
	}

	if exp.GoalProgressMin != nil || exp.GoalProgressMax != nil {
		if postState.PlayerGoal == nil {
			return fmt.Errorf("expected a player goal, but none is set")
		}
		progress := postState.PlayerGoal.Progress
		if exp.GoalProgressMin != nil && progress < *exp.GoalProgressMin {
			return fmt.Errorf("expected goal progress >= %d, got %d", *exp.GoalProgressMin, progress)
		}
		if exp.GoalProgressMax != nil && progress > *exp.GoalProgressMax {
			return fmt.Errorf("expected goal progress <= %d, got %d", *exp.GoalProgressMax, progress)
		}
	}

	wantsTurn := exp.MinEvents != nil || exp.MaxEvents != nil || len(exp.EventActors) > 0 || len(exp.EventTypes) > 0
	if wantsTurn && sim == nil {
		return fmt.Errorf("expected turn output, but the step produced none")
	}
	if sim != nil {
		if exp.MinEvents != nil && len(sim.Events) < *exp.MinEvents {
			return fmt.Errorf("expected at least %d events, got %d", *exp.MinEvents, len(sim.Events))
		}
		if exp.MaxEvents != nil && len(sim.Events) > *exp.MaxEvents {
			return fmt.Errorf("expected at most %d events, got %d", *exp.MaxEvents, len(sim.Events))
		}

		actors := make(map[string]bool, len(sim.Events))
		types := make(map[string]bool, len(sim.Events))
		for _, ev := range sim.Events {
			actors[ev.ActorID] = true
			types[string(ev.Type)] = true
		}
		for _, id := range exp.EventActors {
			if !actors[id] {
				return fmt.Errorf("expected an event from actor '%s', but none was produced", id)
			}
		}
		for _, t := range exp.EventTypes {
			if !types[t] {
				return fmt.Errorf("expected an event of type '%s', but none was produced", t)
			}
		}
	}

	if exp.MinProgressFrames != nil {
		if progressFrames < 0 {
			return fmt.Errorf("min_progress_frames requires a %s step", SkipTurnStreamAction)
		}
		if progressFrames < *exp.MinProgressFrames {
			return fmt.Errorf("expected at least %d progress frames, got %d", *exp.MinProgressFrames, progressFrames)
		}
	}

	if len(exp.ResponseContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, expectedText := range exp.ResponseContains {
			if !strings.Contains(lowerResponse, strings.ToLower(expectedText)) {
				return fmt.Errorf("expected response to contain '%s', but it didn't", expectedText)
			}
		}
	}

	if len(exp.ResponseNotContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, unexpectedText := range exp.ResponseNotContains {
			if strings.Contains(lowerResponse, strings.ToLower(unexpectedText)) {
				return fmt.Errorf("expected response to NOT contain '%s', but it did", unexpectedText)
			}
		}
	}

	if exp.ResponseRegex != "" {
		matched, err := regexp.MatchString(exp.ResponseRegex, responseText)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		if !matched {
			return fmt.Errorf("response didn't match regex pattern: %s", exp.ResponseRegex)
		}
	}

	if exp.ResponseMinLength != nil && len(responseText) < *exp.ResponseMinLength {
		return fmt.Errorf("expected response length >= %d, got %d", *exp.ResponseMinLength, len(responseText))
	}
	if exp.ResponseMaxLength != nil && len(responseText) > *exp.ResponseMaxLength {
		return fmt.Errorf("expected response length <= %d, got %d", *exp.ResponseMaxLength, len(responseText))
	}

	return nil
}
