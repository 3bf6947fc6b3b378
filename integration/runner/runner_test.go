package runner

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/handlers"
	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/internal/session"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

const turnReply = `{
  "events": [
    {"actorId": "navy", "type": "reaction", "content": "The navy pulls two frigates back from the strait."},
    {"actorId": "press", "type": "news", "content": "Markets rally on reports of de-escalation."}
  ],
  "worldStateUpdate": {"tensionLevel": -10},
  "goalProgressUpdate": {"progress": 35, "evaluation": "A first sign of restraint."}
}`

func ptr[T any](v T) *T { return &v }

// newTestAPI serves the live game routes over a mock model.
func newTestAPI(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st := storage.NewMockStorage()
	st.AddScenario(&scenario.Scenario{
		ID:        "strait",
		Title:     "Strait Standoff",
		Timeframe: scenario.Timeframe{Start: "2025-06"},
		Actors: []scenario.Actor{
			{ID: "pm", Name: "Prime Minister", Type: scenario.ActorTypeLeader},
			{ID: "navy", Name: "Neighbouring Navy", Type: scenario.ActorTypeOrganization},
		},
		Milestones: []scenario.Milestone{{ID: "collision", Date: "2025-06-03", Title: "Cutter collision"}},
	})

	registry := session.NewRegistry(st, nil, nil, session.Options{Debounce: time.Hour}, logger)
	t.Cleanup(func() { registry.Close(context.Background()) })
	controller := session.NewController(engine.New(services.NewMockLLMWithReply(reply), logger), nil, logger)

	mux := http.NewServeMux()
	games := handlers.NewGameHandler(registry, controller, st, logger)
	mux.Handle("/v1/games", games)
	mux.Handle("/v1/games/", games)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSuite_PlaysGame(t *testing.T) {
	srv := newTestAPI(t, turnReply)
	r := NewRunner(srv.URL)
	r.Timeout = 5 * time.Second

	suite := TestSuite{
		Name:     "de-escalation",
		Scenario: "strait",
		ActorID:  "pm",
		Goal:     SeedGoal{Description: "Keep the strait open"},
		Steps: []TestStep{
			{
				Name:   "hotline",
				Action: "Open a hotline to the navy",
				Expectations: Expectations{
					Phase:            ptr(state.PhasePlaying),
					CurrentTurn:      ptr(2),
					TensionMax:       ptr(45),
					TensionChanged:   ptr(true),
					GoalProgressMin:  ptr(30),
					MinEvents:        ptr(2),
					EventActors:      []string{"navy"},
					EventTypes:       []string{"news"},
					ResponseContains: []string{"frigates"},
				},
			},
			{
				Name:   "skip streamed",
				Action: SkipTurnStreamAction,
				Expectations: Expectations{
					CurrentTurn:       ptr(3),
					MinProgressFrames: ptr(1),
					MinEvents:         ptr(1),
				},
			},
			{
				Name:         "skip",
				Action:       SkipTurnAction,
				Expectations: Expectations{CurrentTurn: ptr(4)},
			},
			{
				Name:         "replay from milestone",
				Action:       ResetToMilestoneAction,
				Expectations: Expectations{Phase: ptr(state.PhasePlaying), CurrentTurn: ptr(1)},
			},
			{
				Name:         "end",
				Action:       EndGameAction,
				Expectations: Expectations{Phase: ptr(state.PhaseEnded)},
			},
		},
	}

	result, err := r.RunSuite(context.Background(), suite)
	require.NoError(t, err)
	require.Len(t, result.Results, 5)
	assert.NotEmpty(t, result.GameID)
	for _, step := range result.Results {
		assert.True(t, step.Success, "%s: %v", step.StepName, step.Error)
	}
	assert.True(t, result.Results[3].IsReset)
	assert.Contains(t, result.Results[0].ResponseText, "Markets rally")

	first := result.Results[0]
	assert.Equal(t, 2, first.Turn)
	assert.Equal(t, result.StartTension, first.TensionWas)
	assert.Equal(t, first.TensionWas-10, first.Tension)
	assert.Equal(t, 2, first.Events)

	require.NotNil(t, result.Final)
	assert.Equal(t, state.PhaseEnded, result.Final.Phase)
	summary := result.Summary()
	assert.Contains(t, summary, result.GameID)
	assert.Contains(t, summary, "ended at turn 1")
	assert.Contains(t, summary, "6 events over 3 turns")
}

func TestRunSuite_ReportsFailedExpectations(t *testing.T) {
	srv := newTestAPI(t, turnReply)
	r := NewRunner(srv.URL)

	suite := TestSuite{
		Name:     "wrong expectations",
		Scenario: "strait",
		Goal:     SeedGoal{Description: "Keep the strait open"},
		Steps: []TestStep{
			{Name: "too calm", Action: "Wait", Expectations: Expectations{TensionMin: ptr(90)}},
			{Name: "missing actor", Action: "Wait", Expectations: Expectations{EventActors: []string{"pm"}}},
		},
	}

	t.Run("continue", func(t *testing.T) {
		result, err := r.RunSuite(context.Background(), suite)
		require.Error(t, err)
		require.Len(t, result.Results, 2)
		assert.ErrorContains(t, result.Results[0].Error, "expected tension >= 90")
		assert.ErrorContains(t, result.Results[1].Error, "expected an event from actor 'pm'")
	})

	t.Run("exit", func(t *testing.T) {
		r.ErrorHandlingMode = ErrorHandlingExit
		result, err := r.RunSuite(context.Background(), suite)
		require.Error(t, err)
		assert.Len(t, result.Results, 1)
	})
}

func TestRunSuite_UnknownScenario(t *testing.T) {
	srv := newTestAPI(t, turnReply)
	r := NewRunner(srv.URL)

	result, err := r.RunSuite(context.Background(), TestSuite{Name: "missing", Scenario: "atlantis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Nil(t, result.Final)
	assert.Equal(t, "missing: no game", result.Summary())
}

func TestRunSuite_TurnFailure(t *testing.T) {
	srv := newTestAPI(t, "not json at all")
	r := NewRunner(srv.URL)

	result, err := r.RunSuite(context.Background(), TestSuite{
		Name:     "broken model",
		Scenario: "strait",
		Goal:     SeedGoal{Description: "Hold"},
		Steps:    []TestStep{{Name: "act", Action: "Wait"}},
	})
	require.Error(t, err)
	require.Len(t, result.Results, 1)
	assert.ErrorContains(t, result.Results[0].Error, "turn failed")
}

func TestLoadTestSuiteWithExpansion(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("a.json", `{"name":"a","scenario":"strait","steps":[{"action":"Wait"}]}`)
	write("b.json", `{"name":"b","scenario":"strait","steps":[{"action":"SKIP_TURN"},{"action":"END_GAME"}]}`)
	write("all.json", `{"name":"all","cases":["a.json","b.json"]}`)
	write("broken.json", `{"name":"broken","cases":["missing.json"]}`)

	jobs, err := LoadTestSuiteWithExpansion(filepath.Join(dir, "all.json"), dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Len(t, jobs[1].Suite.Steps, 2)
	assert.False(t, jobs[1].Suite.Steps[1].IsTurn())

	_, err = LoadTestSuiteWithExpansion(filepath.Join(dir, "broken.json"), dir)
	assert.ErrorContains(t, err, "missing.json")
}
