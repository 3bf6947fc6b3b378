package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/internal/session"
	"github.com/jwebster45206/crisis-engine/internal/stream"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

type gameFixture struct {
	handler  *GameHandler
	registry *session.Registry
	storage  *storage.MockStorage
	llm      *services.MockLLMAPI
}

func newGameFixture(t *testing.T) *gameFixture {
	t.Helper()
	st := presetStorage()
	llm := services.NewMockLLMWithReply(turnReply)
	registry := session.NewRegistry(st, nil, nil, session.Options{Debounce: time.Hour}, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		registry.Close(ctx)
	})
	controller := session.NewController(engine.New(llm, testLogger()), nil, testLogger())
	return &gameFixture{
		handler:  NewGameHandler(registry, controller, st, testLogger()),
		registry: registry,
		storage:  st,
		llm:      llm,
	}
}

// do sends one request as owner and returns the recorder.
func (f *gameFixture) do(t *testing.T, method, path, owner string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, asOwner(httptest.NewRequest(method, path, body), owner))
	return rr
}

func (f *gameFixture) post(t *testing.T, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, path, owner, strings.NewReader(body))
}

// playing creates a game for owner and drives it into play.
func (f *gameFixture) playing(t *testing.T, owner string) string {
	t.Helper()
	rr := f.post(t, "/v1/games", owner, `{"scenarioId":"strait"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decodeBody[GameView](t, rr).ID

	for _, step := range []struct{ path, body string }{
		{"/character", `{"actorId":"pm"}`},
		{"/milestone", `{}`},
		{"/goal", `{"type":"custom","description":"Keep the strait open"}`},
		{"/start", ``},
	} {
		rr := f.post(t, "/v1/games/"+id+step.path, owner, step.body)
		require.Equal(t, http.StatusOK, rr.Code, step.path+": "+rr.Body.String())
	}
	return id
}

func TestGameHandler_SetupFlow(t *testing.T) {
	f := newGameFixture(t)

	rr := f.post(t, "/v1/games", "", `{"scenarioId":"strait"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeBody[GameView](t, rr)
	assert.Equal(t, state.PhaseCharacterSelect, created.GameState.Phase)
	require.NotNil(t, created.GameState.Scenario)
	assert.Equal(t, "Strait Standoff", created.GameState.Scenario.Title)

	base := "/v1/games/" + created.ID
	rr = f.post(t, base+"/character", "", `{"actorId":"pm"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, state.PhaseMilestoneSelect, decodeBody[GameView](t, rr).GameState.Phase)

	rr = f.post(t, base+"/milestone", "", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.post(t, base+"/goal", "", `{"type":"suggested","description":"Keep the strait open"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.post(t, base+"/start", "", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	started := decodeBody[GameView](t, rr)
	assert.Equal(t, state.PhasePlaying, started.GameState.Phase)
	assert.Equal(t, 1, started.GameState.CurrentTurn)
	require.Len(t, started.GameState.Events, 1)
	assert.True(t, started.Status.Dirty)

	rr = f.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.ID, decodeBody[GameView](t, rr).ID)
}

func TestGameHandler_CreateWithInlineScenario(t *testing.T) {
	f := newGameFixture(t)

	body := `{"scenario":{"title":"Grain Corridor","timeframe":{"start":"2023-07"},"actors":[{"name":"Kyiv","type":"Country"},{"name":"Ankara","type":"nation"}]}}`
	rr := f.post(t, "/v1/games", "", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	gs := decodeBody[GameView](t, rr).GameState
	require.NotNil(t, gs.Scenario)
	assert.NotEmpty(t, gs.Scenario.ID)
	require.Len(t, gs.Scenario.Actors, 2)
	assert.Equal(t, "actor-0", gs.Scenario.Actors[0].ID)

	rr = f.post(t, "/v1/games", "", `{"scenario":{"title":"Thin","actors":[{"name":"Solo"}]}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 1, f.registry.Len())
}

func TestGameHandler_TransitionErrors(t *testing.T) {
	f := newGameFixture(t)
	rr := f.post(t, "/v1/games", "", `{"scenarioId":"strait"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	base := "/v1/games/" + decodeBody[GameView](t, rr).ID

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{name: "unknown actor", path: "/character", body: `{"actorId":"ghost"}`, expectedStatus: http.StatusBadRequest, expectedCode: "INVALID_INPUT"},
		{name: "start too early", path: "/start", expectedStatus: http.StatusConflict, expectedCode: "INVALID_TRANSITION"},
		{name: "end while in setup", path: "/end", expectedStatus: http.StatusConflict, expectedCode: "INVALID_TRANSITION"},
		{name: "second scenario", path: "/scenario", body: `{"scenarioId":"arctic"}`, expectedStatus: http.StatusConflict, expectedCode: "INVALID_TRANSITION"},
		{name: "unknown action", path: "/teleport", expectedStatus: http.StatusNotFound},
		{name: "action before play", path: "/action", body: `{"action":"Mobilise"}`, expectedStatus: http.StatusConflict, expectedCode: "INVALID_TRANSITION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.post(t, base+tt.path, "", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.expectedCode, decodeBody[ErrorResponse](t, rr).Code)
		})
	}
}

func TestGameHandler_UnknownPreset(t *testing.T) {
	f := newGameFixture(t)
	rr := f.post(t, "/v1/games", "", `{"scenarioId":"atlantis"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestGameHandler_Action(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")

	rr := f.post(t, "/v1/games/"+id+"/action", "", `{"action":"Open a hotline to the admiralty","actionType":"diplomatic"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[TurnResponse](t, rr)
	require.NotNil(t, resp.Simulation)
	assert.Len(t, resp.Simulation.Events, 2)
	gs := resp.Game.GameState
	assert.Equal(t, 2, gs.CurrentTurn)
	assert.Equal(t, "diplomatic", gs.SelectedActionType)
	assert.Equal(t, 40, gs.WorldState.CurrentTension())
	require.NotNil(t, gs.PlayerGoal)
	assert.Equal(t, 35, gs.PlayerGoal.Progress)
	assert.False(t, gs.IsProcessing)
}

func TestGameHandler_ActionFailureKeepsState(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")
	f.llm.SetError(errors.New("model unavailable"))

	rr := f.post(t, "/v1/games/"+id+"/action", "", `{"action":"Mobilise"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, engine.CodeSimulationFailed, decodeBody[ErrorResponse](t, rr).Code)

	rr = f.do(t, http.MethodGet, "/v1/games/"+id, "", nil)
	gs := decodeBody[GameView](t, rr).GameState
	assert.Equal(t, 1, gs.CurrentTurn)
	assert.Len(t, gs.Events, 1)
	assert.False(t, gs.IsProcessing)
}

func TestGameHandler_SkipStream(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/games/"+id+"/skip", nil)
	req.Header.Set("Accept", "text/event-stream")
	f.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	frames := parseFrames(t, rr.Body.String())
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, stream.EventComplete, last.Event)

	var resp state.SimulationResponse
	require.NoError(t, json.Unmarshal([]byte(last.Data), &resp))
	assert.Len(t, resp.Events, 2)

	g, err := f.registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Store.Snapshot().CurrentTurn)
}

func TestGameHandler_SkipStreamBeforePlayIsJSON(t *testing.T) {
	f := newGameFixture(t)
	rr := f.post(t, "/v1/games", "", ``)
	id := decodeBody[GameView](t, rr).ID

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/games/"+id+"/skip", nil)
	req.Header.Set("Accept", "text/event-stream")
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestGameHandler_SkipJSON(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")

	rr := f.post(t, "/v1/games/"+id+"/skip", "", ``)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeBody[TurnResponse](t, rr)
	assert.Equal(t, 2, resp.Game.GameState.CurrentTurn)
}

func TestGameHandler_ViewEndAndResets(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")
	base := "/v1/games/" + id

	rr := f.post(t, base+"/view", "", `{"viewMode":"map"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "map", decodeBody[GameView](t, rr).GameState.ViewMode)

	rr = f.post(t, base+"/reset-milestone", "", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	gs := decodeBody[GameView](t, rr).GameState
	assert.Equal(t, state.PhaseMilestoneSelect, gs.Phase)
	assert.Equal(t, "pm", gs.PlayerActorID)
	assert.Equal(t, "map", gs.ViewMode)

	rr = f.post(t, base+"/reset-setup", "", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	gs = decodeBody[GameView](t, rr).GameState
	assert.Equal(t, state.PhaseCharacterSelect, gs.Phase)
	assert.Empty(t, gs.PlayerActorID)

	rr = f.post(t, base+"/reset", "", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decodeBody[GameView](t, rr)
	assert.Equal(t, state.PhaseSetup, view.GameState.Phase)
	assert.Nil(t, view.GameState.Scenario)
	assert.False(t, view.Status.Dirty)

	id = f.playing(t, "")
	rr = f.post(t, "/v1/games/"+id+"/end", "", ``)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, state.PhaseEnded, decodeBody[GameView](t, rr).GameState.Phase)
}

func TestGameHandler_ResetsRefusedDuringTurn(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")
	g, err := f.registry.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, g.Store.TryStartProcessing())

	for _, action := range []string{"reset", "reset-setup", "reset-milestone"} {
		rr := f.post(t, "/v1/games/"+id+"/"+action, "", ``)
		assert.Equal(t, http.StatusConflict, rr.Code, action)
		assert.Equal(t, "PROCESSING", decodeBody[ErrorResponse](t, rr).Code, action)
	}
	gs := g.Store.Snapshot()
	assert.Equal(t, state.PhasePlaying, gs.Phase)
	assert.True(t, gs.IsProcessing)
}

func TestGameHandler_Ownership(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "owner-1")

	rr := f.do(t, http.MethodGet, "/v1/games/"+id, "owner-2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/games/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/games/"+id, "owner-1", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/games/missing", "owner-1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGameHandler_SaveAndLoad(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "owner-1")

	rr := f.post(t, "/v1/games/"+id+"/save", "owner-1", ``)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	saved := decodeBody[GameView](t, rr)
	require.NotEmpty(t, saved.Status.SessionID)
	assert.False(t, saved.Status.Dirty)
	assert.Equal(t, state.SyncSaved, saved.Status.SyncStatus)

	// Nothing changed, so a second save has nothing to do.
	rr = f.post(t, "/v1/games/"+id+"/save", "owner-1", ``)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "NOT_SAVEABLE", decodeBody[ErrorResponse](t, rr).Code)

	// A fresh game of the same owner picks the saved session up.
	other := f.post(t, "/v1/games", "owner-1", ``)
	otherID := decodeBody[GameView](t, other).ID
	rr = f.post(t, "/v1/games/"+otherID+"/load/"+saved.Status.SessionID, "owner-1", ``)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	loaded := decodeBody[GameView](t, rr)
	assert.Equal(t, state.PhasePlaying, loaded.GameState.Phase)
	assert.Equal(t, saved.Status.SessionID, loaded.Status.SessionID)
	assert.False(t, loaded.Status.Dirty)

	// Sessions of other owners stay hidden.
	stranger := decodeBody[GameView](t, f.post(t, "/v1/games", "owner-2", ``)).ID
	rr = f.post(t, "/v1/games/"+stranger+"/load/"+saved.Status.SessionID, "owner-2", ``)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	anon := decodeBody[GameView](t, f.post(t, "/v1/games", "", ``)).ID
	rr = f.post(t, "/v1/games/"+anon+"/load/"+saved.Status.SessionID, "", ``)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.post(t, "/v1/games/"+otherID+"/load/not-a-uuid", "owner-1", ``)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGameHandler_SaveRequiresOwner(t *testing.T) {
	f := newGameFixture(t)
	id := f.playing(t, "")

	rr := f.post(t, "/v1/games/"+id+"/save", "", ``)
	assert.Equal(t, http.StatusConflict, rr.Code)
	creates, _ := f.storage.Calls()
	assert.Equal(t, 0, creates)
}

func TestGameHandler_Delete(t *testing.T) {
	f := newGameFixture(t)
	id := decodeBody[GameView](t, f.post(t, "/v1/games", "", ``)).ID

	rr := f.do(t, http.MethodDelete, "/v1/games/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, f.registry.Len())

	rr = f.do(t, http.MethodGet, "/v1/games/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPut, "/v1/games/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
