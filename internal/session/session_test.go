package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/crisis-engine/internal/engine"
	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/internal/services/events"
	"github.com/jwebster45206/crisis-engine/pkg/chat"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

const turnReply = `{
  "events": [
    {"actorId": "navy", "type": "reaction", "content": "The navy pulls two frigates back from the strait."}
  ],
  "worldStateUpdate": {"tensionLevel": -10},
  "goalProgressUpdate": {"progress": 35, "evaluation": "A first sign of restraint."}
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:    "strait",
		Title: "Strait Standoff",
		Actors: []scenario.Actor{
			{ID: "pm", Name: "Prime Minister", Type: scenario.ActorTypeLeader},
			{ID: "navy", Name: "Neighbouring Navy", Type: scenario.ActorTypeOrganization},
		},
	}
}

// startGame drives a store through setup into play.
func startGame(t *testing.T, s *state.Store) {
	t.Helper()
	require.NoError(t, s.SetScenario(testScenario()))
	require.NoError(t, s.SelectCharacter("pm"))
	require.NoError(t, s.SelectMilestone(""))
	require.NoError(t, s.SetPlayerGoal(state.PlayerGoal{Description: "Keep the strait open"}))
	require.NoError(t, s.StartGame())
}

func newPlayingGame(t *testing.T, ownerID string) *Game {
	t.Helper()
	g := &Game{ID: "game-1", OwnerID: ownerID, Store: state.NewStore()}
	startGame(t, g.Store)
	return g
}

func newController(llm services.LLMService, b *events.Broadcaster) *Controller {
	return NewController(engine.New(llm, testLogger()), b, testLogger())
}

func TestController_Act(t *testing.T) {
	g := newPlayingGame(t, "")
	c := newController(services.NewMockLLMWithReply(turnReply), nil)

	resp, err := c.Act(context.Background(), g, "Open a hotline to the admiralty")
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, 1, resp.Events[0].Turn)

	gs := g.Store.Snapshot()
	assert.Equal(t, 2, gs.CurrentTurn)
	assert.Len(t, gs.Events, 2)
	assert.Equal(t, 40, gs.WorldState.TensionLevel)
	assert.Equal(t, 35, gs.PlayerGoal.Progress)
	assert.False(t, gs.IsProcessing)
	assert.True(t, g.Store.Status().Dirty)
}

func TestController_FailureLeavesStateUntouched(t *testing.T) {
	g := newPlayingGame(t, "")
	llm := services.NewMockLLMAPI()
	llm.SetError(errors.New("upstream unavailable"))
	c := newController(llm, nil)

	before := g.Store.Snapshot()
	_, err := c.Act(context.Background(), g, "Recall the ambassador")
	require.Error(t, err)

	var eerr *engine.Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, engine.KindUpstream, eerr.Kind)

	after := g.Store.Snapshot()
	assert.Equal(t, before.CurrentTurn, after.CurrentTurn)
	assert.Len(t, after.Events, len(before.Events))
	assert.Equal(t, before.WorldState.TensionLevel, after.WorldState.TensionLevel)
	assert.False(t, after.IsProcessing)
}

func TestController_Busy(t *testing.T) {
	g := newPlayingGame(t, "")
	c := newController(services.NewMockLLMWithReply(turnReply), nil)

	require.True(t, g.Store.TryStartProcessing())
	assert.ErrorIs(t, c.Ready(g), ErrBusy)
	_, err := c.Skip(context.Background(), g)
	assert.ErrorIs(t, err, ErrBusy)

	g.Store.SetProcessing(false)
	assert.NoError(t, c.Ready(g))
}

func TestController_ResetRefusedDuringTurn(t *testing.T) {
	g := newPlayingGame(t, "")
	release := make(chan struct{})
	llm := services.NewMockLLMAPI()
	llm.ChatFunc = func(ctx context.Context, _ []chat.ChatMessage) (*chat.ChatResponse, error) {
		<-release
		return &chat.ChatResponse{Message: turnReply}, nil
	}
	c := newController(llm, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Act(context.Background(), g, "Hold the line")
		done <- err
	}()
	require.Eventually(t, func() bool { return g.Store.Snapshot().IsProcessing }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, g.Store.ResetToSetup(), ErrBusy)
	assert.ErrorIs(t, g.Store.ResetToMilestone(), ErrBusy)
	assert.ErrorIs(t, g.Store.ResetGame(), ErrBusy)
	_, err := c.Skip(context.Background(), g)
	assert.ErrorIs(t, err, ErrBusy, "a second turn cannot start alongside the first")

	close(release)
	require.NoError(t, <-done)

	gs := g.Store.Snapshot()
	assert.Equal(t, state.PhasePlaying, gs.Phase)
	assert.Equal(t, 2, gs.CurrentTurn)
	assert.False(t, gs.IsProcessing)
	require.NoError(t, g.Store.ResetToMilestone(), "resets work once the turn is done")
}

func TestController_RequiresPlaying(t *testing.T) {
	g := &Game{ID: "game-1", Store: state.NewStore()}
	c := newController(services.NewMockLLMWithReply(turnReply), nil)

	assert.ErrorIs(t, c.Ready(g), state.ErrInvalidTransition)
	_, err := c.Act(context.Background(), g, "Mobilise")
	assert.ErrorIs(t, err, state.ErrInvalidTransition)
	assert.False(t, g.Store.Snapshot().IsProcessing)
}

func TestController_SkipStream(t *testing.T) {
	g := newPlayingGame(t, "")
	c := newController(services.NewMockLLMWithReply(turnReply), nil)

	chunks := 0
	resp, err := c.SkipStream(context.Background(), g, func(int, string) { chunks++ })
	require.NoError(t, err)
	assert.Greater(t, chunks, 1)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, state.EventTypeReaction, resp.Events[0].Type)
	assert.Equal(t, 2, g.Store.Snapshot().CurrentTurn)
}

func TestController_PublishesTurnEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g := newPlayingGame(t, "")
	sub := client.Subscribe(ctx, events.Channel(g.ID))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	c := newController(services.NewMockLLMWithReply(turnReply), events.NewBroadcaster(client, testLogger()))
	_, err = c.Act(ctx, g, "Propose joint patrols")
	require.NoError(t, err)

	var got []events.EventType
	for len(got) < 2 {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		got = append(got, ev.Type)
	}
	assert.Equal(t, []events.EventType{events.EventTypeTurnStarted, events.EventTypeTurnCompleted}, got)
}

func newSaver(g *Game, st storage.Storage, debounce, errorClear time.Duration) *AutoSaver {
	return NewAutoSaver(g, st, nil, debounce, errorClear, testLogger())
}

func TestAutoSaver_CreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMockStorage()
	g := newPlayingGame(t, "owner-1")
	saver := newSaver(g, st, time.Hour, time.Hour)

	require.NoError(t, saver.SaveNow(ctx))
	status := g.Store.Status()
	require.NotEmpty(t, status.SessionID)
	assert.False(t, status.Dirty)
	assert.Equal(t, state.SyncSaved, status.SyncStatus)
	assert.False(t, status.LastSavedAt.IsZero())

	sess, err := st.GetSession(ctx, uuid.MustParse(status.SessionID))
	require.NoError(t, err)
	assert.Equal(t, "owner-1", sess.OwnerID)
	assert.Equal(t, "Strait Standoff", sess.Title)

	g.Store.IncrementTurn()
	require.NoError(t, saver.SaveNow(ctx))
	assert.Equal(t, status.SessionID, g.Store.Status().SessionID)

	creates, updates := st.Calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)

	sess, err = st.GetSession(ctx, uuid.MustParse(status.SessionID))
	require.NoError(t, err)
	assert.Equal(t, 2, sess.GameState.CurrentTurn)
}

func TestAutoSaver_Eligibility(t *testing.T) {
	st := storage.NewMockStorage()

	anonymous := newPlayingGame(t, "")
	assert.ErrorIs(t, newSaver(anonymous, st, time.Hour, time.Hour).SaveNow(context.Background()), ErrNotEligible)

	setup := &Game{ID: "g2", OwnerID: "owner-1", Store: state.NewStore()}
	require.NoError(t, setup.Store.SetScenario(testScenario()))
	assert.ErrorIs(t, newSaver(setup, st, time.Hour, time.Hour).SaveNow(context.Background()), ErrNotEligible)

	clean := newPlayingGame(t, "owner-1")
	saver := newSaver(clean, st, time.Hour, time.Hour)
	require.NoError(t, saver.SaveNow(context.Background()))
	assert.ErrorIs(t, saver.SaveNow(context.Background()), ErrNotEligible)

	creates, updates := st.Calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
}

func TestAutoSaver_SingleFlight(t *testing.T) {
	st := storage.NewMockStorage()
	g := newPlayingGame(t, "owner-1")
	saver := newSaver(g, st, time.Hour, time.Hour)

	saver.saving.Store(true)
	assert.ErrorIs(t, saver.SaveNow(context.Background()), ErrSaveInFlight)
	creates, _ := st.Calls()
	assert.Equal(t, 0, creates)
	assert.True(t, g.Store.Status().Dirty)
}

func TestAutoSaver_RearmSurvivesPendingWake(t *testing.T) {
	g := newPlayingGame(t, "owner-1")
	saver := newSaver(g, storage.NewMockStorage(), time.Hour, time.Hour)
	require.True(t, g.Store.Status().Dirty)

	// A skipped save wakes Run first, then a save that left changes behind
	// finishes before Run gets to the wake.
	saver.finish(ErrSaveInFlight)
	saver.finish(nil)

	select {
	case <-saver.wake:
	default:
		t.Fatal("expected a pending wake")
	}
	assert.True(t, saver.takeRearm(), "the rearm request is not lost")
	assert.False(t, saver.takeRearm(), "rearm requests coalesce")

	saver.finish(errors.New("connection refused"))
	assert.False(t, saver.takeRearm(), "a failed save waits for the next change")
}

func TestAutoSaver_FailureSetsTransientError(t *testing.T) {
	st := storage.NewMockStorage()
	st.SetErrors(errors.New("connection refused"), nil)
	g := newPlayingGame(t, "owner-1")
	saver := newSaver(g, st, time.Hour, 30*time.Millisecond)

	err := saver.SaveNow(context.Background())
	require.Error(t, err)

	status := g.Store.Status()
	assert.True(t, status.Dirty)
	assert.Equal(t, state.SyncError, status.SyncStatus)
	assert.Empty(t, status.SessionID)

	assert.Eventually(t, func() bool {
		return g.Store.Status().SyncStatus == state.SyncIdle
	}, time.Second, 10*time.Millisecond)
}

func TestAutoSaver_RecreatesMissingSession(t *testing.T) {
	st := storage.NewMockStorage()
	g := newPlayingGame(t, "owner-1")
	stale := uuid.NewString()
	g.Store.SetSessionID(stale)

	require.NoError(t, newSaver(g, st, time.Hour, time.Hour).SaveNow(context.Background()))

	creates, updates := st.Calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	assert.NotEqual(t, stale, g.Store.Status().SessionID)
}

func TestAutoSaver_RunDebounces(t *testing.T) {
	st := storage.NewMockStorage()
	g := newPlayingGame(t, "owner-1")
	saver := newSaver(g, st, 50*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		saver.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	for i := 0; i < 5; i++ {
		g.Store.SetSelectedActionType("diplomatic")
		g.Store.IncrementTurn()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		creates, _ := st.Calls()
		return creates == 1 && !g.Store.Status().Dirty
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	creates, updates := st.Calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, updates)
}

func newTestRegistry(t *testing.T, st storage.Storage, cache services.Cache, debounce time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(st, cache, nil, Options{Debounce: debounce, ErrorClear: time.Hour}, testLogger())
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(t, storage.NewMockStorage(), services.NewMockCache(), time.Hour)

	g := r.Create("owner-1")
	assert.Equal(t, state.PhaseSetup, g.Store.Snapshot().Phase)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Same(t, g, got)
	assert.True(t, got.OwnedBy("owner-1"))
	assert.False(t, got.OwnedBy("owner-2"))

	_, err = r.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestRegistry_RestoresFromMirror(t *testing.T) {
	ctx := context.Background()
	cache := services.NewMockCache()
	st := storage.NewMockStorage()

	first := newTestRegistry(t, st, cache, time.Hour)
	g := first.Create("owner-1")
	startGame(t, g.Store)
	g.Store.SetProcessing(true)

	assert.Eventually(t, func() bool {
		var rec mirrorRecord
		ok, err := services.GetJSON(ctx, cache, MirrorKey(g.ID), &rec)
		return err == nil && ok && rec.State.Phase == state.PhasePlaying
	}, 2*time.Second, 10*time.Millisecond)

	second := newTestRegistry(t, st, cache, time.Hour)
	restored, err := second.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.NotSame(t, g, restored)
	assert.Equal(t, "owner-1", restored.OwnerID)

	gs := restored.Store.Snapshot()
	assert.Equal(t, state.PhasePlaying, gs.Phase)
	assert.Equal(t, 1, gs.CurrentTurn)
	assert.Equal(t, "pm", gs.PlayerActorID)
	assert.False(t, gs.IsProcessing)
	assert.False(t, restored.Store.Status().Dirty)
}

func TestRegistry_PublishesStateUpdates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := NewRegistry(storage.NewMockStorage(), nil, events.NewBroadcaster(client, testLogger()), Options{Debounce: time.Hour}, testLogger())
	t.Cleanup(func() { r.Close(context.Background()) })

	g := r.Create("")
	sub := client.Subscribe(ctx, events.Channel(g.ID))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	startGame(t, g.Store)

	// Changes coalesce, so read until the last one lands.
	for {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		require.Equal(t, events.EventTypeGameStateUpdated, ev.Type)
		assert.Equal(t, g.ID, ev.GameID)
		if ev.Data["phase"] == string(state.PhasePlaying) {
			assert.Equal(t, 1, ev.Turn)
			assert.Equal(t, float64(g.Store.Status().Version), ev.Data["version"])
			return
		}
	}
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMockStorage()
	r := newTestRegistry(t, st, nil, time.Hour)

	saved := state.NewGameState()
	saved.Scenario = testScenario()
	saved.PlayerActorID = "pm"
	saved.Phase = state.PhasePlaying
	saved.CurrentTurn = 7
	saved.IsProcessing = true
	id, err := st.CreateSession(ctx, "owner-1", "Week two", &saved)
	require.NoError(t, err)

	g := r.Create("owner-1")
	require.NoError(t, r.Load(ctx, g, id, "owner-1"))
	gs := g.Store.Snapshot()
	assert.Equal(t, 7, gs.CurrentTurn)
	assert.False(t, gs.IsProcessing)
	assert.Equal(t, id.String(), g.Store.Status().SessionID)
	assert.False(t, g.Store.Status().Dirty)

	other := r.Create("owner-2")
	assert.ErrorIs(t, r.Load(ctx, other, id, "owner-2"), ErrForbidden)
	assert.ErrorIs(t, r.Load(ctx, other, id, "owner-1"), ErrForbidden)
	assert.ErrorIs(t, r.Load(ctx, r.Create(""), id, ""), ErrForbidden)
	assert.ErrorIs(t, r.Load(ctx, g, uuid.New(), "owner-1"), storage.ErrNotFound)
}

func TestRegistry_RemoveDropsMirror(t *testing.T) {
	ctx := context.Background()
	cache := services.NewMockCache()
	r := newTestRegistry(t, storage.NewMockStorage(), cache, time.Hour)

	g := r.Create("")
	r.Remove(ctx, g.ID)
	assert.Equal(t, 0, r.Len())

	ok, err := cache.Exists(ctx, MirrorKey(g.ID))
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = r.Get(ctx, g.ID)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestRegistry_CloseFlushesUnsavedGames(t *testing.T) {
	st := storage.NewMockStorage()
	r := NewRegistry(st, nil, nil, Options{Debounce: time.Hour}, testLogger())

	g := r.Create("owner-1")
	startGame(t, g.Store)
	r.Create("")

	r.Close(context.Background())

	creates, _ := st.Calls()
	assert.Equal(t, 1, creates)
	assert.False(t, g.Store.Status().Dirty)
}
