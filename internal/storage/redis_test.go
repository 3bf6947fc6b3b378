package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
	"github.com/jwebster45206/crisis-engine/pkg/storage"
)

const straitPreset = `
title: Strait Standoff
description: Naval incident escalates between two neighbours.
region: East Asia
timeframe:
  start: "2024-03"
actors:
  - id: north
    name: Northern Republic
    type: Nation
    objectives: Secure the shipping lane
    relationships:
      south: enemy
    resources:
      military: 70
  - id: south
    name: Southern Federation
    type: country
    objectives:
      - Avoid war
      - Keep trade open
milestones:
  - title: Collision at sea
    date: "2024-03-02"
    significance: Major
    involved_actors: [north, south]
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writePreset(t *testing.T, dir, name, body string) {
	t.Helper()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, name), []byte(body), 0o644))
}

func setupRedisStorage(t *testing.T, ttl time.Duration) (*RedisStorage, *miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	dataDir := t.TempDir()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisStorageWithClient(client, dataDir, ttl, testLogger())
	t.Cleanup(func() { _ = rs.Close() })
	return rs, mr, dataDir
}

func playingState(turn int) *state.GameState {
	gs := state.NewGameState()
	gs.Scenario = &scenario.Scenario{ID: "strait", Title: "Strait Standoff"}
	gs.Phase = state.PhasePlaying
	gs.CurrentTurn = turn
	return &gs
}

func TestRedisStorage_SessionLifecycle(t *testing.T) {
	rs, _, _ := setupRedisStorage(t, 0)
	ctx := context.Background()

	require.NoError(t, rs.Ping(ctx))

	id, err := rs.CreateSession(ctx, "owner-1", "My game", playingState(1))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	s, err := rs.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", s.OwnerID)
	assert.Equal(t, "My game", s.Title)
	assert.Equal(t, 1, s.GameState.CurrentTurn)

	require.NoError(t, rs.UpdateSession(ctx, id, playingState(2), nil))
	s, err = rs.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "My game", s.Title)
	assert.Equal(t, 2, s.GameState.CurrentTurn)

	title := "Renamed"
	require.NoError(t, rs.UpdateSession(ctx, id, playingState(3), &title))
	s, err = rs.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", s.Title)

	require.NoError(t, rs.DeleteSession(ctx, id))
	_, err = rs.GetSession(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, rs.DeleteSession(ctx, id), storage.ErrNotFound)
	assert.ErrorIs(t, rs.UpdateSession(ctx, id, playingState(4), nil), storage.ErrNotFound)
}

func TestRedisStorage_GetSessionsOrderedByUpdate(t *testing.T) {
	rs, _, _ := setupRedisStorage(t, 0)
	ctx := context.Background()

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rs.now = func() time.Time { return clock }

	first, err := rs.CreateSession(ctx, "owner-1", "First", playingState(1))
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := rs.CreateSession(ctx, "owner-1", "Second", playingState(1))
	require.NoError(t, err)
	_, err = rs.CreateSession(ctx, "owner-2", "Other", playingState(1))
	require.NoError(t, err)

	list, err := rs.GetSessions(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
	assert.Equal(t, "Strait Standoff", list[0].ScenarioTitle)
	assert.Equal(t, state.PhasePlaying, list[0].Phase)

	clock = clock.Add(time.Minute)
	require.NoError(t, rs.UpdateSession(ctx, first, playingState(5), nil))
	list, err = rs.GetSessions(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID, "updated session moves to the front")
	assert.Equal(t, 5, list[0].CurrentTurn)

	empty, err := rs.GetSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRedisStorage_ExpiredSessionsArePruned(t *testing.T) {
	rs, mr, _ := setupRedisStorage(t, time.Hour)
	ctx := context.Background()

	id, err := rs.CreateSession(ctx, "owner-1", "Short lived", playingState(1))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(sessionPrefix+id.String()))

	mr.FastForward(2 * time.Hour)

	list, err := rs.GetSessions(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	members, err := mr.ZMembers(ownerSessionPrefix + "owner-1")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRedisStorage_ShareLinks(t *testing.T) {
	rs, _, _ := setupRedisStorage(t, 0)
	ctx := context.Background()

	id, err := rs.CreateSession(ctx, "owner-1", "Shared", playingState(2))
	require.NoError(t, err)
	before, err := rs.GetSession(ctx, id)
	require.NoError(t, err)

	token, err := rs.CreateShareLink(ctx, id)
	require.NoError(t, err)
	assert.Len(t, token, 32)

	again, err := rs.CreateShareLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	after, err := rs.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, token, after.ShareToken)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "sharing does not touch updatedAt")

	shared, err := rs.GetSharedSessionByToken(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, shared)
	assert.Equal(t, id, shared.SessionID)
	assert.Equal(t, 2, shared.GameState.CurrentTurn)

	unknown, err := rs.GetSharedSessionByToken(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	require.NoError(t, rs.DeleteSession(ctx, id))
	gone, err := rs.GetSharedSessionByToken(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = rs.CreateShareLink(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRedisStorage_Presets(t *testing.T) {
	rs, _, dataDir := setupRedisStorage(t, 0)
	writePreset(t, dataDir, "strait.yaml", straitPreset)
	writePreset(t, dataDir, "broken.yaml", "title: [unclosed")
	writePreset(t, dataDir, "invalid.yaml", "title: Lonely\ntimeframe:\n  start: now\nactors:\n  - name: One\n")
	writePreset(t, dataDir, "notes.txt", "ignored")
	ctx := context.Background()

	list, err := rs.ListScenarios(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "strait", list[0].ID)
	assert.Equal(t, "Strait Standoff", list[0].Title)
	assert.Equal(t, 2, list[0].ActorCount)

	sc, err := rs.GetScenario(ctx, "strait")
	require.NoError(t, err)
	require.Len(t, sc.Actors, 2)
	assert.Equal(t, scenario.ActorTypeCountry, sc.Actors[0].Type)
	assert.Equal(t, scenario.TextList{"Secure the shipping lane"}, sc.Actors[0].Objectives)
	assert.Equal(t, scenario.Palette[1], sc.Actors[1].Color)
	require.Len(t, sc.Milestones, 1)
	assert.Equal(t, "milestone-0", sc.Milestones[0].ID)
	assert.Equal(t, scenario.SignificanceMajor, sc.Milestones[0].Significance)

	sc.Actors[0].Name = "mutated"
	fresh, err := rs.GetScenario(ctx, "strait")
	require.NoError(t, err)
	assert.Equal(t, "Northern Republic", fresh.Actors[0].Name)

	_, err = rs.GetScenario(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPresets_MissingDirectory(t *testing.T) {
	p := NewPresets(filepath.Join(t.TempDir(), "nope"), testLogger())
	list, err := p.ListScenarios(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoadScenarioFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"Summit","keyIssues":"Trade"}`), 0o644))

	sc, err := LoadScenarioFile(path)
	require.NoError(t, err)
	assert.Equal(t, "summit", sc.ID)
	assert.Equal(t, scenario.TextList{"Trade"}, sc.KeyIssues)

	_, err = LoadScenarioFile(filepath.Join(dir, "x.toml"))
	assert.Error(t, err)
}

func TestPresets_ShippedScenarios(t *testing.T) {
	p := NewPresets(filepath.Join("..", "..", "data"), testLogger())
	list, err := p.ListScenarios(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"strait_standoff", "river_water_crisis"}, ids)

	sc, err := p.GetScenario(context.Background(), "strait_standoff")
	require.NoError(t, err)
	require.NotNil(t, sc.FindMilestone("cutter_collision"))
	navy := sc.FindActor("pacific_fleet")
	require.NotNil(t, navy)
	assert.Equal(t, scenario.RelationshipAlly, navy.Relationships["island_government"])
	for _, a := range sc.Actors {
		assert.NotEmpty(t, a.Color, a.ID)
	}
}
