package engine

import (
	"math"
	"strings"

	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// RelativeTensionLimit is the largest magnitude read as a delta. Larger
// values replace the current tension outright.
const RelativeTensionLimit = 20

// ResolveTension applies a reported tension value to the current level.
// Models are inconsistent about sending deltas or levels, so small values are
// taken as deltas. The result is always within 0..100.
func ResolveTension(current int, reported float64) int {
	if math.IsNaN(reported) {
		return state.ClampPercent(current)
	}
	v := math.Round(reported)
	if v >= -RelativeTensionLimit && v <= RelativeTensionLimit {
		return state.ClampPercent(current + int(v))
	}
	return scenario.RoundPercent(v)
}

// reconcile stamps and clamps a decoded reply against the state it was
// produced for. gs is not modified.
func (e *Engine) reconcile(gs *state.GameState, sim *Simulation, skip bool) *state.SimulationResponse {
	defaultType := state.EventTypeReaction
	if skip {
		defaultType = state.EventTypeAutonomous
	}

	now := e.now()
	resp := &state.SimulationResponse{
		Events:    make([]state.GameEvent, 0, len(sim.Events)),
		Narrative: strings.TrimSpace(sim.Narrative),
	}

	for _, p := range sim.Events {
		if skip && gs.PlayerActorID != "" && p.ActorID == gs.PlayerActorID {
			e.logger.Debug("Dropping player event from skip turn", "actor_id", p.ActorID)
			continue
		}
		ev := state.GameEvent{
			ID:        e.newID(),
			Timestamp: now,
			Turn:      gs.CurrentTurn,
			Type:      eventType(p.Type, defaultType),
			ActorID:   p.ActorID,
			ActorName: p.ActorName,
			Content:   p.Content,
			Sentiment: sentiment(p.Sentiment),
			MediaType: p.MediaType,
			Media:     p.Media,
			Impact:    p.Impact,
		}
		if ev.ActorName == "" {
			if a := gs.Scenario.FindActor(ev.ActorID); a != nil {
				ev.ActorName = a.Name
			}
		}
		resp.Events = append(resp.Events, ev)
	}

	if sim.WorldStateUpdate != nil {
		u := sim.WorldStateUpdate.WorldStateUpdate
		if sim.WorldStateUpdate.TensionLevel != nil {
			t := ResolveTension(gs.WorldState.CurrentTension(), *sim.WorldStateUpdate.TensionLevel)
			u.TensionLevel = &t
		}
		resp.WorldStateUpdate = &u
	}

	if g := sim.GoalProgressUpdate; g != nil && g.Progress != nil {
		resp.GoalProgressUpdate = &state.GoalProgressUpdate{
			Progress:   scenario.RoundPercent(*g.Progress),
			Evaluation: strings.TrimSpace(g.Evaluation),
		}
	}

	for _, u := range sim.ActorUpdates {
		if gs.Scenario.FindActor(u.ActorID) == nil {
			continue
		}
		resp.ActorUpdates = append(resp.ActorUpdates, u)
	}

	return resp
}

func eventType(t string, fallback state.EventType) state.EventType {
	switch v := state.EventType(strings.ToLower(strings.TrimSpace(t))); v {
	case state.EventTypeAction, state.EventTypeReaction, state.EventTypeAutonomous, state.EventTypeNews, state.EventTypeSystem:
		return v
	default:
		return fallback
	}
}

func sentiment(s string) state.Sentiment {
	switch v := state.Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case state.SentimentPositive, state.SentimentNegative, state.SentimentNeutral:
		return v
	default:
		return state.SentimentNeutral
	}
}
