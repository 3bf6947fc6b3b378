package state

import (
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

// PersistNamespace is the fixed key prefix of local snapshots.
const PersistNamespace = "geopolitical-game-storage"

// Persisted is the subset of a store that survives a restart. Transient
// fields (processing, dirty, selected action type) are left out.
type Persisted struct {
	Scenario            *scenario.Scenario `json:"scenario,omitempty"`
	PlayerActorID       string             `json:"playerActorId,omitempty"`
	StartingMilestoneID string             `json:"startingMilestoneId,omitempty"`
	PlayerGoal          *PlayerGoal        `json:"playerGoal,omitempty"`
	Events              []GameEvent        `json:"events"`
	WorldState          WorldState         `json:"worldState"`
	CurrentTurn         int                `json:"currentTurn"`
	Phase               Phase              `json:"phase"`
	ViewMode            string             `json:"viewMode,omitempty"`
	SessionID           string             `json:"sessionId,omitempty"`
}

// GameState expands the snapshot back into a full state.
func (p Persisted) GameState() GameState {
	return GameState{
		Scenario:            p.Scenario,
		PlayerActorID:       p.PlayerActorID,
		StartingMilestoneID: p.StartingMilestoneID,
		PlayerGoal:          p.PlayerGoal,
		CurrentTurn:         p.CurrentTurn,
		Events:              p.Events,
		WorldState:          p.WorldState,
		Phase:               p.Phase,
		ViewMode:            p.ViewMode,
	}
}

// Persisted returns the partialized snapshot of the store.
func (s *Store) Persisted() Persisted {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gs := s.gs.Clone()
	return Persisted{
		Scenario:            gs.Scenario,
		PlayerActorID:       gs.PlayerActorID,
		StartingMilestoneID: gs.StartingMilestoneID,
		PlayerGoal:          gs.PlayerGoal,
		Events:              gs.Events,
		WorldState:          gs.WorldState,
		CurrentTurn:         gs.CurrentTurn,
		Phase:               gs.Phase,
		ViewMode:            gs.ViewMode,
		SessionID:           s.sessionID,
	}
}

// Restore loads a local snapshot the same way a remote one is loaded.
func (s *Store) Restore(p Persisted) {
	s.LoadFromCloud(p.GameState(), p.SessionID)
}
