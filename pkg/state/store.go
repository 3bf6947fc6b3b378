package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrMissingScenario   = errors.New("scenario is required")
	ErrUnknownActor      = errors.New("unknown actor")
	ErrUnknownMilestone  = errors.New("unknown milestone")

	// ErrProcessing is returned by resets while a turn is in flight.
	ErrProcessing = errors.New("a turn is already being processed")
)

// SyncStatus reports the state of the last remote save.
type SyncStatus string

const (
	SyncIdle   SyncStatus = "idle"
	SyncSaving SyncStatus = "saving"
	SyncSaved  SyncStatus = "saved"
	SyncError  SyncStatus = "error"
)

// Status is the bookkeeping kept alongside the game state.
type Status struct {
	Dirty       bool       `json:"isDirty"`
	Version     uint64     `json:"version"`
	SessionID   string     `json:"sessionId,omitempty"`
	SyncStatus  SyncStatus `json:"syncStatus"`
	LastSavedAt time.Time  `json:"lastSavedAt,omitempty"`
}

// Store is the authoritative state machine for one game. Every mutating
// action sets the dirty flag and bumps the version; only MarkSaved clears
// the flag.
type Store struct {
	mu          sync.RWMutex
	gs          GameState
	dirty       bool
	version     uint64
	sessionID   string
	syncStatus  SyncStatus
	lastSavedAt time.Time
	changes     chan struct{}

	now   func() time.Time
	newID func() string
}

// NewStore returns a store in the setup phase.
func NewStore() *Store {
	return &Store{
		gs:         NewGameState(),
		syncStatus: SyncIdle,
		changes:    make(chan struct{}, 1),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Changes signals after every mutation. Signals coalesce: a reader that
// falls behind sees one pending signal, not one per mutation.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// touch must be called with mu held.
func (s *Store) touch() {
	s.dirty = true
	s.version++
	s.notify()
}

func (s *Store) requirePhase(want Phase, action string) error {
	if s.gs.Phase != want {
		return fmt.Errorf("%w: %s requires phase %q, current phase is %q", ErrInvalidTransition, action, want, s.gs.Phase)
	}
	return nil
}

// SetScenario installs the scenario and moves to character selection.
func (s *Store) SetScenario(sc *scenario.Scenario) error {
	if sc == nil {
		return ErrMissingScenario
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhaseSetup, "setScenario"); err != nil {
		return err
	}
	s.gs.Scenario = sc.Clone()
	for i := range s.gs.Scenario.Actors {
		s.gs.Scenario.Actors[i].IsPlayer = false
	}
	s.gs.Phase = PhaseCharacterSelect
	s.touch()
	return nil
}

// SelectCharacter marks exactly one actor as the player's.
func (s *Store) SelectCharacter(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhaseCharacterSelect, "selectCharacter"); err != nil {
		return err
	}
	if s.gs.Scenario.FindActor(actorID) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownActor, actorID)
	}
	for i := range s.gs.Scenario.Actors {
		s.gs.Scenario.Actors[i].IsPlayer = s.gs.Scenario.Actors[i].ID == actorID
	}
	s.gs.PlayerActorID = actorID
	s.gs.Phase = PhaseMilestoneSelect
	s.touch()
	return nil
}

// SelectMilestone records the starting point. An empty id starts without a
// milestone.
func (s *Store) SelectMilestone(milestoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhaseMilestoneSelect, "selectMilestone"); err != nil {
		return err
	}
	if milestoneID != "" && s.gs.Scenario.FindMilestone(milestoneID) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMilestone, milestoneID)
	}
	s.gs.StartingMilestoneID = milestoneID
	s.gs.Phase = PhaseGoalSelect
	s.touch()
	return nil
}

// SetPlayerGoal sets the goal during goal selection. It may be called more
// than once before the game starts.
func (s *Store) SetPlayerGoal(goal PlayerGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhaseGoalSelect, "setPlayerGoal"); err != nil {
		return err
	}
	if goal.Type == "" {
		goal.Type = GoalTypeCustom
	}
	goal.Progress = ClampPercent(goal.Progress)
	s.gs.PlayerGoal = &goal
	s.touch()
	return nil
}

// StartGame seeds turn 1 with a single opening system event.
func (s *Store) StartGame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhaseGoalSelect, "startGame"); err != nil {
		return err
	}
	s.gs.CurrentTurn = 1
	s.gs.Events = []GameEvent{{
		ID:        s.newID(),
		Timestamp: s.now(),
		Turn:      1,
		Type:      EventTypeSystem,
		ActorID:   "system",
		ActorName: "System",
		Content:   s.openingLine(),
		Sentiment: SentimentNeutral,
	}}
	s.gs.Phase = PhasePlaying
	s.touch()
	return nil
}

func (s *Store) openingLine() string {
	var b strings.Builder
	if m := s.gs.Scenario.FindMilestone(s.gs.StartingMilestoneID); m != nil {
		fmt.Fprintf(&b, "The simulation begins at %q", m.Title)
		if m.Date != "" {
			fmt.Fprintf(&b, " (%s)", m.Date)
		}
		b.WriteString(".")
		if m.Description != "" {
			b.WriteString(" ")
			b.WriteString(m.Description)
		}
	} else {
		b.WriteString("The simulation begins. The world is watching.")
	}
	if s.gs.PlayerGoal != nil && s.gs.PlayerGoal.Description != "" {
		b.WriteString(" Your goal: ")
		b.WriteString(s.gs.PlayerGoal.Description)
	}
	return b.String()
}

// AddEvents appends events in order. The log is never rewritten.
func (s *Store) AddEvents(events ...GameEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs.Events = append(s.gs.Events, events...)
	s.touch()
}

// UpdateWorldState shallow-merges u into the world state.
func (s *Store) UpdateWorldState(u WorldStateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs.WorldState.Apply(u)
	s.touch()
}

// UpdateGoalProgress replaces the goal's progress. Without a goal it does
// nothing.
func (s *Store) UpdateGoalProgress(u GoalProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.applyGoal(u) {
		return
	}
	s.touch()
}

func (s *Store) applyGoal(u GoalProgressUpdate) bool {
	if s.gs.PlayerGoal == nil {
		return false
	}
	s.gs.PlayerGoal.Progress = ClampPercent(u.Progress)
	if u.Evaluation != "" {
		s.gs.PlayerGoal.LastEvaluation = u.Evaluation
	}
	s.gs.PlayerGoal.LastEvaluatedTurn = s.gs.CurrentTurn
	return true
}

// UpdateActor merges resource changes into one actor.
func (s *Store) UpdateActor(u ActorUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.gs.Scenario.FindActor(u.ActorID)
	if a == nil {
		return fmt.Errorf("%w: %q", ErrUnknownActor, u.ActorID)
	}
	a.Resources.Merge(u.Resources)
	s.touch()
	return nil
}

// IncrementTurn advances the turn counter by exactly one.
func (s *Store) IncrementTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs.CurrentTurn++
	s.touch()
}

// ApplySimulation commits a reconciled turn result in one step: events,
// world state, goal progress and actor resources. Actor updates naming an
// unknown actor are skipped.
func (s *Store) ApplySimulation(resp *SimulationResponse) error {
	if resp == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhasePlaying, "applySimulation"); err != nil {
		return err
	}
	s.gs.Events = append(s.gs.Events, resp.Events...)
	if resp.WorldStateUpdate != nil {
		s.gs.WorldState.Apply(*resp.WorldStateUpdate)
	}
	if resp.GoalProgressUpdate != nil {
		s.applyGoal(*resp.GoalProgressUpdate)
	}
	for _, u := range resp.ActorUpdates {
		if a := s.gs.Scenario.FindActor(u.ActorID); a != nil {
			a.Resources.Merge(u.Resources)
		}
	}
	s.touch()
	return nil
}

// EndGame moves a game in play to its terminal phase.
func (s *Store) EndGame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhase(PhasePlaying, "endGame"); err != nil {
		return err
	}
	s.gs.Phase = PhaseEnded
	s.touch()
	return nil
}

// SetProcessing flags whether a turn request is in flight. It is transient
// and does not dirty the store.
func (s *Store) SetProcessing(processing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs.IsProcessing = processing
}

// TryStartProcessing sets the processing flag unless it is already set.
func (s *Store) TryStartProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gs.IsProcessing {
		return false
	}
	s.gs.IsProcessing = true
	return true
}

func (s *Store) SetViewMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs.ViewMode = mode
}

func (s *Store) SetSelectedActionType(t string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs.SelectedActionType = t
}

// ResetGame discards everything, including the remote session binding.
func (s *Store) ResetGame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gs.IsProcessing {
		return ErrProcessing
	}
	s.gs = NewGameState()
	s.sessionID = ""
	s.dirty = false
	s.syncStatus = SyncIdle
	s.version++
	s.notify()
	return nil
}

// ResetToSetup keeps the scenario and re-enters character selection.
func (s *Store) ResetToSetup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gs.IsProcessing {
		return ErrProcessing
	}
	if s.gs.Scenario == nil {
		return fmt.Errorf("%w: resetToSetup requires a scenario", ErrInvalidTransition)
	}
	sc := s.gs.Scenario
	for i := range sc.Actors {
		sc.Actors[i].IsPlayer = false
	}
	s.resetDownstream()
	s.gs.Scenario = sc
	s.gs.Phase = PhaseCharacterSelect
	s.touch()
	return nil
}

// ResetToMilestone keeps the scenario and chosen actor and re-enters
// milestone selection.
func (s *Store) ResetToMilestone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gs.IsProcessing {
		return ErrProcessing
	}
	if s.gs.Scenario == nil || s.gs.PlayerActorID == "" {
		return fmt.Errorf("%w: resetToMilestone requires a scenario and a selected actor", ErrInvalidTransition)
	}
	sc, actorID := s.gs.Scenario, s.gs.PlayerActorID
	s.resetDownstream()
	s.gs.Scenario = sc
	s.gs.PlayerActorID = actorID
	s.gs.Phase = PhaseMilestoneSelect
	s.touch()
	return nil
}

// resetDownstream starts a fresh game state but keeps presentation settings.
// The remote session is dropped so the next save creates a new one.
func (s *Store) resetDownstream() {
	viewMode := s.gs.ViewMode
	s.gs = NewGameState()
	s.gs.ViewMode = viewMode
	s.sessionID = ""
}

// LoadFromCloud replaces the whole state with a persisted snapshot. The
// result is clean and never processing.
func (s *Store) LoadFromCloud(gs GameState, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gs = gs.Clone()
	s.gs.IsProcessing = false
	if s.gs.Events == nil {
		s.gs.Events = []GameEvent{}
	}
	if s.gs.ViewMode == "" {
		s.gs.ViewMode = DefaultViewMode
	}
	if s.gs.Phase == "" {
		s.gs.Phase = PhaseSetup
	}
	s.sessionID = sessionID
	s.dirty = false
	s.syncStatus = SyncIdle
	s.version++
	s.notify()
}

// MarkSaved records a successful remote write of the given version. The
// dirty flag is cleared only if nothing changed since that version was
// snapshotted.
func (s *Store) MarkSaved(version uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == version {
		s.dirty = false
	}
	s.lastSavedAt = at
	s.syncStatus = SyncSaved
}

func (s *Store) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *Store) SetSyncStatus(status SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncStatus = status
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gs.Clone()
}

// SnapshotVersion returns the state together with the version it belongs to.
func (s *Store) SnapshotVersion() (GameState, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gs.Clone(), s.version
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Dirty:       s.dirty,
		Version:     s.version,
		SessionID:   s.sessionID,
		SyncStatus:  s.syncStatus,
		LastSavedAt: s.lastSavedAt,
	}
}
