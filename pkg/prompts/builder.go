package prompts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/state"
)

// RecentEventLimit bounds how much history goes into a turn prompt. Older
// events are dropped from the prompt, not from the game.
const RecentEventLimit = 5

const (
	fallbackNone     = "None"
	fallbackTitle    = "Untitled Scenario"
	fallbackUnknown  = "Unknown"
	excludedTag      = " [PLAYER - EXCLUDED]"
	playerTag        = " [PLAYER]"
	defaultGoalValue = 50
)

// Builder constructs the messages for one simulated turn using a fluent
// interface.
type Builder struct {
	resolver *Resolver
	gs       *state.GameState
	action   string
	skip     bool
}

// New creates a builder over the embedded templates.
func New() *Builder {
	return &Builder{resolver: DefaultResolver()}
}

// WithResolver swaps the template source.
func (b *Builder) WithResolver(r *Resolver) *Builder {
	b.resolver = r
	return b
}

func (b *Builder) WithGameState(gs *state.GameState) *Builder {
	b.gs = gs
	return b
}

// WithAction sets the player's free-text action.
func (b *Builder) WithAction(action string) *Builder {
	b.action = action
	return b
}

// Skip builds a skip-turn prompt: the player is excluded from event
// generation and the reply must be bare JSON.
func (b *Builder) Skip() *Builder {
	b.skip = true
	return b
}

// Build renders the system and user messages.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	if b.gs == nil {
		return nil, fmt.Errorf("gamestate is required")
	}
	if b.gs.Scenario == nil {
		return nil, fmt.Errorf("scenario is required")
	}

	systemName, userName := TemplateTurnSystem, TemplateTurnUser
	if b.skip {
		systemName, userName = TemplateSkipSystem, TemplateSkipUser
	}

	fields := TurnFields(b.gs, b.action, b.skip)
	system, err := b.resolver.Render(systemName, fields)
	if err != nil {
		return nil, fmt.Errorf("error building system prompt: %w", err)
	}
	user, err := b.resolver.Render(userName, fields)
	if err != nil {
		return nil, fmt.Errorf("error building user prompt: %w", err)
	}

	return []chat.ChatMessage{chat.System(system), chat.User(user)}, nil
}

// TurnFields computes every placeholder of the turn templates. Each field is
// defaulted on its own, so a sparse state still renders a full prompt.
func TurnFields(gs *state.GameState, action string, skip bool) map[string]string {
	sc := gs.Scenario
	ws := gs.WorldState

	fields := map[string]string{
		"SCENARIO_TITLE":       orDefault(sc.Title, fallbackTitle),
		"SCENARIO_DESCRIPTION": orDefault(sc.Description, ""),
		"REGION":               orDefault(sc.Region, fallbackUnknown),
		"TIMEFRAME":            timeframe(sc.Timeframe),
		"ACTORS":               renderActors(sc.Actors, gs.PlayerActorID, skip),
		"RECENT_EVENTS":        renderEvents(gs.RecentEvents(RecentEventLimit)),
		"TENSION_LEVEL":        strconv.Itoa(ws.CurrentTension()),
		"GLOBAL_SENTIMENT":     orDefault(ws.GlobalSentiment, state.DefaultGlobalSentiment),
		"DIPLOMATIC_STATUS":    orDefault(ws.DiplomaticStatus, state.DefaultDiplomaticStatus),
		"ACTIVE_CONFLICTS":     joinOrNone(ws.ActiveConflicts),
		"CURRENT_TURN":         strconv.Itoa(gs.CurrentTurn),
		"ACTION":               strings.TrimSpace(action),
		"PLAYER_NAME":          fallbackUnknown,
		"PLAYER_GOAL":          fallbackNone,
		"GOAL_PROGRESS":        strconv.Itoa(defaultGoalValue),
	}

	if player := sc.FindActor(gs.PlayerActorID); player != nil {
		fields["PLAYER_NAME"] = orDefault(player.Name, fallbackUnknown)
	}
	if gs.PlayerGoal != nil {
		fields["PLAYER_GOAL"] = orDefault(gs.PlayerGoal.Description, fallbackNone)
		fields["GOAL_PROGRESS"] = strconv.Itoa(gs.PlayerGoal.Progress)
	}
	return fields
}

func renderActors(actors []scenario.Actor, playerID string, skip bool) string {
	if len(actors) == 0 {
		return fallbackNone
	}
	var b strings.Builder
	for i, a := range actors {
		if i > 0 {
			b.WriteString("\n")
		}
		tag := ""
		if a.ID == playerID && playerID != "" {
			tag = playerTag
			if skip {
				tag = excludedTag
			}
		}
		actorType := string(a.Type)
		if actorType == "" {
			actorType = string(scenario.ActorTypeEntity)
		}
		fmt.Fprintf(&b, "- %s (%s) [id: %s]%s\n", orDefault(a.Name, "Unknown Actor"), actorType, a.ID, tag)
		fmt.Fprintf(&b, "  Description: %s\n", orDefault(a.Description, "No description"))
		fmt.Fprintf(&b, "  Objectives: %s\n", a.Objectives.Join("; ", fallbackNone))
		fmt.Fprintf(&b, "  Personality: %s", orDefault(a.Personality, fallbackUnknown))
	}
	return b.String()
}

func renderEvents(events []state.GameEvent) string {
	if len(events) == 0 {
		return fallbackNone
	}
	lines := make([]string, 0, len(events))
	for _, e := range events {
		name := orDefault(e.ActorName, orDefault(e.ActorID, "World"))
		lines = append(lines, fmt.Sprintf("- [Turn %d] %s: %s", e.Turn, name, e.Content))
	}
	return strings.Join(lines, "\n")
}

func timeframe(tf scenario.Timeframe) string {
	start := orDefault(tf.Start, fallbackUnknown)
	if tf.End == "" {
		return start + " onward"
	}
	return start + " to " + tf.End
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return fallbackNone
	}
	return strings.Join(items, ", ")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
