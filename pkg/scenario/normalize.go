package scenario

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Palette is the fixed set of display colors assigned to actors by index.
var Palette = [10]string{
	"#3B82F6", // blue
	"#EF4444", // red
	"#10B981", // green
	"#F59E0B", // amber
	"#8B5CF6", // violet
	"#EC4899", // pink
	"#06B6D4", // cyan
	"#F97316", // orange
	"#84CC16", // lime
	"#6366F1", // indigo
}

// Normalize backfills everything a freshly generated scenario may lack:
// a scenario id, actor ids and colors, and milestone ids. Existing values
// are kept.
func (s *Scenario) Normalize() {
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
	}
	if strings.TrimSpace(s.Title) == "" {
		s.Title = "Untitled Scenario"
	}

	for i := range s.Actors {
		a := &s.Actors[i]
		if strings.TrimSpace(a.ID) == "" {
			a.ID = fmt.Sprintf("actor-%d", i)
		}
		if strings.TrimSpace(a.Color) == "" {
			a.Color = Palette[i%len(Palette)]
		}
		a.Type = NormalizeActorType(string(a.Type))
		if a.Objectives == nil {
			a.Objectives = TextList{}
		}
		// Player selection is made by the reducer, never by a generator.
		a.IsPlayer = false
	}

	for i := range s.Milestones {
		m := &s.Milestones[i]
		if strings.TrimSpace(m.ID) == "" {
			m.ID = fmt.Sprintf("milestone-%d", i)
		}
		m.Significance = NormalizeSignificance(string(m.Significance))
	}
}

// NormalizeActorType maps free-form type text onto the known categories.
// Unknown values become "entity".
func NormalizeActorType(t string) ActorType {
	switch ActorType(lowerText(t)) {
	case ActorTypeLeader, "person", "individual":
		return ActorTypeLeader
	case ActorTypeOrganization, "organisation", "institution", "company":
		return ActorTypeOrganization
	case ActorTypeCountry, "nation", "state":
		return ActorTypeCountry
	case ActorTypeGroup, "faction", "movement":
		return ActorTypeGroup
	default:
		return ActorTypeEntity
	}
}

// NormalizeSignificance lower-cases a significance grade; unknown values
// become "minor".
func NormalizeSignificance(s string) Significance {
	switch v := Significance(lowerText(s)); v {
	case SignificanceMinor, SignificanceMajor, SignificanceCritical:
		return v
	default:
		return SignificanceMinor
	}
}

// Casers are stateful, so each call gets its own.
func lowerText(s string) string {
	return cases.Lower(language.English).String(strings.TrimSpace(s))
}
