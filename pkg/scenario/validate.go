package scenario

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks a hand-authored scenario for structural problems. It does
// not require ids or colors, which Normalize fills in.
func (s *Scenario) Validate() error {
	var errs []error

	if strings.TrimSpace(s.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if strings.TrimSpace(s.Timeframe.Start) == "" {
		errs = append(errs, errors.New("timeframe.start is required"))
	}
	if len(s.Actors) < 2 {
		errs = append(errs, fmt.Errorf("at least 2 actors are required, found %d", len(s.Actors)))
	}

	actorIDs := make(map[string]bool, len(s.Actors))
	for i, a := range s.Actors {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("actors[%d]: name is required", i))
		}
		if a.ID == "" {
			continue
		}
		if actorIDs[a.ID] {
			errs = append(errs, fmt.Errorf("actors[%d]: duplicate id %q", i, a.ID))
		}
		actorIDs[a.ID] = true
	}

	for i, a := range s.Actors {
		switch a.Type {
		case ActorTypeLeader, ActorTypeOrganization, ActorTypeCountry, ActorTypeEntity, ActorTypeGroup, "":
		default:
			errs = append(errs, fmt.Errorf("actors[%d]: unknown type %q", i, a.Type))
		}
		for other, rel := range a.Relationships {
			if !actorIDs[other] {
				errs = append(errs, fmt.Errorf("actors[%d]: relationship references unknown actor %q", i, other))
			}
			switch rel {
			case RelationshipAlly, RelationshipEnemy, RelationshipNeutral, RelationshipComplicated:
			default:
				errs = append(errs, fmt.Errorf("actors[%d]: unknown relationship %q", i, rel))
			}
		}
		for name, gauge := range map[string]*int{
			"military":   a.Resources.Military,
			"economic":   a.Resources.Economic,
			"diplomatic": a.Resources.Diplomatic,
			"popular":    a.Resources.Popular,
		} {
			if gauge != nil && (*gauge < 0 || *gauge > 100) {
				errs = append(errs, fmt.Errorf("actors[%d]: %s resource %d out of range 0-100", i, name, *gauge))
			}
		}
	}

	milestoneIDs := make(map[string]bool, len(s.Milestones))
	for i, m := range s.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			errs = append(errs, fmt.Errorf("milestones[%d]: title is required", i))
		}
		if m.ID != "" {
			if milestoneIDs[m.ID] {
				errs = append(errs, fmt.Errorf("milestones[%d]: duplicate id %q", i, m.ID))
			}
			milestoneIDs[m.ID] = true
		}
		switch m.Significance {
		case SignificanceMinor, SignificanceMajor, SignificanceCritical, "":
		default:
			errs = append(errs, fmt.Errorf("milestones[%d]: unknown significance %q", i, m.Significance))
		}
		for _, id := range m.InvolvedActors {
			if !actorIDs[id] {
				errs = append(errs, fmt.Errorf("milestones[%d]: involves unknown actor %q", i, id))
			}
		}
	}

	return errors.Join(errs...)
}
