package scenario

// ActorType is the category of a party in a scenario.
type ActorType string

const (
	ActorTypeLeader       ActorType = "leader"
	ActorTypeOrganization ActorType = "organization"
	ActorTypeCountry      ActorType = "country"
	ActorTypeEntity       ActorType = "entity"
	ActorTypeGroup        ActorType = "group"
)

// Relationship describes how one actor regards another.
type Relationship string

const (
	RelationshipAlly        Relationship = "ally"
	RelationshipEnemy       Relationship = "enemy"
	RelationshipNeutral     Relationship = "neutral"
	RelationshipComplicated Relationship = "complicated"
)

// Significance grades a milestone.
type Significance string

const (
	SignificanceMinor    Significance = "minor"
	SignificanceMajor    Significance = "major"
	SignificanceCritical Significance = "critical"
)

// Scenario is the immutable definition of a session: the setting, the parties
// involved and the historical milestones a player may start from.
type Scenario struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Region      string      `json:"region,omitempty" yaml:"region,omitempty"`
	Timeframe   Timeframe   `json:"timeframe" yaml:"timeframe"`
	Actors      []Actor     `json:"actors" yaml:"actors"`
	Milestones  []Milestone `json:"milestones" yaml:"milestones"`
	Background  string      `json:"background,omitempty" yaml:"background,omitempty"`
	Context     string      `json:"context,omitempty" yaml:"context,omitempty"`
	KeyIssues   TextList    `json:"keyIssues,omitempty" yaml:"key_issues,omitempty"`
}

type Timeframe struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
}

// Actor is a playable or non-playable party in a scenario.
type Actor struct {
	ID            string                  `json:"id" yaml:"id"`
	Name          string                  `json:"name" yaml:"name"`
	Type          ActorType               `json:"type" yaml:"type"`
	Description   string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Personality   string                  `json:"personality,omitempty" yaml:"personality,omitempty"`
	Objectives    TextList                `json:"objectives" yaml:"objectives"`
	Relationships map[string]Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Resources     Resources               `json:"resources" yaml:"resources"`
	Color         string                  `json:"color,omitempty" yaml:"color,omitempty"`
	IsPlayer      bool                    `json:"isPlayer,omitempty" yaml:"-"`
}

// Resources holds four independent 0-100 gauges. A nil gauge is not tracked.
type Resources struct {
	Military   *int `json:"military,omitempty" yaml:"military,omitempty"`
	Economic   *int `json:"economic,omitempty" yaml:"economic,omitempty"`
	Diplomatic *int `json:"diplomatic,omitempty" yaml:"diplomatic,omitempty"`
	Popular    *int `json:"popular,omitempty" yaml:"popular,omitempty"`
}

// Merge overwrites each gauge that is set in u, clamped to 0..100.
func (r *Resources) Merge(u Resources) {
	merge := func(dst **int, src *int) {
		if src == nil {
			return
		}
		v := clamp(*src)
		*dst = &v
	}
	merge(&r.Military, u.Military)
	merge(&r.Economic, u.Economic)
	merge(&r.Diplomatic, u.Diplomatic)
	merge(&r.Popular, u.Popular)
}

// Milestone is a dated turning point a game may start from.
type Milestone struct {
	ID             string       `json:"id" yaml:"id"`
	Date           string       `json:"date" yaml:"date"`
	Title          string       `json:"title" yaml:"title"`
	Description    string       `json:"description,omitempty" yaml:"description,omitempty"`
	Significance   Significance `json:"significance,omitempty" yaml:"significance,omitempty"`
	InvolvedActors []string     `json:"involvedActors,omitempty" yaml:"involved_actors,omitempty"`
}

// FindActor returns the actor with the given id, or nil.
func (s *Scenario) FindActor(id string) *Actor {
	if s == nil || id == "" {
		return nil
	}
	for i := range s.Actors {
		if s.Actors[i].ID == id {
			return &s.Actors[i]
		}
	}
	return nil
}

// FindMilestone returns the milestone with the given id, or nil.
func (s *Scenario) FindMilestone(id string) *Milestone {
	if s == nil || id == "" {
		return nil
	}
	for i := range s.Milestones {
		if s.Milestones[i].ID == id {
			return &s.Milestones[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate actors without touching
// the original.
func (s *Scenario) Clone() *Scenario {
	if s == nil {
		return nil
	}
	c := *s
	c.KeyIssues = append(TextList(nil), s.KeyIssues...)
	c.Actors = make([]Actor, len(s.Actors))
	for i, a := range s.Actors {
		a.Objectives = append(TextList(nil), a.Objectives...)
		if a.Relationships != nil {
			rel := make(map[string]Relationship, len(a.Relationships))
			for k, v := range a.Relationships {
				rel[k] = v
			}
			a.Relationships = rel
		}
		a.Resources = a.Resources.clone()
		c.Actors[i] = a
	}
	c.Milestones = make([]Milestone, len(s.Milestones))
	for i, m := range s.Milestones {
		m.InvolvedActors = append([]string(nil), m.InvolvedActors...)
		c.Milestones[i] = m
	}
	return &c
}

func (r Resources) clone() Resources {
	cp := func(p *int) *int {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	return Resources{
		Military:   cp(r.Military),
		Economic:   cp(r.Economic),
		Diplomatic: cp(r.Diplomatic),
		Popular:    cp(r.Popular),
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
