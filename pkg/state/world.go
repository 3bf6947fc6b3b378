package state

import (
	"encoding/json"

	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

const (
	DefaultTensionLevel     = 50
	DefaultGlobalSentiment  = "Neutral"
	DefaultDiplomaticStatus = "Stable"
)

// WorldState is the mutable aggregate shared across all actors.
type WorldState struct {
	TensionLevel          int            `json:"tensionLevel"`
	GlobalSentiment       string         `json:"globalSentiment"`
	DiplomaticStatus      string         `json:"diplomaticStatus"`
	HumanitarianSituation string         `json:"humanitarianSituation,omitempty"`
	EconomicImpact        string         `json:"economicImpact,omitempty"`
	ActiveConflicts       []string       `json:"activeConflicts"`
	KeyMetrics            map[string]any `json:"keyMetrics,omitempty"`
	PublicOpinion         *PublicOpinion `json:"publicOpinion,omitempty"`
}

type PublicOpinion struct {
	RegionalSentiment map[string]string   `json:"regionalSentiment,omitempty"`
	TrendingTopics    []string            `json:"trendingTopics,omitempty"`
	NarrativeControl  scenario.PercentMap `json:"narrativeControl,omitempty"`
}

// WorldStateUpdate is a partial world state. Nil fields are left untouched
// when merged.
type WorldStateUpdate struct {
	TensionLevel          *int           `json:"tensionLevel,omitempty"`
	GlobalSentiment       *string        `json:"globalSentiment,omitempty"`
	DiplomaticStatus      *string        `json:"diplomaticStatus,omitempty"`
	HumanitarianSituation *string        `json:"humanitarianSituation,omitempty"`
	EconomicImpact        *string        `json:"economicImpact,omitempty"`
	ActiveConflicts       []string       `json:"activeConflicts,omitempty"`
	KeyMetrics            map[string]any `json:"keyMetrics,omitempty"`
	PublicOpinion         *PublicOpinion `json:"publicOpinion,omitempty"`
}

func NewWorldState() WorldState {
	return WorldState{
		TensionLevel:     DefaultTensionLevel,
		GlobalSentiment:  DefaultGlobalSentiment,
		DiplomaticStatus: DefaultDiplomaticStatus,
		ActiveConflicts:  []string{},
	}
}

// UnmarshalJSON fills fields the payload leaves out with their defaults, so
// a posted state without a tension reads as 50 while an explicit 0 stays 0.
func (ws *WorldState) UnmarshalJSON(data []byte) error {
	type plain WorldState
	p := plain(NewWorldState())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*ws = WorldState(p)
	return nil
}

// CurrentTension returns the tension level clamped to 0..100.
func (ws WorldState) CurrentTension() int {
	return ClampPercent(ws.TensionLevel)
}

// Apply shallow-merges u into ws. Each set field replaces the current value
// wholesale; maps and lists are not merged element by element.
func (ws *WorldState) Apply(u WorldStateUpdate) {
	if u.TensionLevel != nil {
		ws.TensionLevel = ClampPercent(*u.TensionLevel)
	}
	if u.GlobalSentiment != nil {
		ws.GlobalSentiment = *u.GlobalSentiment
	}
	if u.DiplomaticStatus != nil {
		ws.DiplomaticStatus = *u.DiplomaticStatus
	}
	if u.HumanitarianSituation != nil {
		ws.HumanitarianSituation = *u.HumanitarianSituation
	}
	if u.EconomicImpact != nil {
		ws.EconomicImpact = *u.EconomicImpact
	}
	if u.ActiveConflicts != nil {
		ws.ActiveConflicts = append([]string{}, u.ActiveConflicts...)
	}
	if u.KeyMetrics != nil {
		ws.KeyMetrics = u.KeyMetrics
	}
	if u.PublicOpinion != nil {
		ws.PublicOpinion = u.PublicOpinion
	}
}

func (ws WorldState) Clone() WorldState {
	c := ws
	c.ActiveConflicts = append([]string{}, ws.ActiveConflicts...)
	if ws.KeyMetrics != nil {
		c.KeyMetrics = make(map[string]any, len(ws.KeyMetrics))
		for k, v := range ws.KeyMetrics {
			c.KeyMetrics[k] = v
		}
	}
	if ws.PublicOpinion != nil {
		po := *ws.PublicOpinion
		c.PublicOpinion = &po
	}
	return c
}
