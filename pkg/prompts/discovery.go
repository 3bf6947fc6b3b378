package prompts

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/jwebster45206/crisis-engine/pkg/chat"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

// MaxSearchQueries bounds the research fan-out of scenario discovery.
const MaxSearchQueries = 3

// sourceExcerptLimit keeps the query-derivation prompt small; the full
// source still goes into the scenario prompt.
const sourceExcerptLimit = 4000

// DiscoveryInput is everything known about a scenario before it is built.
type DiscoveryInput struct {
	Query         string
	SourceURL     string
	Timeframe     string
	SourceContent string
	SearchContext string
}

func (in DiscoveryInput) fields() map[string]string {
	return map[string]string{
		"QUERY":          orDefault(in.Query, "(derive the topic from the source content)"),
		"TIMEFRAME":      orDefault(in.Timeframe, "Not specified"),
		"SOURCE_URL":     orDefault(in.SourceURL, fallbackNone),
		"SOURCE_CONTENT": orDefault(in.SourceContent, fallbackNone),
		"SEARCH_CONTEXT": orDefault(in.SearchContext, fallbackNone),
		"MAX_QUERIES":    strconv.Itoa(MaxSearchQueries),
	}
}

// BuildDiscoveryMessages renders the scenario-construction call.
func (r *Resolver) BuildDiscoveryMessages(in DiscoveryInput) ([]chat.ChatMessage, error) {
	fields := in.fields()
	system, err := r.Render(TemplateDiscoverySystem, fields)
	if err != nil {
		return nil, fmt.Errorf("error building discovery prompt: %w", err)
	}
	user, err := r.Render(TemplateDiscoveryUser, fields)
	if err != nil {
		return nil, fmt.Errorf("error building discovery prompt: %w", err)
	}
	return []chat.ChatMessage{chat.System(system), chat.User(user)}, nil
}

// BuildSearchQueryMessages renders the call that derives research queries.
func (r *Resolver) BuildSearchQueryMessages(in DiscoveryInput) ([]chat.ChatMessage, error) {
	in.SourceContent = Truncate(in.SourceContent, sourceExcerptLimit)
	prompt, err := r.Render(TemplateSearchQueries, in.fields())
	if err != nil {
		return nil, fmt.Errorf("error building search query prompt: %w", err)
	}
	return []chat.ChatMessage{chat.User(prompt)}, nil
}

// BuildValidationMessages renders the advisory plausibility check of an
// action. Untracked gauges render as "Unknown" rather than a made-up value.
func (r *Resolver) BuildValidationMessages(actor scenario.Actor, action string) ([]chat.ChatMessage, error) {
	gauge := func(v *int) string {
		if v == nil {
			return fallbackUnknown
		}
		return strconv.Itoa(*v)
	}
	prompt, err := r.Render(TemplateValidateAction, map[string]string{
		"ACTOR_NAME": orDefault(actor.Name, "Unknown Actor"),
		"ACTOR_TYPE": orDefault(string(actor.Type), string(scenario.ActorTypeEntity)),
		"MILITARY":   gauge(actor.Resources.Military),
		"ECONOMIC":   gauge(actor.Resources.Economic),
		"DIPLOMATIC": gauge(actor.Resources.Diplomatic),
		"POPULAR":    gauge(actor.Resources.Popular),
		"ACTION":     action,
	})
	if err != nil {
		return nil, fmt.Errorf("error building validation prompt: %w", err)
	}
	return []chat.ChatMessage{chat.User(prompt)}, nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
