package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/pkg/prompts"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/textfilter"
)

// ValidationResult is advisory feedback on a proposed action.
type ValidationResult struct {
	IsValid     bool     `json:"isValid"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// Allow is the result used whenever validation cannot run.
func Allow() ValidationResult {
	return ValidationResult{IsValid: true, Warnings: []string{}, Suggestions: []string{}}
}

// Validator asks the model whether an action suits the actor's resources.
// It never blocks play: every failure yields Allow().
type Validator struct {
	llm      services.LLMService
	resolver *prompts.Resolver
	logger   *slog.Logger
}

func NewValidator(llm services.LLMService, logger *slog.Logger) *Validator {
	return &Validator{llm: llm, resolver: prompts.DefaultResolver(), logger: logger}
}

type validationPayload struct {
	IsValid     *bool             `json:"isValid"`
	Warnings    scenario.TextList `json:"warnings"`
	Suggestions scenario.TextList `json:"suggestions"`
}

func (v *Validator) Validate(ctx context.Context, actor scenario.Actor, action string) ValidationResult {
	action = strings.TrimSpace(action)
	if action == "" {
		return Allow()
	}

	messages, err := v.resolver.BuildValidationMessages(actor, action)
	if err != nil {
		v.logger.Warn("Failed to build validation prompt", "error", err)
		return Allow()
	}

	resp, err := v.llm.Chat(ctx, messages)
	if err != nil {
		v.logger.Warn("Action validation failed, allowing action", "actor_id", actor.ID, "error", err)
		return Allow()
	}

	obj, ok := textfilter.JSONObject(resp.Message)
	if !ok {
		v.logger.Warn("Action validation returned no JSON, allowing action", "actor_id", actor.ID)
		return Allow()
	}
	var p validationPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		v.logger.Warn("Failed to decode action validation, allowing action", "actor_id", actor.ID, "error", err)
		return Allow()
	}

	out := Allow()
	if p.IsValid != nil {
		out.IsValid = *p.IsValid
	}
	if len(p.Warnings) > 0 {
		out.Warnings = p.Warnings
	}
	if len(p.Suggestions) > 0 {
		out.Suggestions = p.Suggestions
	}
	return out
}
