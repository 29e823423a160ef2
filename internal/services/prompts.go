package services

import (
	"fmt"
	"strings"

	"github.com/yungbote/counselbridge-backend/internal/domain"
)

const extractionSystemPrompt = `Extract the constraints ("boundaries") a counseling client states or implies about their situation.

Categories:
- objective: external facts and hard constraints (time, money, health, obligations).
- subjective: values, feelings, preferences, tolerances.
- solution: constraints on what an acceptable solution may or may not include.

For each boundary report:
- subtype: a short lowercase tag such as "time", "economic", "health", "value", "excluded", "scope".
- content: one sentence restating the constraint in the client's terms.
- flexibility: "low" when the client presents it as fixed, "high" when clearly negotiable, otherwise "medium".
- source: "explicit" when stated outright, "inferred" when implied by what was said, "contextual" when it follows from the situation.
- confidence: your confidence in [0,1] that the client holds this constraint.

Only report constraints grounded in the conversation. Do not invent any.`

const extractionStrictReminder = `Your previous answer did not conform to the schema. Re-read the schema and answer again with ONLY a conforming JSON object. Every boundary needs category, subtype, content, flexibility, source and confidence with the exact enum spellings given.`

func extractionSchema() map[string]interface{} {
	boundaryItem := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"subtype":     map[string]interface{}{"type": "string"},
			"content":     map[string]interface{}{"type": "string"},
			"flexibility": map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high"}},
			"source":      map[string]interface{}{"type": "string", "enum": []string{"explicit", "inferred", "contextual"}},
			"confidence":  map[string]interface{}{"type": "number"},
		},
		"required":             []string{"subtype", "content", "flexibility", "source", "confidence"},
		"additionalProperties": false,
	}
	boundaryList := map[string]interface{}{"type": "array", "items": boundaryItem}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"objective_boundaries":  boundaryList,
			"subjective_boundaries": boundaryList,
			"solution_boundaries":   boundaryList,
		},
		"required":             []string{"objective_boundaries", "subjective_boundaries", "solution_boundaries"},
		"additionalProperties": false,
	}
}

const questionSystemPrompt = `You are a warm, concise counseling assistant. Ask exactly one question that moves the conversation forward. Never stack questions, never lecture, and acknowledge what the client already said before asking.`

const solutionSystemPrompt = `You are a counseling assistant proposing a concrete next-step plan. The plan must respect every boundary listed; treat low-flexibility boundaries as hard constraints. Keep it to a short paragraph plus at most three bullet steps.`

const reportSystemPrompt = `Write a structured counseling session summary with these sections: Situation, Stated Constraints, Values and Preferences, Proposed Direction, Open Points. Ground every statement in the provided boundaries and solution; do not invent details.`

func formatHistory(history []domain.Message, window int) string {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	var b strings.Builder
	for _, m := range history {
		role := "Client"
		if m.Role == domain.RoleAssistant {
			role = "Counselor"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(m.Content))
	}
	return b.String()
}

func formatBoundaries(bs []domain.Boundary) string {
	if len(bs) == 0 {
		return "(none recorded)"
	}
	var b strings.Builder
	for _, bd := range bs {
		if bd.Superseded {
			continue
		}
		flags := ""
		if bd.Conflicting {
			flags = " [conflicting]"
		}
		fmt.Fprintf(&b, "- (%s/%s, flexibility=%s, source=%s, confidence=%.2f)%s %s\n",
			bd.Category, bd.Subtype, bd.Flexibility, bd.Source, bd.Confidence, flags, bd.Content)
	}
	return b.String()
}
