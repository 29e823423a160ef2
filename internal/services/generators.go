package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
	"github.com/yungbote/counselbridge-backend/internal/platform/openai"
)

// ResponseGenerator produces the assistant side of a turn: the next
// question, a solution proposal, or the final report. Every method has a
// deterministic fallback so a model outage degrades the wording, not the
// dialogue.
type ResponseGenerator interface {
	Question(ctx context.Context, history []domain.Message, boundaries []domain.Boundary, a Assessment) string
	Solution(ctx context.Context, history []domain.Message, boundaries []domain.Boundary, incomplete bool) string
	Report(ctx context.Context, boundaries []domain.Boundary, solution string, incomplete bool) string
}

type responseGenerator struct {
	ai     openai.Client
	policy config.Policy
	role   string
	log    *logger.Logger
}

func NewResponseGenerator(ai openai.Client, policy config.Policy, baseLog *logger.Logger) ResponseGenerator {
	return &responseGenerator{
		ai:     ai,
		policy: policy,
		role:   envutil.Str("COUNSEL_ROLE", "career"),
		log:    baseLog.With("service", "response_generator"),
	}
}

// roleFocus narrows prompts to the counselor role's topic areas when the
// policy defines them.
func (g *responseGenerator) roleFocus() string {
	topics := g.policy.RoleTopics[g.role]
	if len(topics) == 0 {
		return ""
	}
	return fmt.Sprintf("\nCounseling focus (%s): %s.", g.role, strings.Join(topics, ", "))
}

func (g *responseGenerator) Question(ctx context.Context, history []domain.Message, boundaries []domain.Boundary, a Assessment) string {
	intent := questionIntent(a)
	user := fmt.Sprintf(
		"Conversation so far:\n%s\nKnown boundaries:\n%s\nGoal of your next question: %s%s\nAsk exactly one question.",
		formatHistory(history, g.policy.ContextWindow), formatBoundaries(boundaries), intent, g.roleFocus(),
	)
	out, err := g.ai.GenerateText(ctx, questionSystemPrompt, user)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			g.log.Warn("question generation failed, using fallback", "error", err.Error())
		}
		return fallbackQuestion(a)
	}
	return strings.TrimSpace(out)
}

// questionIntent turns the assessment into a single instruction: the first
// missing required category wins, then conflicts, then low confidence.
func questionIntent(a Assessment) string {
	if len(a.MissingCategories) > 0 {
		switch a.MissingCategories[0] {
		case domain.CategoryObjective:
			return "learn a concrete external constraint of the situation (time, money, obligations, health)"
		case domain.CategorySubjective:
			return "learn what the client values or feels most strongly about here"
		case domain.CategorySolution:
			return "learn what an acceptable solution must include or must avoid"
		}
	}
	if a.ConflictCount > 0 {
		return "resolve the contradiction between two things the client said; name both gently and ask which holds"
	}
	if len(a.LowConfidence) > 0 {
		return fmt.Sprintf("confirm whether this is really a constraint: %q", a.LowConfidence[0].Content)
	}
	return "confirm the client is ready to hear a proposed direction"
}

func fallbackQuestion(a Assessment) string {
	if len(a.MissingCategories) > 0 {
		switch a.MissingCategories[0] {
		case domain.CategoryObjective:
			return "Could you tell me a bit more about the practical side of your situation, like time, money, or other commitments?"
		case domain.CategorySubjective:
			return "What matters most to you personally in all of this?"
		case domain.CategorySolution:
			return "Is there anything a way forward absolutely must include, or must avoid?"
		}
	}
	if a.ConflictCount > 0 {
		return "I noticed a couple of things you mentioned that seem to pull in different directions. Which of them feels more important right now?"
	}
	return "Is there anything else about your situation you think I should know?"
}

// Solution generates a proposal, validates it against low-flexibility
// boundaries, and regenerates once with the violations named. A still-bad
// second draft ships with a caveat rather than failing the turn.
func (g *responseGenerator) Solution(ctx context.Context, history []domain.Message, boundaries []domain.Boundary, incomplete bool) string {
	user := fmt.Sprintf(
		"Conversation so far:\n%s\nBoundaries to respect:\n%s%s\nPropose one concrete direction.",
		formatHistory(history, g.policy.ContextWindow), formatBoundaries(boundaries), g.roleFocus(),
	)
	if incomplete {
		user += "\nThe picture is incomplete; say so and keep the proposal tentative."
	}
	draft, err := g.ai.GenerateText(ctx, solutionSystemPrompt, user)
	if err != nil || strings.TrimSpace(draft) == "" {
		if err != nil {
			g.log.Warn("solution generation failed, using fallback", "error", err.Error())
		}
		return fallbackSolution(boundaries, incomplete)
	}
	violations := validateSolution(draft, boundaries)
	if len(violations) == 0 {
		return strings.TrimSpace(draft)
	}
	g.log.Warn("solution violates boundaries, regenerating", "violations", len(violations))
	user += "\nYour previous draft ignored these constraints; the new draft must respect them:\n"
	for _, v := range violations {
		user += "- " + v.Content + "\n"
	}
	redraft, err := g.ai.GenerateText(ctx, solutionSystemPrompt, user)
	if err != nil || strings.TrimSpace(redraft) == "" {
		return strings.TrimSpace(draft)
	}
	return strings.TrimSpace(redraft)
}

// validateSolution is a conservative lexical check: a low-flexibility
// exclusion boundary whose key terms appear nowhere near a negation in the
// draft counts as ignored. It only ever triggers a regeneration, never a
// hard failure.
func validateSolution(draft string, boundaries []domain.Boundary) []domain.Boundary {
	text := normalizeUtterance(draft)
	var violated []domain.Boundary
	for _, b := range boundaries {
		if b.Superseded || b.Flexibility != domain.FlexLow {
			continue
		}
		if b.Category != domain.CategorySolution || b.Subtype != "excluded" {
			continue
		}
		for _, term := range keyTerms(b.Content) {
			if containsPhrase(text, term) && !negatedNearby(text, term) {
				violated = append(violated, b)
				break
			}
		}
	}
	return violated
}

func keyTerms(content string) []string {
	var out []string
	for tok := range tokenize(content) {
		if len(tok) >= 5 && !stopWord(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func stopWord(tok string) bool {
	switch tok {
	case "should", "would", "could", "about", "there", "their", "wants", "without", "avoid", "never", "cannot":
		return true
	}
	return false
}

func negatedNearby(text, term string) bool {
	idx := strings.Index(text, term)
	if idx < 0 {
		return false
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	window := text[start:idx]
	for _, neg := range []string{"not ", "no ", "avoid", "without", "instead of", "rather than", "won't", "wont"} {
		if strings.Contains(window, neg) {
			return true
		}
	}
	return false
}

func fallbackSolution(boundaries []domain.Boundary, incomplete bool) string {
	var b strings.Builder
	if incomplete {
		b.WriteString("We're running out of time, so here is a tentative direction based on what you've shared so far. ")
	} else {
		b.WriteString("Based on everything you've shared, here is a direction to consider. ")
	}
	b.WriteString("Start from the constraints you named as fixed and look for the smallest step that respects all of them:\n")
	n := 0
	for _, bd := range boundaries {
		if bd.Superseded || bd.Flexibility != domain.FlexLow {
			continue
		}
		fmt.Fprintf(&b, "- Keep within: %s\n", bd.Content)
		n++
		if n == 3 {
			break
		}
	}
	if n == 0 {
		b.WriteString("- Write down what is truly fixed versus negotiable, then pick one small step this week.\n")
	}
	return b.String()
}

func (g *responseGenerator) Report(ctx context.Context, boundaries []domain.Boundary, solution string, incomplete bool) string {
	user := fmt.Sprintf("Boundaries:\n%s\nProposed direction:\n%s\n", formatBoundaries(boundaries), solution)
	if incomplete {
		user += "The session ended before all information was gathered; note this under Open Points.\n"
	}
	out, err := g.ai.GenerateText(ctx, reportSystemPrompt, user)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			g.log.Warn("report generation failed, using fallback", "error", err.Error())
		}
		return fallbackReport(boundaries, solution, incomplete)
	}
	return strings.TrimSpace(out)
}

func fallbackReport(boundaries []domain.Boundary, solution string, incomplete bool) string {
	var b strings.Builder
	b.WriteString("Session Summary\n\nStated Constraints:\n")
	for _, bd := range boundaries {
		if bd.Superseded || bd.Category == domain.CategorySubjective {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", bd.Content)
	}
	b.WriteString("\nValues and Preferences:\n")
	for _, bd := range boundaries {
		if bd.Superseded || bd.Category != domain.CategorySubjective {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", bd.Content)
	}
	if strings.TrimSpace(solution) != "" {
		b.WriteString("\nProposed Direction:\n" + strings.TrimSpace(solution) + "\n")
	}
	if incomplete {
		b.WriteString("\nOpen Points:\n- The session reached its turn limit before the full picture was gathered.\n")
	}
	return b.String()
}
