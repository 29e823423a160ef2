package services

import (
	"strings"
	"unicode"

	"github.com/yungbote/counselbridge-backend/internal/config"
)

type IntakeVerdict string

const (
	IntakeProceed IntakeVerdict = "proceed"
	IntakeCrisis  IntakeVerdict = "crisis"
	IntakeBlocked IntakeVerdict = "blocked"
	IntakeEmpty   IntakeVerdict = "empty"
)

type IntakeResult struct {
	Verdict IntakeVerdict
	Matched string
}

const crisisResponse = "It sounds like you may be going through something very serious. I'm not able to help with this, but you deserve support from a real person. Please reach out to a crisis line or emergency services right away."

const blockedResponse = "I'm not able to advise on that topic. I can help you think through your situation, your constraints and your options, but for this you should consult a qualified professional."

// GateIntake screens a raw utterance before any model call. It is
// deterministic on purpose: safety routing cannot depend on a model that
// may be down or slow.
func GateIntake(policy config.Policy, utterance string) IntakeResult {
	text := normalizeUtterance(utterance)
	if text == "" {
		return IntakeResult{Verdict: IntakeEmpty}
	}
	for _, kw := range policy.CrisisKeywords {
		if containsPhrase(text, kw) {
			return IntakeResult{Verdict: IntakeCrisis, Matched: kw}
		}
	}
	for _, topic := range policy.BlockedTopics {
		if containsPhrase(text, topic) {
			return IntakeResult{Verdict: IntakeBlocked, Matched: topic}
		}
	}
	return IntakeResult{Verdict: IntakeProceed}
}

func normalizeUtterance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) || r == '\'' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase does whole-word matching so "class" never matches "ass".
func containsPhrase(text, phrase string) bool {
	phrase = normalizeUtterance(phrase)
	if phrase == "" {
		return false
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || text[start-1] == ' '
		afterOK := end == len(text) || text[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}
