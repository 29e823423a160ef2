package services

import "strings"

type FeedbackKind string

const (
	FeedbackPositive       FeedbackKind = "positive"
	FeedbackNegative       FeedbackKind = "negative"
	FeedbackUncertain      FeedbackKind = "uncertain"
	FeedbackNeedTime       FeedbackKind = "need_time"
	FeedbackLostConfidence FeedbackKind = "lost_confidence"
)

var feedbackMarkers = []struct {
	kind    FeedbackKind
	phrases []string
}{
	// Order matters: the more specific emotional reads come before the
	// generic yes/no buckets.
	{FeedbackLostConfidence, []string{
		"i give up", "it's hopeless", "its hopeless", "nothing will work",
		"i can't do this", "i cant do this", "what's the point", "whats the point",
		"there is no way", "there's no way",
	}},
	{FeedbackNeedTime, []string{
		"let me think", "i need time", "need some time", "i'll think about",
		"ill think about", "need to think", "give me a moment", "not ready to decide",
	}},
	{FeedbackNegative, []string{
		"no ", "not really", "that won't work", "that wont work", "doesn't work",
		"doesnt work", "i don't like", "i dont like", "i disagree", "that's wrong",
		"thats wrong", "won't help", "wont help", "doesn't fit", "doesnt fit",
	}},
	{FeedbackPositive, []string{
		"yes", "yeah", "yep", "sounds good", "that works", "i like that",
		"i agree", "that helps", "makes sense", "let's do", "lets do",
		"i'll try", "ill try", "good idea",
	}},
}

// ClassifyFeedback reads the user's reaction to a proposed solution. It is
// deterministic on short reaction phrases; anything without a clear marker
// is uncertain and gets a follow-up question rather than a guess.
func ClassifyFeedback(utterance string) FeedbackKind {
	text := " " + normalizeUtterance(utterance) + " "
	if strings.TrimSpace(text) == "" {
		return FeedbackUncertain
	}
	for _, group := range feedbackMarkers {
		for _, p := range group.phrases {
			needle := p
			if !strings.HasSuffix(needle, " ") {
				needle = " " + needle + " "
			} else {
				needle = " " + needle
			}
			if strings.Contains(text, needle) {
				return group.kind
			}
		}
	}
	return FeedbackUncertain
}
