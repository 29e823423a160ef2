package services

import "testing"

func TestClassifyFeedback(t *testing.T) {
	cases := []struct {
		utterance string
		want      FeedbackKind
	}{
		{"Yes, that sounds good to me.", FeedbackPositive},
		{"I like that, let's do it.", FeedbackPositive},
		{"No, that won't work for my schedule.", FeedbackNegative},
		{"I don't like this at all.", FeedbackNegative},
		{"Hmm, let me think about it for a while.", FeedbackNeedTime},
		{"I need time before deciding anything.", FeedbackNeedTime},
		{"It's hopeless, nothing will work anyway.", FeedbackLostConfidence},
		{"I give up.", FeedbackLostConfidence},
		{"Interesting weather today.", FeedbackUncertain},
		{"", FeedbackUncertain},
	}
	for _, tc := range cases {
		if got := ClassifyFeedback(tc.utterance); got != tc.want {
			t.Fatalf("ClassifyFeedback(%q)=%s want %s", tc.utterance, got, tc.want)
		}
	}
}
