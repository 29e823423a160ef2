package services

import (
	"testing"

	"github.com/yungbote/counselbridge-backend/internal/config"
)

func TestGateIntake(t *testing.T) {
	policy := config.Default()
	cases := []struct {
		name      string
		utterance string
		want      IntakeVerdict
	}{
		{"empty", "   ", IntakeEmpty},
		{"plain", "I am struggling to balance work and my kids.", IntakeProceed},
		{"crisis phrase", "Some days I think about suicide.", IntakeCrisis},
		{"crisis multiword", "I just want to end my life, honestly.", IntakeCrisis},
		{"blocked topic", "Can you give me a medical diagnosis for this?", IntakeBlocked},
		{"word boundary", "I work in suicidology research.", IntakeProceed},
		{"punctuation stripped", "I want to KILL MYSELF!!!", IntakeCrisis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := GateIntake(policy, tc.utterance)
			if got.Verdict != tc.want {
				t.Fatalf("GateIntake(%q)=%s want %s (matched=%q)", tc.utterance, got.Verdict, tc.want, got.Matched)
			}
		})
	}
}

func TestContainsPhraseWholeWords(t *testing.T) {
	cases := []struct {
		text, phrase string
		want         bool
	}{
		{"i took a class today", "ass", false},
		{"i took a class today", "class", true},
		{"end my life", "end my life", true},
		{"blend my lifeline", "end my life", false},
	}
	for _, tc := range cases {
		if got := containsPhrase(tc.text, tc.phrase); got != tc.want {
			t.Fatalf("containsPhrase(%q,%q)=%v want %v", tc.text, tc.phrase, got, tc.want)
		}
	}
}
