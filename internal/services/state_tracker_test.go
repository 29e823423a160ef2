package services

import (
	"testing"

	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/domain"
)

func newTestTracker(t *testing.T) StateTracker {
	t.Helper()
	return NewStateTracker(config.Default(), testLogger(t))
}

func TestAssessMissingCategoriesFollowPriority(t *testing.T) {
	tr := newTestTracker(t)
	a := tr.Assess(nil, 1)
	if a.Event != EventNeedInfo {
		t.Fatalf("empty store should need info, got %s", a.Event)
	}
	if len(a.MissingCategories) != 2 || a.MissingCategories[0] != domain.CategoryObjective {
		t.Fatalf("objective should be first missing, got %v", a.MissingCategories)
	}

	a = tr.Assess([]domain.Boundary{
		bnd(domain.CategoryObjective, "time", "only evenings free", domain.SourceExplicit, 0.9, 1),
	}, 2)
	if len(a.MissingCategories) != 1 || a.MissingCategories[0] != domain.CategorySubjective {
		t.Fatalf("subjective should be next missing, got %v", a.MissingCategories)
	}
}

func TestAssessIgnoresLowConfidenceForCoverage(t *testing.T) {
	tr := newTestTracker(t)
	a := tr.Assess([]domain.Boundary{
		bnd(domain.CategoryObjective, "time", "maybe evenings", domain.SourceContextual, 0.3, 1),
	}, 1)
	if a.Event != EventNeedInfo {
		t.Fatalf("a 0.3-confidence boundary must not count as coverage, got %s", a.Event)
	}
	if len(a.MissingCategories) == 0 || a.MissingCategories[0] != domain.CategoryObjective {
		t.Fatalf("objective still missing, got %v", a.MissingCategories)
	}
}

func TestAssessConflictsTriggerClarify(t *testing.T) {
	tr := newTestTracker(t)
	conflicting := bnd(domain.CategoryObjective, "economic", "no more than 200", domain.SourceExplicit, 0.9, 1)
	conflicting.Conflicting = true
	a := tr.Assess([]domain.Boundary{
		conflicting,
		bnd(domain.CategorySubjective, "value", "stability matters", domain.SourceExplicit, 0.8, 1),
	}, 3)
	if a.Event != EventNeedClarify {
		t.Fatalf("conflicts should demand clarification, got %s", a.Event)
	}
	if a.ConflictCount != 1 {
		t.Fatalf("conflict count = %d", a.ConflictCount)
	}
}

func TestAssessLowAverageConfidenceTriggersClarify(t *testing.T) {
	tr := newTestTracker(t)
	a := tr.Assess([]domain.Boundary{
		bnd(domain.CategoryObjective, "time", "only evenings free", domain.SourceExplicit, 0.62, 1),
		bnd(domain.CategorySubjective, "value", "stability matters", domain.SourceExplicit, 0.62, 1),
		bnd(domain.CategorySolution, "method", "prefers gradual change maybe", domain.SourceContextual, 0.45, 2),
		bnd(domain.CategorySolution, "scope", "possibly keep current role", domain.SourceContextual, 0.45, 2),
	}, 3)
	if a.Event != EventNeedClarify {
		t.Fatalf("low average confidence should clarify, got %s", a.Event)
	}
}

func TestAssessReadyWhenCovered(t *testing.T) {
	tr := newTestTracker(t)
	a := tr.Assess([]domain.Boundary{
		bnd(domain.CategoryObjective, "time", "only evenings free", domain.SourceExplicit, 0.9, 1),
		bnd(domain.CategorySubjective, "value", "stability matters", domain.SourceExplicit, 0.8, 2),
	}, 3)
	if a.Event != EventReady {
		t.Fatalf("covered store should be ready, got %s", a.Event)
	}
}

func TestAssessTurnCapForces(t *testing.T) {
	tr := newTestTracker(t)
	a := tr.Assess(nil, config.Default().TurnCap)
	if a.Event != EventCapExceeded || !a.Forced {
		t.Fatalf("turn cap must force termination, got %+v", a)
	}
}

func TestApplyForwardOnly(t *testing.T) {
	tr := newTestTracker(t)
	cases := []struct {
		from  domain.Phase
		event PhaseEvent
		want  domain.Phase
	}{
		{domain.PhaseCollecting, EventNeedInfo, domain.PhaseCollecting},
		{domain.PhaseCollecting, EventNeedClarify, domain.PhaseClarifying},
		{domain.PhaseCollecting, EventReady, domain.PhaseSolutionReady},
		{domain.PhaseCollecting, EventCapExceeded, domain.PhaseSolutionReady},
		{domain.PhaseClarifying, EventNeedInfo, domain.PhaseClarifying},
		{domain.PhaseClarifying, EventNeedClarify, domain.PhaseClarifying},
		{domain.PhaseClarifying, EventReady, domain.PhaseSolutionReady},
		{domain.PhaseSolutionReady, EventNeedInfo, domain.PhaseSolutionReady},
		{domain.PhaseSolutionReady, EventNeedClarify, domain.PhaseSolutionReady},
		{domain.PhaseSolutionReady, EventReportDone, domain.PhaseReported},
		{domain.PhaseReported, EventReady, domain.PhaseReported},
		{domain.PhaseReported, EventReset, domain.PhaseCollecting},
		{domain.PhaseSolutionReady, EventReset, domain.PhaseCollecting},
	}
	for _, tc := range cases {
		got, err := tr.Apply(tc.from, tc.event)
		if err != nil {
			t.Fatalf("apply(%s,%s): %v", tc.from, tc.event, err)
		}
		if got != tc.want {
			t.Fatalf("apply(%s,%s)=%s want %s", tc.from, tc.event, got, tc.want)
		}
	}
}

func TestApplyRejectsUnknownPhase(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.Apply(domain.Phase("bogus"), EventReady); err == nil {
		t.Fatalf("unknown phase must error")
	}
}
