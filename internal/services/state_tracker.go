package services

import (
	"fmt"

	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

type PhaseEvent string

const (
	EventNeedInfo    PhaseEvent = "need_info"
	EventNeedClarify PhaseEvent = "need_clarify"
	EventReady       PhaseEvent = "ready"
	EventCapExceeded PhaseEvent = "cap_exceeded"
	EventReportDone  PhaseEvent = "report_done"
	EventReset       PhaseEvent = "reset"
)

// transitions is the full phase machine. Absent entries mean "hold the
// current phase"; there is no backward edge anywhere except reset.
var transitions = map[domain.Phase]map[PhaseEvent]domain.Phase{
	domain.PhaseCollecting: {
		EventNeedClarify: domain.PhaseClarifying,
		EventReady:       domain.PhaseSolutionReady,
		EventCapExceeded: domain.PhaseSolutionReady,
		EventReset:       domain.PhaseCollecting,
	},
	domain.PhaseClarifying: {
		EventReady:       domain.PhaseSolutionReady,
		EventCapExceeded: domain.PhaseSolutionReady,
		EventReset:       domain.PhaseCollecting,
	},
	domain.PhaseSolutionReady: {
		EventReportDone: domain.PhaseReported,
		EventReset:      domain.PhaseCollecting,
	},
	domain.PhaseReported: {
		EventReset: domain.PhaseCollecting,
	},
}

// Assessment is what the tracker concluded from the current boundary set.
type Assessment struct {
	Event             PhaseEvent
	MissingCategories []domain.BoundaryCategory
	ConflictCount     int
	LowConfidence     []domain.Boundary
	Forced            bool
}

// StateTracker owns phase progression. Apply enforces monotonicity: any
// computed target that would move backward holds the current phase instead.
type StateTracker interface {
	Assess(boundaries []domain.Boundary, turnCount int) Assessment
	Apply(current domain.Phase, event PhaseEvent) (domain.Phase, error)
}

type stateTracker struct {
	policy config.Policy
	log    *logger.Logger
}

func NewStateTracker(policy config.Policy, baseLog *logger.Logger) StateTracker {
	return &stateTracker{policy: policy, log: baseLog.With("service", "state_tracker")}
}

// Assess ranks what the dialogue still needs. The turn cap dominates: once
// reached the session is forced toward a (possibly incomplete) solution.
// Otherwise missing required categories keep collecting, and unresolved
// conflicts or low-confidence boundaries trigger clarification.
func (s *stateTracker) Assess(boundaries []domain.Boundary, turnCount int) Assessment {
	a := Assessment{}

	if turnCount >= s.policy.TurnCap {
		a.Event = EventCapExceeded
		a.Forced = true
		a.MissingCategories = s.missingCategories(boundaries)
		return a
	}

	a.MissingCategories = s.missingCategories(boundaries)
	var confSum float64
	active := 0
	for _, b := range boundaries {
		if b.Superseded {
			continue
		}
		active++
		confSum += b.Confidence
		if b.Conflicting {
			a.ConflictCount++
		} else if b.Confidence < s.policy.LowConfidence {
			a.LowConfidence = append(a.LowConfidence, b)
		}
	}
	avgBelow := active > 0 && confSum/float64(active) < s.policy.ConfidenceThreshold

	switch {
	case len(a.MissingCategories) > 0:
		a.Event = EventNeedInfo
	case a.ConflictCount > 0 || len(a.LowConfidence) > 0 || avgBelow:
		a.Event = EventNeedClarify
	default:
		a.Event = EventReady
	}
	return a
}

// missingCategories walks the configured priority order so the first
// missing category is always the next one to ask about.
func (s *stateTracker) missingCategories(boundaries []domain.Boundary) []domain.BoundaryCategory {
	have := map[domain.BoundaryCategory]bool{}
	for _, b := range boundaries {
		if b.Superseded {
			continue
		}
		if b.Confidence >= s.policy.ConfidenceThreshold {
			have[b.Category] = true
		}
	}
	required := map[domain.BoundaryCategory]bool{}
	for _, c := range s.policy.RequiredCategories {
		required[c] = true
	}
	var missing []domain.BoundaryCategory
	for _, c := range s.policy.CategoryPriority {
		if required[c] && !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

func (s *stateTracker) Apply(current domain.Phase, event PhaseEvent) (domain.Phase, error) {
	if !current.Valid() {
		return current, fmt.Errorf("unknown phase %q", current)
	}
	next, ok := transitions[current][event]
	if !ok {
		// No edge: hold. need_info and need_clarify inside later phases
		// never regress the session.
		return current, nil
	}
	if event != EventReset && next.Rank() < current.Rank() {
		s.log.Warn("suppressing backward transition", "from", string(current), "to", string(next), "event", string(event))
		return current, nil
	}
	return next, nil
}
