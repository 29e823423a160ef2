package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/data/repos/session"
	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/dbctx"
)

// memRepo is an in-memory session.Repo for orchestration tests.
type memRepo struct {
	sessions map[uuid.UUID]domain.CounselSession
	reports  []domain.CounselReport
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: map[uuid.UUID]domain.CounselSession{}}
}

func (m *memRepo) Create(_ dbctx.Context, rec *domain.CounselSession) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.sessions[rec.ID] = *rec
	return nil
}

func (m *memRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.CounselSession, error) {
	rec, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (m *memRepo) Save(_ dbctx.Context, rec *domain.CounselSession) error {
	m.sessions[rec.ID] = *rec
	return nil
}

func (m *memRepo) CreateReport(_ dbctx.Context, rec *domain.CounselReport) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.reports = append(m.reports, *rec)
	return nil
}

func (m *memRepo) LatestReport(_ dbctx.Context, sessionID uuid.UUID) (*domain.CounselReport, error) {
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].SessionID == sessionID {
			cp := m.reports[i]
			return &cp, nil
		}
	}
	return nil, session.ErrNotFound
}

func newTestDialogue(t *testing.T, ai *fakeAI, repo *memRepo) DialogueService {
	t.Helper()
	policy := config.Default()
	log := testLogger(t)
	return NewDialogueService(
		policy,
		repo,
		nil,
		NewSessionRegistry(policy, nil, log),
		NewBoundaryExtractor(ai, policy, log),
		NewBoundaryStore(NewTokenMatcher(policy), NewExclusiveSubtypePolicy(policy), log),
		NewStateTracker(policy, log),
		NewResponseGenerator(ai, policy, log),
		log,
	)
}

// The canonical walkthrough: a single mother describes her situation, the
// system collects objective then subjective boundaries, proposes a solution
// once coverage is reached, and produces a report after acceptance.
func TestSingleMotherScenario(t *testing.T) {
	ai := &fakeAI{
		jsonResponses: []map[string]interface{}{
			extractionPayload(
				[]map[string]interface{}{
					rawBnd("time", "works two jobs, only late evenings are free", "low", "explicit", 0.95),
					rawBnd("economic", "money is very tight every month", "low", "explicit", 0.9),
				},
				nil, nil,
			),
			extractionPayload(
				nil,
				[]map[string]interface{}{
					rawBnd("value", "being present for her daughter matters most", "low", "explicit", 0.9),
				},
				[]map[string]interface{}{
					rawBnd("excluded", "will not consider moving away from the city", "low", "explicit", 0.85),
				},
			),
		},
		textFn: func(system, user string) (string, error) {
			if strings.Contains(system, "next-step plan") {
				return "Try blocking two protected evenings a week for your daughter, and ask your employer about shift consolidation.", nil
			}
			if strings.Contains(system, "session summary") || strings.Contains(system, "Situation") {
				return "Situation: ...\nStated Constraints: ...\nProposed Direction: ...", nil
			}
			return "What matters most to you personally in all of this?", nil
		},
	}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()
	ctx := context.Background()

	res, err := svc.HandleTurn(ctx, id, "I'm a single mother working two jobs and money is very tight.")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if res.Phase != domain.PhaseCollecting {
		t.Fatalf("turn 1 phase = %s, want collecting", res.Phase)
	}
	if res.Action != "ask_question" {
		t.Fatalf("turn 1 action = %s", res.Action)
	}
	if len(res.Boundaries) != 2 {
		t.Fatalf("turn 1 boundaries = %d", len(res.Boundaries))
	}

	res, err = svc.HandleTurn(ctx, id, "Being there for my daughter matters most, and I won't move away from the city.")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if res.Phase != domain.PhaseSolutionReady {
		t.Fatalf("turn 2 phase = %s, want solution_ready", res.Phase)
	}
	if res.Action != "propose_solution" {
		t.Fatalf("turn 2 action = %s", res.Action)
	}
	if res.Incomplete {
		t.Fatalf("turn 2 should not be incomplete")
	}
	if len(res.Boundaries) != 4 {
		t.Fatalf("turn 2 boundaries = %d", len(res.Boundaries))
	}

	res, err = svc.HandleTurn(ctx, id, "Yes, that sounds good.")
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if res.Action != "feedback_positive" {
		t.Fatalf("turn 3 action = %s", res.Action)
	}
	if res.Phase != domain.PhaseSolutionReady {
		t.Fatalf("turn 3 phase = %s", res.Phase)
	}

	report, err := svc.Report(ctx, id)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Content == "" || report.Incomplete {
		t.Fatalf("unexpected report %+v", report)
	}
	view, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.Phase != domain.PhaseReported {
		t.Fatalf("final phase = %s, want reported", view.Phase)
	}
	if view.TurnCount != 3 {
		t.Fatalf("turn count = %d", view.TurnCount)
	}
}

func TestTurnDegradesOnMalformedExtraction(t *testing.T) {
	bad := extractionPayload(
		[]map[string]interface{}{rawBnd("time", "", "low", "explicit", 0.9)},
		nil, nil,
	)
	ai := &fakeAI{jsonResponses: []map[string]interface{}{bad, bad}}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()

	res, err := svc.HandleTurn(context.Background(), id, "I feel stuck between my job and my family.")
	if err != nil {
		t.Fatalf("malformed extraction must degrade, not fail: %v", err)
	}
	if len(res.Boundaries) != 0 {
		t.Fatalf("degraded turn must not invent boundaries: %+v", res.Boundaries)
	}
	if res.Reply == "" || res.Action != "ask_question" {
		t.Fatalf("degraded turn should still ask a question, got %+v", res)
	}
	if res.Turn != 1 {
		t.Fatalf("turn should still count, got %d", res.Turn)
	}
}

func TestCrisisUtteranceShortCircuits(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()

	res, err := svc.HandleTurn(context.Background(), id, "Lately I think about suicide a lot.")
	if err != nil {
		t.Fatalf("crisis turn: %v", err)
	}
	if res.Action != "crisis" {
		t.Fatalf("action = %s", res.Action)
	}
	if res.Reply != crisisResponse {
		t.Fatalf("crisis reply must be the fixed routing text")
	}
	if ai.jsonCalls != 0 {
		t.Fatalf("crisis turns must not call the model, got %d calls", ai.jsonCalls)
	}
	if res.Phase != domain.PhaseCollecting {
		t.Fatalf("crisis must not advance phase, got %s", res.Phase)
	}
	if res.Turn != 0 {
		t.Fatalf("crisis turn must not count, got turn %d", res.Turn)
	}
	view, err := svc.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.TurnCount != 0 {
		t.Fatalf("gated turn counted toward the cap: %d", view.TurnCount)
	}
	if len(view.History) != 2 {
		t.Fatalf("crisis exchange should still land in history, got %d messages", len(view.History))
	}
}

// A session one turn from the cap must not be pushed over it by gated
// utterances; only processed turns consume the budget.
func TestGatedTurnsDoNotConsumeTurnCap(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	policy := config.Default()
	id := uuid.New()
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseCollecting), TurnCount: policy.TurnCap - 1}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.HandleTurn(context.Background(), id, "What do you think about the election?")
	if err != nil {
		t.Fatalf("blocked turn: %v", err)
	}
	if res.Action != "blocked" {
		t.Fatalf("action = %s", res.Action)
	}
	if res.Turn != policy.TurnCap-1 {
		t.Fatalf("blocked turn advanced the counter to %d", res.Turn)
	}
	if res.Phase != domain.PhaseCollecting || res.Incomplete {
		t.Fatalf("blocked turn must not force termination: %+v", res)
	}
}

func TestTurnCapForcesIncompleteSolution(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	policy := config.Default()
	log := testLogger(t)
	svc := NewDialogueService(
		policy, repo, nil,
		NewSessionRegistry(policy, nil, log),
		NewBoundaryExtractor(ai, policy, log),
		NewBoundaryStore(NewTokenMatcher(policy), NewExclusiveSubtypePolicy(policy), log),
		NewStateTracker(policy, log),
		NewResponseGenerator(ai, policy, log),
		log,
	)
	id := uuid.New()
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseCollecting), TurnCount: policy.TurnCap - 1}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.HandleTurn(context.Background(), id, "I still don't know what else to say.")
	if err != nil {
		t.Fatalf("capped turn: %v", err)
	}
	if res.Phase != domain.PhaseSolutionReady {
		t.Fatalf("cap must force solution_ready, got %s", res.Phase)
	}
	if !res.Incomplete {
		t.Fatalf("forced solution must be flagged incomplete")
	}
	if res.Action != "propose_solution" {
		t.Fatalf("action = %s", res.Action)
	}
}

func TestNegativeFeedbackRevisesSolution(t *testing.T) {
	ai := &fakeAI{
		jsonResponses: []map[string]interface{}{
			extractionPayload(
				[]map[string]interface{}{
					rawBnd("time", "evenings are not actually free on weekdays", "low", "explicit", 0.9),
				},
				nil, nil,
			),
		},
	}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseSolutionReady), TurnCount: 5, Solution: "old plan"}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := svc.HandleTurn(context.Background(), id, "No, that won't work with my shifts.")
	if err != nil {
		t.Fatalf("feedback turn: %v", err)
	}
	if res.Action != "revise_solution" {
		t.Fatalf("action = %s", res.Action)
	}
	if len(res.Boundaries) != 1 {
		t.Fatalf("objection should become a boundary, got %d", len(res.Boundaries))
	}
	if res.Phase != domain.PhaseSolutionReady {
		t.Fatalf("revision must stay in solution_ready, got %s", res.Phase)
	}
}

func TestReportBlockedByUnresolvedConflict(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()

	conflicted := bnd(domain.CategoryObjective, "economic", "no more than 200", domain.SourceExplicit, 0.9, 1)
	conflicted.Conflicting = true
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseSolutionReady), TurnCount: 4}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st := &sessionState{Boundaries: []domain.Boundary{conflicted}}
	if err := encodeState(rec, st); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := repo.Save(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := svc.Report(context.Background(), id); !errors.Is(err, ErrConflictUnresolved) {
		t.Fatalf("want ErrConflictUnresolved, got %v", err)
	}
}

// A cap-forced session can hold two explicit contradictions that no further
// turn will resolve; the report must still come out, flagged incomplete.
func TestForcedIncompleteReportProceedsDespiteConflict(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()

	a := bnd(domain.CategoryObjective, "economic", "cannot spend more than 200 a month", domain.SourceExplicit, 0.9, 1)
	b := bnd(domain.CategoryObjective, "economic", "willing to invest up to 1000 total", domain.SourceExplicit, 0.8, 2)
	a.Conflicting = true
	b.Conflicting = true
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseSolutionReady), TurnCount: 20, Incomplete: true, Solution: "tentative plan"}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st := &sessionState{Boundaries: []domain.Boundary{a, b}, Solution: "tentative plan"}
	if err := encodeState(rec, st); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := repo.Save(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := svc.Report(context.Background(), id)
	if err != nil {
		t.Fatalf("forced-incomplete session must still report: %v", err)
	}
	if report.Content == "" || !report.Incomplete {
		t.Fatalf("unexpected report %+v", report)
	}
	view, err := svc.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.Phase != domain.PhaseReported {
		t.Fatalf("phase = %s, want reported", view.Phase)
	}
}

// Pending questions form an ordered queue: an answered question retires, a
// degraded turn keeps its question open alongside the new one, and a
// delivered solution clears the queue.
func TestPendingQuestionsQueue(t *testing.T) {
	good1 := extractionPayload(
		[]map[string]interface{}{rawBnd("time", "works two jobs, only late evenings are free", "low", "explicit", 0.9)},
		nil, nil,
	)
	bad := extractionPayload(
		[]map[string]interface{}{rawBnd("time", "", "low", "explicit", 0.9)},
		nil, nil,
	)
	good2 := extractionPayload(
		nil,
		[]map[string]interface{}{rawBnd("value", "being present for her daughter matters most", "low", "explicit", 0.9)},
		nil,
	)
	questions := []string{
		"What does a typical week look like for you?",
		"Could you put that another way for me?",
	}
	asked := 0
	ai := &fakeAI{
		jsonResponses: []map[string]interface{}{good1, bad, bad, good2},
		textFn: func(system, user string) (string, error) {
			if strings.Contains(system, "next-step plan") {
				return "Protect two evenings a week for your daughter.", nil
			}
			q := questions[asked%len(questions)]
			asked++
			return q, nil
		},
	}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()
	ctx := context.Background()

	if _, err := svc.HandleTurn(ctx, id, "I'm stretched thin between two jobs."); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	view, err := svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(view.PendingQuestions) != 1 || view.PendingQuestions[0] != questions[0] {
		t.Fatalf("after turn 1 pending = %v", view.PendingQuestions)
	}

	if _, err := svc.HandleTurn(ctx, id, "hmm it's hard to say"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	view, err = svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(view.PendingQuestions) != 2 {
		t.Fatalf("degraded turn must keep the open question and add one, got %v", view.PendingQuestions)
	}
	if view.PendingQuestions[0] != questions[0] || view.PendingQuestions[1] != questions[1] {
		t.Fatalf("queue order wrong: %v", view.PendingQuestions)
	}

	if _, err := svc.HandleTurn(ctx, id, "Being there for my daughter matters most."); err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	view, err = svc.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.Phase != domain.PhaseSolutionReady {
		t.Fatalf("turn 3 phase = %s", view.Phase)
	}
	if len(view.PendingQuestions) != 0 {
		t.Fatalf("solution must clear the queue, got %v", view.PendingQuestions)
	}
}

func TestReportBeforeSolutionReady(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseCollecting)}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Report(context.Background(), id); !errors.Is(err, ErrReportNotReady) {
		t.Fatalf("want ErrReportNotReady, got %v", err)
	}
}

func TestResetReturnsToCollecting(t *testing.T) {
	ai := &fakeAI{}
	repo := newMemRepo()
	svc := newTestDialogue(t, ai, repo)
	id := uuid.New()
	rec := &domain.CounselSession{ID: id, Phase: string(domain.PhaseReported), TurnCount: 12, Incomplete: true, Solution: "plan"}
	if err := repo.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	view, err := svc.Reset(context.Background(), id)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if view.Phase != domain.PhaseCollecting || view.TurnCount != 0 || view.Incomplete {
		t.Fatalf("reset view wrong: %+v", view)
	}
	if len(view.Boundaries) != 0 || view.Solution != "" {
		t.Fatalf("reset must clear state: %+v", view)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	svc := newTestDialogue(t, &fakeAI{}, newMemRepo())
	if _, err := svc.GetSession(context.Background(), uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}
