package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/counselbridge-backend/internal/clients/redis"
	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/data/repos/session"
	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/observability"
	"github.com/yungbote/counselbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

type TurnResult struct {
	SessionID  uuid.UUID         `json:"session_id"`
	Turn       int               `json:"turn"`
	Phase      domain.Phase      `json:"phase"`
	Reply      string            `json:"reply"`
	Action     string            `json:"action"`
	Boundaries []domain.Boundary `json:"boundaries"`
	Incomplete bool              `json:"incomplete"`
}

type SessionView struct {
	ID               uuid.UUID         `json:"id"`
	Phase            domain.Phase      `json:"phase"`
	TurnCount        int               `json:"turn_count"`
	Incomplete       bool              `json:"incomplete"`
	Boundaries       []domain.Boundary `json:"boundaries"`
	History          []domain.Message  `json:"history"`
	PendingQuestions []string          `json:"pending_questions,omitempty"`
	Solution         string            `json:"solution,omitempty"`
	ReportedAt       *time.Time        `json:"reported_at,omitempty"`
}

// DialogueService orchestrates one counseling dialogue per session: it
// gates the utterance, extracts and merges boundaries, advances the phase
// machine and produces the assistant reply.
type DialogueService interface {
	HandleTurn(ctx context.Context, sessionID uuid.UUID, utterance string) (*TurnResult, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error)
	Report(ctx context.Context, sessionID uuid.UUID) (*domain.CounselReport, error)
	Reset(ctx context.Context, sessionID uuid.UUID) (*SessionView, error)
}

type dialogueService struct {
	policy    config.Policy
	repo      session.Repo
	cache     redis.SessionCache
	registry  SessionRegistry
	extractor BoundaryExtractor
	store     BoundaryStore
	tracker   StateTracker
	generator ResponseGenerator
	log       *logger.Logger
}

func NewDialogueService(
	policy config.Policy,
	repo session.Repo,
	cache redis.SessionCache,
	registry SessionRegistry,
	extractor BoundaryExtractor,
	store BoundaryStore,
	tracker StateTracker,
	generator ResponseGenerator,
	baseLog *logger.Logger,
) DialogueService {
	return &dialogueService{
		policy:    policy,
		repo:      repo,
		cache:     cache,
		registry:  registry,
		extractor: extractor,
		store:     store,
		tracker:   tracker,
		generator: generator,
		log:       baseLog.With("service", "dialogue"),
	}
}

func (s *dialogueService) HandleTurn(ctx context.Context, sessionID uuid.UUID, utterance string) (*TurnResult, error) {
	release, err := s.registry.Acquire(sessionID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.policy.TurnTimeout.Std())
	defer cancel()

	start := time.Now()
	rec, err := s.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(rec)
	if err != nil {
		return nil, err
	}

	gate := GateIntake(s.policy, utterance)
	switch gate.Verdict {
	case IntakeEmpty:
		return nil, fmt.Errorf("empty utterance")
	case IntakeCrisis:
		s.log.Warn("crisis intake routed", "session_id", sessionID.String(), "matched", gate.Matched)
		return s.finishTurn(ctx, rec, state, utterance, crisisResponse, "crisis", false, start)
	case IntakeBlocked:
		return s.finishTurn(ctx, rec, state, utterance, blockedResponse, "blocked", false, start)
	}

	phase := domain.Phase(rec.Phase)
	if phase == domain.PhaseSolutionReady || phase == domain.PhaseReported {
		return s.handleFeedbackTurn(ctx, rec, state, utterance, start)
	}
	return s.handleCollectingTurn(ctx, rec, state, utterance, start)
}

// handleCollectingTurn runs the extract-merge-assess-respond pipeline for
// the collecting and clarifying phases. Extraction failures degrade the
// turn: the boundary set stays untouched and the reply falls back to a
// generic question, so the user never sees an error page mid-conversation.
func (s *dialogueService) handleCollectingTurn(ctx context.Context, rec *domain.CounselSession, state *sessionState, utterance string, start time.Time) (*TurnResult, error) {
	turn := rec.TurnCount + 1
	history := append(state.History, domain.Message{Role: domain.RoleUser, Content: utterance, Turn: turn})

	incoming, err := s.extractor.Extract(ctx, history, turn)
	answered := err == nil
	if err != nil {
		var malformed *MalformedExtractionError
		var timeout *ServiceTimeoutError
		switch {
		case errors.As(err, &malformed):
			s.log.Warn("extraction degraded", "session_id", rec.ID.String(), "turn", turn, "reason", malformed.Reason)
			incoming = nil
		case errors.As(err, &timeout):
			observability.Current().IncExtractionFailure("timeout")
			s.log.Warn("extraction timed out", "session_id", rec.ID.String(), "turn", turn, "elapsed", timeout.Timeout.String())
			incoming = nil
		default:
			return nil, fmt.Errorf("extract boundaries: %w", err)
		}
	}
	// The oldest pending question is retired once the user's answer was
	// actually read; a degraded turn leaves it open for the next round.
	if answered && len(state.PendingQuestions) > 0 {
		state.PendingQuestions = state.PendingQuestions[1:]
	}

	merged := state.Boundaries
	if len(incoming) > 0 {
		var stats MergeStats
		merged, stats, err = s.store.Merge(ctx, state.Boundaries, incoming, turn)
		if err != nil {
			return nil, fmt.Errorf("merge boundaries: %w", err)
		}
		s.log.Debug("boundaries merged",
			"session_id", rec.ID.String(), "turn", turn,
			"added", stats.Added, "merged", stats.Merged, "new_conflicts", stats.NewConflicts)
	}

	assessment := s.tracker.Assess(merged, turn)
	next, err := s.tracker.Apply(domain.Phase(rec.Phase), assessment.Event)
	if err != nil {
		return nil, err
	}

	var reply, action string
	if next == domain.PhaseSolutionReady {
		incomplete := assessment.Forced
		state.Solution = s.generator.Solution(ctx, history, merged, incomplete)
		state.PendingQuestions = nil
		reply = state.Solution
		action = "propose_solution"
		rec.Incomplete = incomplete
	} else {
		reply = s.generator.Question(ctx, history, merged, assessment)
		state.PendingQuestions = appendPending(state.PendingQuestions, reply)
		action = "ask_question"
	}

	state.Boundaries = merged
	state.History = history
	rec.Phase = string(next)
	return s.finishTurn(ctx, rec, state, "", reply, action, true, start)
}

// handleFeedbackTurn reads the user's reaction once a solution is on the
// table. Negative feedback re-opens extraction so the objection becomes a
// new boundary before the proposal is redone.
func (s *dialogueService) handleFeedbackTurn(ctx context.Context, rec *domain.CounselSession, state *sessionState, utterance string, start time.Time) (*TurnResult, error) {
	turn := rec.TurnCount + 1
	history := append(state.History, domain.Message{Role: domain.RoleUser, Content: utterance, Turn: turn})
	kind := ClassifyFeedback(utterance)

	var reply string
	action := "feedback_" + string(kind)
	switch kind {
	case FeedbackPositive:
		reply = "I'm glad that feels workable. When you're ready, I can put together a summary of everything we discussed, or we can refine the plan further."
	case FeedbackNeedTime:
		reply = "Of course, take the time you need. The plan will be here when you come back to it."
	case FeedbackLostConfidence:
		reply = "That sounds really discouraging, and it's understandable to feel that way. We don't have to solve everything at once; would it help to look at just the smallest first step?"
	case FeedbackNegative:
		incoming, err := s.extractor.Extract(ctx, history, turn)
		if err != nil {
			var malformed *MalformedExtractionError
			var timeout *ServiceTimeoutError
			if !errors.As(err, &malformed) && !errors.As(err, &timeout) {
				return nil, fmt.Errorf("extract feedback boundaries: %w", err)
			}
			incoming = nil
		}
		merged := state.Boundaries
		if len(incoming) > 0 {
			merged, _, err = s.store.Merge(ctx, state.Boundaries, incoming, turn)
			if err != nil {
				return nil, fmt.Errorf("merge feedback boundaries: %w", err)
			}
		}
		state.Boundaries = merged
		state.Solution = s.generator.Solution(ctx, history, merged, rec.Incomplete)
		reply = "Thanks for telling me, that's useful. Here's a revised direction:\n\n" + state.Solution
		action = "revise_solution"
	default:
		reply = "Could you tell me a bit more about what feels off, or what you're unsure about?"
	}

	state.History = history
	return s.finishTurn(ctx, rec, state, "", reply, action, true, start)
}

func (s *dialogueService) Report(ctx context.Context, sessionID uuid.UUID) (*domain.CounselReport, error) {
	release, err := s.registry.Acquire(sessionID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.policy.TurnTimeout.Std())
	defer cancel()

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(rec)
	if err != nil {
		return nil, err
	}
	phase := domain.Phase(rec.Phase)
	if phase != domain.PhaseSolutionReady && phase != domain.PhaseReported {
		return nil, fmt.Errorf("phase %s: %w", phase, ErrReportNotReady)
	}
	// A cap-forced session may still hold explicit contradictions that no
	// further turn can clear; the incomplete report lists both sides
	// instead of blocking forever.
	if !rec.Incomplete {
		for _, b := range state.Boundaries {
			if b.Conflicting && !b.Superseded {
				return nil, ErrConflictUnresolved
			}
		}
	}

	content := s.generator.Report(ctx, state.Boundaries, state.Solution, rec.Incomplete)
	boundsJSON, err := json.Marshal(state.Boundaries)
	if err != nil {
		return nil, fmt.Errorf("encode boundaries: %w", err)
	}
	report := &domain.CounselReport{
		SessionID:  rec.ID,
		Content:    content,
		Boundaries: datatypes.JSON(boundsJSON),
		Incomplete: rec.Incomplete,
	}
	if err := s.repo.CreateReport(dbctx.New(ctx), report); err != nil {
		return nil, err
	}

	next, err := s.tracker.Apply(phase, EventReportDone)
	if err != nil {
		return nil, err
	}
	rec.Phase = string(next)
	now := time.Now()
	rec.ReportedAt = &now
	if err := s.persist(ctx, rec, state); err != nil {
		return nil, err
	}
	return report, nil
}

// Reset is the one sanctioned regression: the session returns to collecting
// with a clean slate while keeping its identity and row.
func (s *dialogueService) Reset(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	release, err := s.registry.Acquire(sessionID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := s.tracker.Apply(domain.Phase(rec.Phase), EventReset)
	if err != nil {
		return nil, err
	}
	rec.Phase = string(next)
	rec.TurnCount = 0
	rec.Incomplete = false
	rec.ReportedAt = nil
	rec.Solution = ""
	state := &sessionState{}
	if err := s.persist(ctx, rec, state); err != nil {
		return nil, err
	}
	s.log.Info("session reset", "session_id", sessionID.String())
	return viewOf(rec, state), nil
}

func (s *dialogueService) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	rec, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(rec)
	if err != nil {
		return nil, err
	}
	return viewOf(rec, state), nil
}

// finishTurn appends the assistant reply, persists and reports metrics.
// Crisis and blocked turns pass the utterance so the exchange still lands in
// history, but with counted=false they never advance the turn counter and so
// never eat into the cap.
func (s *dialogueService) finishTurn(ctx context.Context, rec *domain.CounselSession, state *sessionState, pendingUser, reply, action string, counted bool, start time.Time) (*TurnResult, error) {
	turn := rec.TurnCount + 1
	if pendingUser != "" {
		state.History = append(state.History, domain.Message{Role: domain.RoleUser, Content: pendingUser, Turn: turn})
	}
	state.History = append(state.History, domain.Message{Role: domain.RoleAssistant, Content: reply, Turn: turn})
	if counted {
		rec.TurnCount = turn
	}
	if err := s.persist(ctx, rec, state); err != nil {
		return nil, err
	}
	observability.Current().ObserveTurn(rec.Phase, action, time.Since(start))
	return &TurnResult{
		SessionID:  rec.ID,
		Turn:       rec.TurnCount,
		Phase:      domain.Phase(rec.Phase),
		Reply:      reply,
		Action:     action,
		Boundaries: state.Boundaries,
		Incomplete: rec.Incomplete,
	}, nil
}

// appendPending keeps the unresolved-question queue ordered and free of
// duplicates; degraded turns can re-ask the same canned question.
func appendPending(list []string, q string) []string {
	for _, p := range list {
		if p == q {
			return list
		}
	}
	return append(list, q)
}

func (s *dialogueService) loadOrCreate(ctx context.Context, id uuid.UUID) (*domain.CounselSession, error) {
	rec, err := s.load(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	rec = &domain.CounselSession{ID: id, Phase: string(domain.PhaseCollecting)}
	if err := s.repo.Create(dbctx.New(ctx), rec); err != nil {
		return nil, err
	}
	s.log.Info("session created", "session_id", id.String())
	return rec, nil
}

func (s *dialogueService) load(ctx context.Context, id uuid.UUID) (*domain.CounselSession, error) {
	if s.cache != nil {
		if rec, err := s.cache.Get(ctx, id.String()); err == nil && rec != nil {
			return rec, nil
		}
	}
	rec, err := s.repo.GetByID(dbctx.New(ctx), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *dialogueService) persist(ctx context.Context, rec *domain.CounselSession, state *sessionState) error {
	if err := encodeState(rec, state); err != nil {
		return err
	}
	if err := s.repo.Save(dbctx.New(ctx), rec); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, rec, s.policy.SessionTTL.Std()); err != nil {
			s.log.Warn("session snapshot cache write failed", "session_id", rec.ID.String(), "error", err.Error())
		}
	}
	return nil
}

// sessionState is the decoded form of the JSON columns on CounselSession.
type sessionState struct {
	Boundaries       []domain.Boundary
	History          []domain.Message
	PendingQuestions []string
	Solution         string
}

func decodeState(rec *domain.CounselSession) (*sessionState, error) {
	st := &sessionState{}
	if len(rec.Boundaries) > 0 {
		if err := json.Unmarshal(rec.Boundaries, &st.Boundaries); err != nil {
			return nil, fmt.Errorf("decode boundaries: %w", err)
		}
	}
	if len(rec.History) > 0 {
		if err := json.Unmarshal(rec.History, &st.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	if len(rec.PendingQuestions) > 0 {
		if err := json.Unmarshal(rec.PendingQuestions, &st.PendingQuestions); err != nil {
			return nil, fmt.Errorf("decode pending questions: %w", err)
		}
	}
	st.Solution = rec.Solution
	return st, nil
}

func encodeState(rec *domain.CounselSession, st *sessionState) error {
	bounds, err := json.Marshal(st.Boundaries)
	if err != nil {
		return fmt.Errorf("encode boundaries: %w", err)
	}
	hist, err := json.Marshal(st.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	pending, err := json.Marshal(st.PendingQuestions)
	if err != nil {
		return fmt.Errorf("encode pending questions: %w", err)
	}
	rec.Boundaries = datatypes.JSON(bounds)
	rec.History = datatypes.JSON(hist)
	rec.PendingQuestions = datatypes.JSON(pending)
	rec.Solution = st.Solution
	return nil
}

func viewOf(rec *domain.CounselSession, st *sessionState) *SessionView {
	return &SessionView{
		ID:               rec.ID,
		Phase:            domain.Phase(rec.Phase),
		TurnCount:        rec.TurnCount,
		Incomplete:       rec.Incomplete,
		Boundaries:       st.Boundaries,
		History:          st.History,
		PendingQuestions: st.PendingQuestions,
		Solution:         rec.Solution,
		ReportedAt:       rec.ReportedAt,
	}
}
