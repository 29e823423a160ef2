package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/observability"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
	"github.com/yungbote/counselbridge-backend/internal/platform/openai"
)

// BoundaryExtractor turns recent conversation history into candidate
// boundaries for the current turn.
type BoundaryExtractor interface {
	Extract(ctx context.Context, history []domain.Message, turn int) ([]domain.Boundary, error)
}

type extractorService struct {
	ai     openai.Client
	policy config.Policy
	log    *logger.Logger
}

func NewBoundaryExtractor(ai openai.Client, policy config.Policy, baseLog *logger.Logger) BoundaryExtractor {
	return &extractorService{
		ai:     ai,
		policy: policy,
		log:    baseLog.With("service", "boundary_extractor"),
	}
}

type rawBoundary struct {
	Subtype     string  `json:"subtype"`
	Content     string  `json:"content"`
	Flexibility string  `json:"flexibility"`
	Source      string  `json:"source"`
	Confidence  float64 `json:"confidence"`
}

type rawExtraction struct {
	Objective  []rawBoundary `json:"objective_boundaries"`
	Subjective []rawBoundary `json:"subjective_boundaries"`
	Solution   []rawBoundary `json:"solution_boundaries"`
}

// Extract requests structured extraction and strictly validates the reply.
// One retry with a stricter reminder is allowed; a second malformed reply
// surfaces as MalformedExtractionError so the caller can degrade the turn
// instead of failing it.
func (s *extractorService) Extract(ctx context.Context, history []domain.Message, turn int) ([]domain.Boundary, error) {
	user := "Conversation so far:\n" + formatHistory(history, s.policy.ContextWindow) +
		"\nExtract the boundaries present in this conversation."

	out, err := s.extractOnce(ctx, extractionSystemPrompt, user, turn)
	if err == nil {
		return out, nil
	}
	var malformed *MalformedExtractionError
	if !errors.As(err, &malformed) {
		return nil, err
	}
	observability.Current().IncExtractionFailure("malformed_first")
	s.log.Warn("extraction malformed, retrying strictly", "turn", turn, "reason", malformed.Reason)

	out, err = s.extractOnce(ctx, extractionSystemPrompt+"\n\n"+extractionStrictReminder, user, turn)
	if err != nil {
		if errors.As(err, &malformed) {
			observability.Current().IncExtractionFailure("malformed_final")
		}
		return nil, err
	}
	return out, nil
}

func (s *extractorService) extractOnce(ctx context.Context, system, user string, turn int) ([]domain.Boundary, error) {
	start := time.Now()
	obj, err := s.ai.GenerateJSON(ctx, system, user, "boundary_extraction", extractionSchema())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ServiceTimeoutError{Op: "boundary extraction", Timeout: time.Since(start)}
		}
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encode extraction: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	var parsed rawExtraction
	if err := dec.Decode(&parsed); err != nil {
		return nil, &MalformedExtractionError{Reason: err.Error(), Raw: clip(string(raw), 500)}
	}

	var out []domain.Boundary
	for _, grp := range []struct {
		cat  domain.BoundaryCategory
		list []rawBoundary
	}{
		{domain.CategoryObjective, parsed.Objective},
		{domain.CategorySubjective, parsed.Subjective},
		{domain.CategorySolution, parsed.Solution},
	} {
		for _, rb := range grp.list {
			b, err := normalizeBoundary(grp.cat, rb, turn)
			if err != nil {
				return nil, &MalformedExtractionError{Reason: err.Error(), Raw: clip(string(raw), 500)}
			}
			out = append(out, b)
		}
	}
	return out, nil
}

func normalizeBoundary(cat domain.BoundaryCategory, rb rawBoundary, turn int) (domain.Boundary, error) {
	content := strings.TrimSpace(rb.Content)
	if content == "" {
		return domain.Boundary{}, fmt.Errorf("boundary with empty content in %s", cat)
	}
	flex := domain.Flexibility(strings.ToLower(strings.TrimSpace(rb.Flexibility)))
	if !flex.Valid() {
		return domain.Boundary{}, fmt.Errorf("invalid flexibility %q", rb.Flexibility)
	}
	src := domain.BoundarySource(strings.ToLower(strings.TrimSpace(rb.Source)))
	if !src.Valid() {
		return domain.Boundary{}, fmt.Errorf("invalid source %q", rb.Source)
	}
	if rb.Confidence < 0 || rb.Confidence > 1 {
		return domain.Boundary{}, fmt.Errorf("confidence %v outside [0,1]", rb.Confidence)
	}
	subtype := strings.ToLower(strings.TrimSpace(rb.Subtype))
	if subtype == "" {
		subtype = "general"
	}
	return domain.Boundary{
		Category:    cat,
		Subtype:     subtype,
		Content:     content,
		Flexibility: flex,
		Source:      src,
		Sources:     []domain.BoundarySource{src},
		Confidence:  rb.Confidence,
		AddedTurn:   turn,
		UpdatedTurn: turn,
	}, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
