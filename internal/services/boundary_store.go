package services

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/yungbote/counselbridge-backend/internal/config"
	"github.com/yungbote/counselbridge-backend/internal/observability"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
	"github.com/yungbote/counselbridge-backend/internal/platform/openai"

	"github.com/yungbote/counselbridge-backend/internal/domain"
)

// ContentMatcher decides whether two boundary contents describe the same
// constraint. The default is a token-overlap heuristic; an embedding-backed
// matcher can be swapped in where the model client is available.
type ContentMatcher interface {
	Match(ctx context.Context, a, b string) (bool, error)
}

// ConflictPolicy decides whether two distinct boundaries contradict each
// other and so must be flagged for clarification.
type ConflictPolicy interface {
	InConflict(a, b domain.Boundary) bool
}

type MergeStats struct {
	Added        int
	Merged       int
	NewConflicts int
}

// BoundaryStore merges freshly extracted boundaries into the accumulated
// set. Merge is pure over its inputs and idempotent: merging the same
// incoming set twice leaves the store unchanged.
type BoundaryStore interface {
	Merge(ctx context.Context, existing, incoming []domain.Boundary, turn int) ([]domain.Boundary, MergeStats, error)
}

type boundaryStore struct {
	matcher  ContentMatcher
	conflict ConflictPolicy
	log      *logger.Logger
}

func NewBoundaryStore(matcher ContentMatcher, conflict ConflictPolicy, baseLog *logger.Logger) BoundaryStore {
	return &boundaryStore{
		matcher:  matcher,
		conflict: conflict,
		log:      baseLog.With("service", "boundary_store"),
	}
}

func (s *boundaryStore) Merge(ctx context.Context, existing, incoming []domain.Boundary, turn int) ([]domain.Boundary, MergeStats, error) {
	out := make([]domain.Boundary, len(existing))
	copy(out, existing)
	var stats MergeStats

	for _, in := range incoming {
		idx, err := s.findMatch(ctx, out, in)
		if err != nil {
			return nil, stats, err
		}
		if idx < 0 {
			out = append(out, in)
			stats.Added++
			continue
		}
		if mergeInto(&out[idx], in, turn) {
			stats.Merged++
		}
	}

	priorConflicts := 0
	for _, b := range existing {
		if b.Conflicting {
			priorConflicts++
		}
	}
	nowConflicts := s.recomputeConflicts(out)
	if nowConflicts > priorConflicts {
		stats.NewConflicts = nowConflicts - priorConflicts
		observability.Current().IncConflictsFlagged(stats.NewConflicts)
	}
	return out, stats, nil
}

func (s *boundaryStore) findMatch(ctx context.Context, existing []domain.Boundary, in domain.Boundary) (int, error) {
	for i, ex := range existing {
		if ex.Category != in.Category || ex.Subtype != in.Subtype {
			continue
		}
		ok, err := s.matcher.Match(ctx, ex.Content, in.Content)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// mergeInto folds a duplicate into its existing counterpart: the most recent
// statement wins content, flexibility and source, provenance is unioned and
// confidence takes the max. Returns false when nothing changed, which is
// what keeps Merge idempotent: replaying the same statement finds identical
// content and touches nothing.
func mergeInto(dst *domain.Boundary, in domain.Boundary, turn int) bool {
	changed := false
	for _, src := range in.Sources {
		if !hasSource(dst.Sources, src) {
			dst.Sources = append(dst.Sources, src)
			changed = true
		}
	}
	if in.Content != dst.Content {
		dst.Content = in.Content
		changed = true
	}
	if in.Flexibility != dst.Flexibility {
		dst.Flexibility = in.Flexibility
		changed = true
	}
	if in.Source != dst.Source {
		dst.Source = in.Source
		changed = true
	}
	if in.Confidence > dst.Confidence {
		dst.Confidence = in.Confidence
		changed = true
	}
	if changed {
		dst.UpdatedTurn = turn
	}
	return changed
}

// recomputeConflicts derives conflict and superseded flags from scratch on
// every merge, so flags never go stale as boundaries evolve. When an
// explicit boundary conflicts with a weaker-sourced one, the weaker side is
// marked superseded but retained; equal-strength conflicts flag both sides.
func (s *boundaryStore) recomputeConflicts(bs []domain.Boundary) int {
	for i := range bs {
		bs[i].Conflicting = false
		bs[i].Superseded = false
	}
	for i := 0; i < len(bs); i++ {
		for j := i + 1; j < len(bs); j++ {
			if !s.conflict.InConflict(bs[i], bs[j]) {
				continue
			}
			switch {
			case bs[i].Source.Rank() > bs[j].Source.Rank():
				bs[j].Superseded = true
			case bs[j].Source.Rank() > bs[i].Source.Rank():
				bs[i].Superseded = true
			default:
				bs[i].Conflicting = true
				bs[j].Conflicting = true
			}
		}
	}
	n := 0
	for _, b := range bs {
		if b.Conflicting && !b.Superseded {
			n++
		}
	}
	return n
}

func hasSource(list []domain.BoundarySource, s domain.BoundarySource) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// TokenMatcher matches contents whose token Jaccard similarity meets the
// threshold. It is deterministic and needs no network.
type TokenMatcher struct {
	Threshold float64
}

func NewTokenMatcher(policy config.Policy) *TokenMatcher {
	return &TokenMatcher{Threshold: policy.SimilarityThreshold}
}

func (m *TokenMatcher) Match(_ context.Context, a, b string) (bool, error) {
	return jaccard(tokenize(a), tokenize(b)) >= m.Threshold, nil
}

func tokenize(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(tok) < 2 {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// EmbeddingMatcher matches via cosine similarity of embeddings. It falls
// back to the token heuristic when the embed call fails, so merge never
// hard-fails on a telemetry-grade feature.
type EmbeddingMatcher struct {
	ai        openai.Client
	fallback  *TokenMatcher
	threshold float64
	log       *logger.Logger
}

func NewEmbeddingMatcher(ai openai.Client, policy config.Policy, baseLog *logger.Logger) *EmbeddingMatcher {
	return &EmbeddingMatcher{
		ai:        ai,
		fallback:  NewTokenMatcher(policy),
		threshold: 0.85,
		log:       baseLog.With("service", "embedding_matcher"),
	}
}

func (m *EmbeddingMatcher) Match(ctx context.Context, a, b string) (bool, error) {
	vecs, err := m.ai.Embed(ctx, []string{a, b})
	if err != nil || len(vecs) != 2 {
		if err != nil {
			m.log.Warn("embed failed, using token matcher", "error", err.Error())
		}
		return m.fallback.Match(ctx, a, b)
	}
	return cosine(vecs[0], vecs[1]) >= m.threshold, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ExclusiveSubtypePolicy flags two boundaries as conflicting when they share
// a category and an exclusive subtype but their contents did not merge.
// Exclusive subtypes admit one value at a time ("time", "economic", ...);
// non-exclusive subtypes accumulate freely.
type ExclusiveSubtypePolicy struct {
	policy config.Policy
}

func NewExclusiveSubtypePolicy(policy config.Policy) *ExclusiveSubtypePolicy {
	return &ExclusiveSubtypePolicy{policy: policy}
}

func (p *ExclusiveSubtypePolicy) InConflict(a, b domain.Boundary) bool {
	if a.Category != b.Category || a.Subtype != b.Subtype {
		return false
	}
	if !p.policy.IsExclusiveSubtype(a.Subtype) {
		return false
	}
	return a.Content != b.Content
}
