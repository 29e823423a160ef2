package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
)

// Duration decodes YAML values like "30s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Policy holds the tunable dialogue rules. Defaults are compiled in; an
// optional YAML file named by COUNSEL_POLICY_PATH overlays them.
type Policy struct {
	RequiredCategories  []domain.BoundaryCategory `yaml:"required_categories"`
	CategoryPriority    []domain.BoundaryCategory `yaml:"category_priority"`
	ConfidenceThreshold float64                   `yaml:"confidence_threshold"`
	LowConfidence       float64                   `yaml:"low_confidence"`
	TurnCap             int                       `yaml:"turn_cap"`
	ContextWindow       int                       `yaml:"context_window"`
	SimilarityThreshold float64                   `yaml:"similarity_threshold"`
	ExclusiveSubtypes   []string                  `yaml:"exclusive_subtypes"`
	SessionTTL          Duration                  `yaml:"session_ttl"`
	TurnTimeout         Duration                  `yaml:"turn_timeout"`
	RoleTopics          map[string][]string       `yaml:"role_topics"`
	CrisisKeywords      []string                  `yaml:"crisis_keywords"`
	BlockedTopics       []string                  `yaml:"blocked_topics"`
}

func Default() Policy {
	return Policy{
		RequiredCategories: []domain.BoundaryCategory{
			domain.CategoryObjective,
			domain.CategorySubjective,
		},
		CategoryPriority: []domain.BoundaryCategory{
			domain.CategoryObjective,
			domain.CategorySubjective,
			domain.CategorySolution,
		},
		ConfidenceThreshold: 0.6,
		LowConfidence:       0.4,
		TurnCap:             20,
		ContextWindow:       8,
		SimilarityThreshold: 0.6,
		ExclusiveSubtypes:   []string{"time", "economic", "excluded", "scope"},
		SessionTTL:          Duration(30 * time.Minute),
		TurnTimeout:         Duration(30 * time.Second),
		RoleTopics: map[string][]string{
			"career": {"work", "job", "career", "workplace", "employment"},
			"family": {"family", "parenting", "marriage", "relationship", "children"},
			"study":  {"study", "school", "exam", "education", "learning"},
		},
		CrisisKeywords: []string{
			"suicide", "kill myself", "end my life", "self-harm", "hurt myself",
		},
		BlockedTopics: []string{
			"medical diagnosis", "legal advice", "prescription",
			"politics", "election", "celebrity",
		},
	}
}

// Load returns the default policy with the optional YAML overlay applied.
// A missing file is only an error when the path was set explicitly.
func Load() (Policy, error) {
	p := Default()
	path := envutil.Str("COUNSEL_POLICY_PATH", "")
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.TurnCap <= 0 {
		return fmt.Errorf("turn_cap must be positive")
	}
	if p.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive")
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}
	if p.LowConfidence < 0 || p.LowConfidence > p.ConfidenceThreshold {
		return fmt.Errorf("low_confidence must be in [0,confidence_threshold]")
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0,1]")
	}
	if len(p.RequiredCategories) == 0 {
		return fmt.Errorf("required_categories must not be empty")
	}
	for _, c := range p.RequiredCategories {
		if !c.Valid() {
			return fmt.Errorf("unknown required category %q", c)
		}
	}
	for _, c := range p.CategoryPriority {
		if !c.Valid() {
			return fmt.Errorf("unknown priority category %q", c)
		}
	}
	return nil
}

func (p Policy) IsExclusiveSubtype(subtype string) bool {
	subtype = strings.ToLower(strings.TrimSpace(subtype))
	for _, s := range p.ExclusiveSubtypes {
		if strings.ToLower(s) == subtype {
			return true
		}
	}
	return false
}
