package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BoundaryCategory string

const (
	CategoryObjective  BoundaryCategory = "objective"
	CategorySubjective BoundaryCategory = "subjective"
	CategorySolution   BoundaryCategory = "solution"
)

func (c BoundaryCategory) Valid() bool {
	switch c {
	case CategoryObjective, CategorySubjective, CategorySolution:
		return true
	}
	return false
}

type Flexibility string

const (
	FlexLow    Flexibility = "low"
	FlexMedium Flexibility = "medium"
	FlexHigh   Flexibility = "high"
)

func (f Flexibility) Valid() bool {
	switch f {
	case FlexLow, FlexMedium, FlexHigh:
		return true
	}
	return false
}

type BoundarySource string

const (
	SourceExplicit   BoundarySource = "explicit"
	SourceInferred   BoundarySource = "inferred"
	SourceContextual BoundarySource = "contextual"
)

func (s BoundarySource) Valid() bool {
	switch s {
	case SourceExplicit, SourceInferred, SourceContextual:
		return true
	}
	return false
}

// Rank orders provenance by strength. Explicit statements win conflicts
// against inferred or contextual ones.
func (s BoundarySource) Rank() int {
	switch s {
	case SourceExplicit:
		return 3
	case SourceInferred:
		return 2
	case SourceContextual:
		return 1
	}
	return 0
}

// Boundary is one extracted constraint on the user's situation.
// Sources is the union of every provenance that has produced this boundary
// across merges; Source is the strongest of them.
type Boundary struct {
	Category    BoundaryCategory `json:"category"`
	Subtype     string           `json:"subtype"`
	Content     string           `json:"content"`
	Flexibility Flexibility      `json:"flexibility"`
	Source      BoundarySource   `json:"source"`
	Sources     []BoundarySource `json:"sources"`
	Confidence  float64          `json:"confidence"`
	Conflicting bool             `json:"conflicting"`
	Superseded  bool             `json:"superseded"`
	AddedTurn   int              `json:"added_turn"`
	UpdatedTurn int              `json:"updated_turn"`
}

type Phase string

const (
	PhaseCollecting    Phase = "collecting"
	PhaseClarifying    Phase = "clarifying"
	PhaseSolutionReady Phase = "solution_ready"
	PhaseReported      Phase = "reported"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseCollecting, PhaseClarifying, PhaseSolutionReady, PhaseReported:
		return true
	}
	return false
}

// Rank orders phases along the forward-only progression.
func (p Phase) Rank() int {
	switch p {
	case PhaseCollecting:
		return 1
	case PhaseClarifying:
		return 2
	case PhaseSolutionReady:
		return 3
	case PhaseReported:
		return 4
	}
	return 0
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Turn    int         `json:"turn"`
}

// CounselSession is the persisted state of one counseling dialogue.
// Boundaries, PendingQuestions and History are JSON snapshots written
// whole on each turn; concurrency is handled above the row level.
type CounselSession struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Phase            string         `gorm:"type:text;not null;default:'collecting'" json:"phase"`
	TurnCount        int            `gorm:"not null;default:0" json:"turn_count"`
	Incomplete       bool           `gorm:"not null;default:false" json:"incomplete"`
	Boundaries       datatypes.JSON `gorm:"type:jsonb" json:"boundaries"`
	PendingQuestions datatypes.JSON `gorm:"type:jsonb" json:"pending_questions"`
	History          datatypes.JSON `gorm:"type:jsonb" json:"history"`
	Solution         string         `gorm:"type:text" json:"solution"`
	ReportedAt       *time.Time     `json:"reported_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (CounselSession) TableName() string { return "counsel_sessions" }

type CounselReport struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	Boundaries datatypes.JSON `gorm:"type:jsonb" json:"boundaries"`
	Incomplete bool           `gorm:"not null;default:false" json:"incomplete"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (CounselReport) TableName() string { return "counsel_reports" }
