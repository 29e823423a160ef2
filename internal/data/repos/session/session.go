package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

var ErrNotFound = errors.New("session not found")

type Repo interface {
	Create(c dbctx.Context, rec *domain.CounselSession) error
	GetByID(c dbctx.Context, id uuid.UUID) (*domain.CounselSession, error)
	Save(c dbctx.Context, rec *domain.CounselSession) error
	CreateReport(c dbctx.Context, rec *domain.CounselReport) error
	LatestReport(c dbctx.Context, sessionID uuid.UUID) (*domain.CounselReport, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	return &repo{db: db, log: baseLog.With("repo", "session")}
}

func (r *repo) conn(c dbctx.Context) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.Ctx)
	}
	return r.db.WithContext(c.Ctx)
}

func (r *repo) Create(c dbctx.Context, rec *domain.CounselSession) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.conn(c).Create(rec).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *repo) GetByID(c dbctx.Context, id uuid.UUID) (*domain.CounselSession, error) {
	var rec domain.CounselSession
	err := r.conn(c).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &rec, nil
}

// Save writes the whole snapshot. The session registry serializes turns per
// session, so last-write-wins at the row level is safe.
func (r *repo) Save(c dbctx.Context, rec *domain.CounselSession) error {
	if err := r.conn(c).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *repo) CreateReport(c dbctx.Context, rec *domain.CounselReport) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.conn(c).Create(rec).Error; err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (r *repo) LatestReport(c dbctx.Context, sessionID uuid.UUID) (*domain.CounselReport, error) {
	var rec domain.CounselReport
	err := r.conn(c).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &rec, nil
}
