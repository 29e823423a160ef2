package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

type Service interface {
	DB() *gorm.DB
	AutoMigrateAll() error
	Close() error
}

type service struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewService opens the configured database. DB_DRIVER=sqlite gives a
// file-backed local mode; the default is postgres via DATABASE_URL or
// the discrete DB_* variables.
func NewService(baseLog *logger.Logger) (Service, error) {
	log := baseLog.With("service", "db")
	driver := strings.ToLower(envutil.Str("DB_DRIVER", "postgres"))

	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		path := envutil.Str("SQLITE_PATH", "counselbridge.db")
		dialector = sqlite.Open(path)
		log.Info("using sqlite database", "path", path)
	case "postgres":
		dsn := envutil.Str("DATABASE_URL", "")
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				envutil.Str("DB_HOST", "localhost"),
				envutil.Str("DB_PORT", "5432"),
				envutil.Str("DB_USER", "postgres"),
				envutil.Str("DB_PASSWORD", "postgres"),
				envutil.Str("DB_NAME", "counselbridge"),
				envutil.Str("DB_SSLMODE", "disable"),
			)
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(envutil.Int("DB_MAX_OPEN_CONNS", 20))
	sqlDB.SetMaxIdleConns(envutil.Int("DB_MAX_IDLE_CONNS", 5))

	return &service{db: gdb, log: log}, nil
}

func (s *service) DB() *gorm.DB { return s.db }

func (s *service) AutoMigrateAll() error {
	return s.db.AutoMigrate(
		&domain.CounselSession{},
		&domain.CounselReport{},
	)
}

func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
