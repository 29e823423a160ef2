package testutil

import (
	"os"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/counselbridge-backend/internal/domain"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
)

// DB opens the test database named by TEST_POSTGRES_DSN, migrating the
// schema first. Tests that need a real database skip when it is unset.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping db test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.CounselSession{}, &domain.CounselReport{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// Tx returns a transaction that is rolled back when the test ends, so
// tests leave no rows behind.
func Tx(t *testing.T) *gorm.DB {
	t.Helper()
	db := DB(t)
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}
