package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"course-credentials/internal/models"
)

// certIDRow maps the cert_id_history table.
type certIDRow struct {
	CertID       int64  `gorm:"column:cert_id;primaryKey;autoIncrement"`
	HSInstanceID string `gorm:"column:hs_instance_id;type:TEXT NOT NULL;uniqueIndex"`
}

// TableName implements the GORM tabler interface.
func (certIDRow) TableName() string { return tableName }

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=FULL;",
	"PRAGMA busy_timeout=5000;",
}

// SQLiteStore is the default identifier store, backed by GORM over pure-Go SQLite.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the identifier database and applies PRAGMAs.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, unavailable(err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, unavailable(err)
	}

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, unavailable(fmt.Errorf("%s: %w", pragma, err))
		}
	}

	// One session per run.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &SQLiteStore{db: db}, nil
}

// RunMigrations executes the embedded sqlite migrations.
func (s *SQLiteStore) RunMigrations(ctx context.Context) error {
	stmts, err := migrationStatements("sqlite")
	if err != nil {
		return err
	}
	for _, sql := range stmts {
		if err := s.db.WithContext(ctx).Exec(sql).Error; err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Allocate inserts a row for reference and returns its formatted identifier.
// The existence probe runs inside the insert transaction so a rejected
// duplicate never reaches the autoincrement counter.
func (s *SQLiteStore) Allocate(ctx context.Context, reference string) (models.CertificateIdentifier, error) {
	if strings.TrimSpace(reference) == "" {
		return models.CertificateIdentifier{}, ErrEmptyReference
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&certIDRow{}).Where("hs_instance_id = ?", reference).Count(&n).Error; err != nil {
			return unavailable(err)
		}
		if n > 0 {
			return ErrDuplicateReference
		}
		if err := tx.Create(&certIDRow{HSInstanceID: reference}).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateReference
			}
			return unavailable(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) || errors.Is(err, ErrStoreUnavailable) {
			return models.CertificateIdentifier{}, err
		}
		return models.CertificateIdentifier{}, unavailable(err)
	}
	return s.Lookup(ctx, reference)
}

// Lookup reads back the identifier allocated for reference.
func (s *SQLiteStore) Lookup(ctx context.Context, reference string) (models.CertificateIdentifier, error) {
	var row certIDRow
	err := s.db.WithContext(ctx).Where("hs_instance_id = ?", reference).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CertificateIdentifier{}, ErrNotFound
	}
	if err != nil {
		return models.CertificateIdentifier{}, unavailable(err)
	}
	return identifier(row.CertID, row.HSInstanceID)
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
