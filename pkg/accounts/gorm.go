package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/negotiate/pkg/config"
)

// GORMStore holds NTLM accounts in SQLite or PostgreSQL.
// It supports both backends via the same codebase.
type GORMStore struct {
	db     *gorm.DB
	dbType config.DatabaseType
}

// Open connects to the account database and migrates its schema.
func Open(cfg *config.DatabaseConfig) (*GORMStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is nil")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case config.DatabaseTypeSQLite:
		if cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		dsn := cfg.SQLite.Path
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			// WAL lets lookups proceed while the CLI writes; busy_timeout
			// waits up to 5 seconds for the write lock.
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)

	case config.DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	switch cfg.Type {
	case config.DatabaseTypePostgres:
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	case config.DatabaseTypeSQLite:
		if cfg.SQLite.Path == ":memory:" {
			// Each connection to :memory: is a separate database.
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStore{db: db, dbType: cfg.Type}, nil
}

// DB returns the underlying GORM database connection.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// Type returns the configured backend.
func (s *GORMStore) Type() config.DatabaseType {
	return s.dbType
}

// Healthcheck pings the database.
func (s *GORMStore) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}

// convertNotFoundError converts gorm.ErrRecordNotFound to notFoundErr.
func convertNotFoundError(err error, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}
