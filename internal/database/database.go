// Package database opens the sqlite-backed history ledger, the same way
// greg's internal/database opens its own: gorm over glebarez/sqlite (pure Go,
// no cgo) with WAL mode and foreign keys pragma'd on, auto-migrated on open.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the underlying gorm connection so callers outside this package
// never import gorm directly.
type DB struct {
	gorm *gorm.DB
}

// Open creates path's parent directory if needed, opens the sqlite database
// at path, applies pragmas, and runs AutoMigrate for the history schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(gdb); err != nil {
		return nil, err
	}

	// sqlite serializes writers regardless; capping the pool at one
	// connection avoids "database is locked" errors under concurrent
	// RecordTerminal calls and keeps an in-memory DSN pointed at a single
	// backing database instead of one per connection.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&HistoryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &DB{gorm: gdb}, nil
}

func applyPragmas(gdb *gorm.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if err := gdb.Exec(pragma).Error; err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// GormDB exposes the underlying connection to internal/history, the only
// caller allowed to issue queries against it.
func (d *DB) GormDB() *gorm.DB {
	return d.gorm
}

// Close releases the underlying sqlite connection.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
