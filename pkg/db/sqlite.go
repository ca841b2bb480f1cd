// Package db provides the local SQLite cache of conversations, finalized messages and
// provider configurations.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"Murmur/pkg/models"
)

const (
	// DriverPure selects the pure-Go SQLite driver.
	DriverPure = "sqlite"
	// DriverCgo selects the cgo SQLite driver, available only in cgo builds.
	DriverCgo = "sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultPath returns the database location under the user config directory.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config dir: %w", err)
	}
	return filepath.Join(configDir, "Murmur", "murmur.db"), nil
}

// InitDatabase opens the SQLite database at path with the named driver and migrates the schema.
func InitDatabase(path, driver string) (*gorm.DB, error) {
	if driver == "" {
		driver = DriverPure
	}
	if driver == DriverCgo && !cgoDriverAvailable {
		return nil, fmt.Errorf("driver %q requires a cgo build", driver)
	}
	if driver != DriverPure && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	dsn := path
	if path == MemoryPath {
		dsn = "file::memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("could not create db directory: %w", err)
		}
	}

	database, err := gorm.Open(&sqlite.Dialector{DriverName: driver, DSN: dsn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if path == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		sqlDB, err := database.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = database.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.ProviderConfiguration{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return database, nil
}

// Close releases the underlying connection pool.
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
