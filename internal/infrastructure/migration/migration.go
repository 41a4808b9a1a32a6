package migration

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/adfree/internal/infrastructure/database"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// Manager runs the strategy that fits the configured database driver
type Manager struct {
	strategy Strategy
	logger   logger.Interface
}

// NewManager picks goose for MySQL and gorm auto migration for SQLite.
func NewManager(driver string, log logger.Interface) *Manager {
	var strategy Strategy
	switch driver {
	case database.DriverSQLite:
		strategy = NewGormAutoMigrateStrategy(log, BackendModels()...)
	default:
		strategy = NewGooseStrategy(log)
	}
	return NewManagerWithStrategy(strategy, log)
}

// NewManagerWithStrategy creates a new migration manager with a specific strategy
func NewManagerWithStrategy(strategy Strategy, log logger.Interface) *Manager {
	return &Manager{
		strategy: strategy,
		logger:   log.With("component", "migration.manager"),
	}
}

// Migrate executes the configured migration strategy
func (m *Manager) Migrate(db *gorm.DB) error {
	m.logger.Infow("starting database migration", "strategy", m.strategy.GetName())

	if err := m.strategy.Migrate(db); err != nil {
		m.logger.Errorw("migration failed", "strategy", m.strategy.GetName(), "error", err)
		return fmt.Errorf("migration failed: %w", err)
	}

	m.logger.Infow("database migration completed", "strategy", m.strategy.GetName())
	return nil
}

// Strategy returns the selected strategy
func (m *Manager) Strategy() Strategy {
	return m.strategy
}
