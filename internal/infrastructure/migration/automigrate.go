package migration

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/orris-inc/adfree/internal/infrastructure/persistence/models"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// BackendModels are the tables owned by the entitlement authority.
func BackendModels() []any {
	return []any{
		&models.EntitlementModel{},
		&models.TransactionModel{},
	}
}

// GormAutoMigrateStrategy creates tables from the gorm models. Used for
// SQLite databases, which the goose scripts do not target.
type GormAutoMigrateStrategy struct {
	models []any
	logger logger.Interface
}

func NewGormAutoMigrateStrategy(log logger.Interface, models ...any) *GormAutoMigrateStrategy {
	return &GormAutoMigrateStrategy{
		models: models,
		logger: log.With("component", "migration.automigrate"),
	}
}

func (s *GormAutoMigrateStrategy) Migrate(db *gorm.DB) error {
	s.logger.Infow("starting gorm auto migration", "models_count", len(s.models))
	if err := db.AutoMigrate(s.models...); err != nil {
		s.logger.Errorw("auto migration failed", "error", err)
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

func (s *GormAutoMigrateStrategy) GetName() string {
	return "gorm_automigrate"
}
