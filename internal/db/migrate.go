package db

import (
	"github.com/ikkim/cartage/internal/app/model"
	"github.com/ikkim/cartage/pkg/logger"
	"gorm.io/gorm"
)

// Migrate creates or updates the cart tables on the global connection
func Migrate() error {
	return MigrateDB(DB)
}

// MigrateDB creates or updates the cart tables on db
func MigrateDB(db *gorm.DB) error {
	logger.Info("Running database migrations...")

	models := model.CartModels()
	if err := db.AutoMigrate(models...); err != nil {
		logger.Error("Failed to run migrations", err)
		return err
	}

	logger.Info("Database migrations completed successfully", map[string]interface{}{
		"models_count": len(models),
	})
	return nil
}
