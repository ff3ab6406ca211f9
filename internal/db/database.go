package db

import (
	"fmt"

	"github.com/ikkim/cartage/config"
	appLogger "github.com/ikkim/cartage/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

// Initialize opens the relational store selected by cfg.Store.Driver
func Initialize(cfg *config.Config) error {
	var dialector gorm.Dialector
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		appLogger.Info("Connecting to database", map[string]interface{}{
			"driver":   cfg.Store.Driver,
			"host":     cfg.Database.Host,
			"port":     cfg.Database.Port,
			"database": cfg.Database.DBName,
			"user":     cfg.Database.User,
		})
		dialector = postgres.Open(cfg.Database.DSN())
	case config.DriverSQLite:
		appLogger.Info("Opening database file", map[string]interface{}{
			"driver": cfg.Store.Driver,
			"path":   cfg.Database.SQLitePath,
		})
		dialector = sqlite.Open(cfg.Database.SQLitePath)
	default:
		return fmt.Errorf("store driver %q is not relational", cfg.Store.Driver)
	}

	var err error
	DB, err = gorm.Open(dialector, gormConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	maxIdle, maxOpen := 10, 100
	if cfg.Store.Driver == config.DriverSQLite {
		maxIdle, maxOpen = 1, 1
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)

	appLogger.Info("Database connection established successfully", map[string]interface{}{
		"max_idle_conns": maxIdle,
		"max_open_conns": maxOpen,
	})
	return nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
