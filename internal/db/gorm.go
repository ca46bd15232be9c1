package db

import (
	"fmt"

	"doc-collab/internal/config"
	"doc-collab/internal/models"

	"github.com/golang/glog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the shared identity store and migrates its schema.
// Only used when DB_HOST is configured; the default store is a profile file.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.GuestIdentity{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	glog.Infof("✓ Identity store connected (%s:%s/%s)", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &GormDB{db}, nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
