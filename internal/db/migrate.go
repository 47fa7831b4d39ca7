package db

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Context{},
		&models.Message{},
		&models.IntakeLink{},
		&models.COA{},
		&models.ReadinessSnapshot{},
	}
}

// AutoMigrate creates or updates all engine tables. Pipeline jobs are
// deliberately absent: they live in memory only and do not survive a
// restart.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
