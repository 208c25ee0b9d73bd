package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"finance-sync-be/config"
	"finance-sync-be/models"
)

// Connect opens the database named by cfg and migrates it when enabled.
func Connect(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		dsn := cfg.DatabaseURL
		if !strings.Contains(dsn, "sslmode") {
			dsn += sslSuffix(dsn) // Supabase refuses connections without TLS
		}
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.DBLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("Connected to database successfully")

	if cfg.DBDriver == config.DriverSQLite {
		// Concurrent writers on one sqlite file fail with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		log.Info().Msg("Running migrations...")
		if err := Migrate(db); err != nil {
			return nil, err
		}
		log.Info().Msg("Database migrated successfully")
	}
	return db, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func sslSuffix(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return "&sslmode=require"
		}
		return "?sslmode=require"
	}
	return " sslmode=require"
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}
