package client

import (
	"fmt"
	"time"

	"retail-integration/internal/config"
	"retail-integration/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase connects to the ERP database and migrates the middleware
// tables. The ERP tables themselves are only created on sqlite, where the
// database is a local stand-in.
func OpenDatabase(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlserver":
		dialector = sqlserver.Open(cfg.URL)
	case "mysql":
		dialector = mysql.Open(cfg.URL)
	case "sqlite":
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}

	// Connection pool (important for webhooks)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if cfg.Driver == "sqlite" {
		if err := db.AutoMigrate(model.ERPModels()...); err != nil {
			return nil, fmt.Errorf("migrate erp tables: %w", err)
		}
	}
	if err := db.AutoMigrate(model.MiddlewareModels()...); err != nil {
		return nil, fmt.Errorf("migrate middleware tables: %w", err)
	}

	return db, nil
}
