// Package db opens the local credential database.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/tutorline/internal/config"
	"github.com/zulandar/tutorline/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for a shared credential database.
func DSN(cfg config.MySQLConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect opens a GORM connection for the configured credential driver.
// The memory driver has no database and is rejected here.
func Connect(cfg config.CredentialsConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("db: create %s: %w", dir, err)
			}
		}
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dialector = mysql.Open(DSN(cfg.MySQL))
	default:
		return nil, fmt.Errorf("db: driver %q has no database", cfg.Driver)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	return gormDB, nil
}

// AllModels returns every GORM model stored in the credential database.
func AllModels() []interface{} {
	return []interface{}{
		&models.Credential{},
	}
}

// AutoMigrate creates or updates the credential tables.
func AutoMigrate(gormDB *gorm.DB) error {
	if err := gormDB.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
