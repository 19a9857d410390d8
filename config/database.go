package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var localDB *gorm.DB

// InitLocalDatabase opens the on-device sqlite cache and migrates modelDefs.
func InitLocalDatabase(modelDefs ...interface{}) *gorm.DB {
	if localDB != nil {
		return localDB
	}
	cfg := Get()
	db, err := OpenLocal(cfg.LocalDBPath, cfg.LogLevel, modelDefs...)
	if err != nil {
		log.Fatalf("failed to open local database: %v", err)
	}
	localDB = db
	return localDB
}

// OpenLocal opens (creating when needed) a sqlite file and migrates modelDefs.
func OpenLocal(path, logLevel string, modelDefs ...interface{}) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	// sqlite has a single writer
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(logLevel))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if len(modelDefs) > 0 {
		if err := db.AutoMigrate(modelDefs...); err != nil {
			return nil, fmt.Errorf("auto migration failed: %w", err)
		}
	}
	return db, nil
}

// InitRemoteDatabase connects to the hosted backend. It returns nil when no
// DSN is configured so the app runs in offline mode.
func InitRemoteDatabase() *gorm.DB {
	cfg := Get()
	if cfg.RemoteDSN == "" {
		return nil
	}

	var dialector gorm.Dialector
	switch cfg.RemoteDialect {
	case "mysql":
		dialector = mysql.Open(cfg.RemoteDSN)
	case "postgres":
		dialector = postgres.Open(cfg.RemoteDSN)
	default:
		log.Fatalf("unsupported remote dialect %q", cfg.RemoteDialect)
	}

	db, err := gorm.Open(dialector, gormConfig(cfg.LogLevel))
	if err != nil {
		log.Fatalf("failed to connect remote database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}
	// moderate pool with eager recycling to avoid stale idle connections
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// surface network or auth problems at boot; an offline remote is still allowed
	if err := sqlDB.Ping(); err != nil {
		log.Printf("remote database ping failed, sync will retry: %v", err)
	}
	return db
}

func gormConfig(level string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "", log.LstdFlags),
			logger.Config{
				SlowThreshold:             2 * time.Second,
				LogLevel:                  toGormLogLevel(level),
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// toGormLogLevel maps application LogLevel to GORM's logger level.
func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		// GORM 'Info' shows SQL; use with caution
		return logger.Info
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}
