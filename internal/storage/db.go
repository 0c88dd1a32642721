package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"guildwarden/internal/config"
	"guildwarden/internal/logger"
	"guildwarden/internal/models"
)

var (
	// DB is the global database connection; nil when the bolt driver is used
	DB *gorm.DB
)

// Open connects to the configured SQL database.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
			cfg.Username,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			cfg.Charset,
		)
		logger.Infof("Connecting to database: %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		logger.Infof("Opening sqlite database: %s", cfg.Path)
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("driver %q is not a SQL driver", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newQueryLogger(cfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent saves
		sqlDB.SetMaxOpenConns(1)
		_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
		_, _ = sqlDB.Exec("PRAGMA synchronous = NORMAL;")
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates or updates every table the bot owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.GuildConfig{}, &UserRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Initialize opens the SQL database, migrates it and stores the handle in DB.
// It is a no-op for the bolt driver.
func Initialize(cfg *config.Config) error {
	if cfg.Database.Driver == config.DriverBolt {
		logger.Infof("Using bolt document store at %s, guild settings come from the config file", cfg.Database.Path)
		return nil
	}

	db, err := Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := Migrate(db); err != nil {
		return err
	}

	DB = db
	logger.Infof("Database connection established successfully")
	return nil
}

// GetDB returns the database connection
func GetDB() *gorm.DB {
	return DB
}

// Close releases the SQL connection pool.
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
