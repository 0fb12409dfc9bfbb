package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pkglog "github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

const slowQueryThreshold = 200 * time.Millisecond

// Config holds database configuration.
type Config struct {
	Driver          string `mapstructure:"driver"` // postgres, mysql, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`   // postgres only
	TimeZone        string `mapstructure:"timezone"`  // postgres only
	FilePath        string `mapstructure:"file_path"` // sqlite only
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // minutes
	LogLevel        string `mapstructure:"log_level"`         // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *Config) DSN() (string, error) {
	switch c.Driver {
	case "postgres":
		tz := c.TimeZone
		if tz == "" {
			tz = "UTC"
		}
		sslmode := c.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslmode, tz), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName), nil
	case "sqlite":
		if c.FilePath == "" {
			return "", fmt.Errorf("sqlite requires file_path")
		}
		return c.FilePath, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
}

func dialector(cfg *Config) (gorm.Dialector, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case "postgres":
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// New opens the video registry database.
func New(cfg *Config) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: newGormLogger(pkglog.L().With().Str("component", "gorm").Logger(), cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the tables for models.
func AutoMigrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// zerologWriter lets gorm's logger write through zerolog.
type zerologWriter struct {
	l zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...any) {
	w.l.Info().Msgf(format, args...)
}

func newGormLogger(l zerolog.Logger, level string) logger.Interface {
	return logger.New(zerologWriter{l: l}, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormLevel(level),
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func gormLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
