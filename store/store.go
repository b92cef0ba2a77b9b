package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and tunes the relational store of one service.
type Config struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// Open opens and pings a GORM connection pool for cfg.
// The sqlite driver always has foreign keys enabled; an in-memory database is pinned to
// one connection so every query sees the same data.
func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	log := slog.Default().With("module", "store", "driver", cfg.Driver)
	log.InfoContext(ctx, "store connect started", "operation", "connect", "outcome", "start")

	dialector, memory, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	switch {
	case memory:
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
		sqlDB.SetConnMaxIdleTime(15 * time.Minute)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	log.InfoContext(ctx, "store connect completed", "operation", "connect", "outcome", "success")
	return db, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, bool, error) {
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, false, errors.New("postgres dsn is required")
		}
		return postgres.Open(cfg.DSN), false, nil
	case DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		memory := strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
		if !strings.Contains(dsn, "foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=foreign_keys(1)"
		}
		return sqlite.Open(dsn), memory, nil
	default:
		return nil, false, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Migrate creates or updates the tables of models.
func Migrate(ctx context.Context, db *gorm.DB, models ...any) error {
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	slog.Default().InfoContext(ctx, "store migration completed",
		"module", "store",
		"operation", "migrate",
		"outcome", "success",
		"model_count", len(models),
	)
	return nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
