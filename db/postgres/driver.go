package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/guildsync/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// Open connects to PostgreSQL using database.postgres_dsn and the pool settings.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres: database.postgres_dsn is empty")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: cfg.PostgresDSN}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetConnMaxLifetime(cfg.MaxLife)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}
