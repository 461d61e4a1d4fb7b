package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/guildsync/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// Open connects to MySQL using database.mysql_dsn and the pool settings.
// parseTime is forced on so DATETIME columns scan into time.Time.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.MySQLDSN == "" {
		return nil, errors.New("mysql: database.mysql_dsn is empty")
	}
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN: WithParseTime(cfg.MySQLDSN),
		// utf8mb4 index prefix limit
		DefaultStringSize: 191,
	}), &gorm.Config{
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
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return db, nil
}

// WithParseTime appends parseTime=true unless the DSN already sets it.
func WithParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
