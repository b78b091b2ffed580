// Package db предоставляет подключение к хранилищам сервиса членства.
// Основное хранилище — MySQL, PostgreSQL поддерживается как альтернатива (DB_DRIVER=postgres).
package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/membership-system/pkg/config"
)

// pool — общие параметры пула соединений для обоих драйверов.
type pool struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

// Connect открывает подключение к БД согласно cfg.Database.Driver.
func Connect(cfg *config.Config, debug bool) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return ConnectPostgres(cfg.Postgres, debug)
	case "mysql", "":
		return ConnectMySQL(cfg.MySQL, debug)
	default:
		return nil, fmt.Errorf("неизвестный драйвер БД: %s", cfg.Database.Driver)
	}
}

// ConnectMySQL создаёт подключение к MySQL через GORM.
func ConnectMySQL(cfg config.MySQLConfig, debug bool) (*gorm.DB, error) {
	return open("MySQL", mysql.Open(cfg.DSN()), debug, pool{
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: cfg.ConnMaxLifetime,
	})
}

// ConnectPostgres создаёт подключение к PostgreSQL через GORM.
func ConnectPostgres(cfg config.PostgresConfig, debug bool) (*gorm.DB, error) {
	return open("PostgreSQL", postgres.Open(cfg.DSN()), debug, pool{
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: cfg.ConnMaxLifetime,
	})
}

// open открывает соединение, проверяет его через PingContext и настраивает пул.
// DSN в ошибки не попадает: в нём пароль.
func open(name string, dialector gorm.Dialector, debug bool, p pool) (*gorm.DB, error) {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ошибка ping %s: %w", name, err)
	}

	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxLifetime(p.maxLifetime)

	return db, nil
}
