package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/model"
)

// InitDatabase connects to MySQL, sizes the pool and migrates the event
// record table.
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := open(mysql.Open(cfg.GetDSN()), cfg)
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.DBName,
	}).Info("Database initialized successfully")
	return db, nil
}

func open(dialector gorm.Dialector, cfg config.DatabaseConfig) (*gorm.DB, error) {
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	configurePool(sqlDB, cfg)
	return db, nil
}

// configurePool applies the pool limits, keeping the stock sizes for unset values
func configurePool(sqlDB *sql.DB, cfg config.DatabaseConfig) {
	idle, maxOpen, lifetime := cfg.MaxIdleConns, cfg.MaxOpenConns, cfg.ConnMaxLifetime
	if idle <= 0 {
		idle = 10
	}
	if maxOpen <= 0 {
		maxOpen = 100
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetMaxIdleConns(idle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(lifetime)
}

func migrate(db *gorm.DB) error {
	logrus.Info("Migrating event_records table...")
	if err := db.AutoMigrate(&model.EventRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}
