package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/lounis13/taskflow/internal/pkg/logger"
	"github.com/lounis13/taskflow/internal/utils"
)

type SqliteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSqliteService(logg *logger.Logger) (*SqliteService, error) {
	serviceLog := logg.With("service", "SqliteService")

	path := utils.GetEnv("SQLITE_PATH", "./app.db", logg)

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	if err := gdb.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := gdb.Exec("PRAGMA foreign_keys=ON").Error; err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SqliteService{db: gdb, log: serviceLog}, nil
}

func (s *SqliteService) DB() *gorm.DB { return s.db }

func (s *SqliteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}
