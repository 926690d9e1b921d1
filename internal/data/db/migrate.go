package db

import (
	"gorm.io/gorm"

	"github.com/lounis13/taskflow/internal/domain/task"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&task.Task{},
		&task.TaskDependency{},
	)
}
