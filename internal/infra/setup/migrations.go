package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vbud/ewb-server/internal/domain"
)

// MigrateDB 迁移白板表。
// MySQL 和测试用的 SQLite 都走 AutoMigrate，列长度由 domain.Whiteboard 的 gorm 标签决定。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := db.AutoMigrate(&domain.Whiteboard{}); err != nil {
		logrus.Errorf("Failed to auto-migrate whiteboards table: %v", err)
		return fmt.Errorf("failed to auto-migrate whiteboards table: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
