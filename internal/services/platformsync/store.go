package platformsync

import (
	"ne-autoprice/internal/models"

	"gorm.io/gorm"
)

// GormSyncLogStore appends sync attempts to the platform_sync_logs table.
// Append-only: attempts are never deduplicated by day.
type GormSyncLogStore struct {
	db *gorm.DB
}

func NewGormSyncLogStore(db *gorm.DB) *GormSyncLogStore {
	return &GormSyncLogStore{db: db}
}

func (s *GormSyncLogStore) AppendSyncLog(entry models.PlatformSyncLog) error {
	return s.db.Create(&entry).Error
}

// Recent returns the latest sync attempts, newest first.
func (s *GormSyncLogStore) Recent(limit int) ([]models.PlatformSyncLog, error) {
	var rows []models.PlatformSyncLog
	err := s.db.Order("synced_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
