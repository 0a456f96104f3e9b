package pricing

import (
	"errors"
	"time"

	"ne-autoprice/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence the repricing run needs: the daily price history,
// the daily execution log and the runtime enabled switch.
type Store interface {
	UpsertPriceHistory(entry models.PriceHistory) error
	PriceHistoryByDate(date time.Time) (*models.PriceHistory, error)
	UpsertExecutionLog(entry models.ExecutionLog) error
	PriceUpdateEnabled() (bool, error)
	SetPriceUpdateEnabled(enabled bool) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// UpsertPriceHistory writes at most one row per calendar day.
func (s *GormStore) UpsertPriceHistory(entry models.PriceHistory) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"gold_price", "platinum_price", "source", "updated_at"}),
	}).Create(&entry).Error
}

func (s *GormStore) PriceHistoryByDate(date time.Time) (*models.PriceHistory, error) {
	var row models.PriceHistory
	err := s.db.Where("date = ?", date).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertExecutionLog guarantees exactly one logical outcome per day; a rerun
// on the same date overwrites the earlier record.
func (s *GormStore) UpsertExecutionLog(entry models.ExecutionLog) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "updated_products", "gold_ratio", "platinum_ratio",
			"execution_reason", "error_message", "skipped_reason",
			"duration_seconds", "updated_at",
		}),
	}).Create(&entry).Error
}

// PriceUpdateEnabled reads the runtime switch; a missing row means enabled.
func (s *GormStore) PriceUpdateEnabled() (bool, error) {
	var row models.AppSetting
	err := s.db.Where("setting_key = ?", models.SettingPriceUpdateEnabled).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return row.Value != "false", nil
}

func (s *GormStore) SetPriceUpdateEnabled(enabled bool) error {
	value := "true"
	if !enabled {
		value = "false"
	}
	row := models.AppSetting{Key: models.SettingPriceUpdateEnabled, Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
	}).Create(&row).Error
}
