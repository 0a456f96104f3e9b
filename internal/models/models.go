package models

import (
	"time"
)

// Execution log statuses
const (
	ExecutionSuccess = "SUCCESS"
	ExecutionFailed  = "FAILED"
	ExecutionSkipped = "SKIPPED"
)

// Platform sync statuses
const (
	SyncSuccess = "success"
	SyncError   = "error"
)

// TokenRowID is the fixed primary key of the singleton token record.
const TokenRowID uint = 1

// NextEngineToken holds the single active access/refresh token pair.
// The row keyed by TokenRowID is overwritten in place on every rolling
// refresh; a stale pair is only ever detected through API error responses.
type NextEngineToken struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	AccessToken  string    `json:"-" gorm:"type:text;not null"`
	RefreshToken string    `json:"-" gorm:"type:text;not null"`
	ClientID     string    `json:"-"`
	ClientSecret string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PriceHistory records fetched spot prices, one row per calendar day.
// PlatinumPrice is nullable: a feed page missing the platinum figure is
// stored as NULL so the day drops out of platinum ratio computation instead
// of registering as a crash to zero.
type PriceHistory struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	Date          time.Time `json:"date" gorm:"uniqueIndex;not null"`
	GoldPrice     float64   `json:"gold_price" gorm:"not null"`
	PlatinumPrice *float64  `json:"platinum_price"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExecutionLog summarizes one repricing run per calendar day. Upserted by
// date, last write wins.
type ExecutionLog struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Date            time.Time `json:"date" gorm:"uniqueIndex;not null"`
	Status          string    `json:"status" gorm:"not null"` // SUCCESS, FAILED, SKIPPED
	UpdatedProducts int       `json:"updated_products"`
	GoldRatio       *float64  `json:"gold_ratio"`
	PlatinumRatio   *float64  `json:"platinum_ratio"`
	ExecutionReason string    `json:"execution_reason"`
	ErrorMessage    string    `json:"error_message"`
	SkippedReason   string    `json:"skipped_reason"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlatformSyncLog is an append-only audit trail of marketplace sync attempts.
type PlatformSyncLog struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	SyncedAt     time.Time `json:"synced_at" gorm:"index;not null"`
	ProductCount int       `json:"product_count"`
	Status       string    `json:"status" gorm:"not null"` // success, error
	Details      string    `json:"details" gorm:"type:text"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// KeepAliveLog is an append-only record of keepalive attempts.
type KeepAliveLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Status    string    `json:"status" gorm:"not null"` // SUCCESS, FAILED
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// AppSetting is a key/value row for runtime switches.
type AppSetting struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"column:setting_key;uniqueIndex;not null"`
	Value     string    `json:"value" gorm:"column:setting_value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingPriceUpdateEnabled switches the daily repricing run on and off.
// A missing row means enabled.
const SettingPriceUpdateEnabled = "price_update_enabled"
