package nextengine

import (
	"errors"

	"ne-autoprice/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenStore persists the singleton token pair. Every retry inside the
// client re-reads through this interface so a pair rotated by a concurrent
// call is picked up instead of the stale in-memory copy.
type TokenStore interface {
	Get() (*TokenPair, error)
	Save(pair TokenPair) error
}

// GormTokenStore keeps the pair in the next_engine_tokens row with the fixed
// primary key.
type GormTokenStore struct {
	db *gorm.DB
}

func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

// Get returns the stored pair, or nil when none has been saved yet.
func (s *GormTokenStore) Get() (*TokenPair, error) {
	var row models.NextEngineToken
	err := s.db.First(&row, models.TokenRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ClientID:     row.ClientID,
		ClientSecret: row.ClientSecret,
	}, nil
}

// Save upserts the singleton row, superseding whatever pair was there.
func (s *GormTokenStore) Save(pair TokenPair) error {
	row := models.NextEngineToken{
		ID:           models.TokenRowID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ClientID:     pair.ClientID,
		ClientSecret: pair.ClientSecret,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at"}),
	}).Create(&row).Error
}
