package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// TokenStorage persists OAuth2 tokens in the settings table
type TokenStorage struct {
	db  *gorm.DB
	key string
}

// NewTokenStorage creates a storage for one token. key identifies the
// token endpoint and client the token belongs to.
func NewTokenStorage(db *gorm.DB, key string) *TokenStorage {
	return &TokenStorage{db: db, key: "oauth2_token:" + key}
}

// SaveToken saves an OAuth2 token to the database. A nil token deletes it.
func (s *TokenStorage) SaveToken(token *oauth2.Token) error {
	if token == nil {
		return s.db.Exec("DELETE FROM settings WHERE key = ?", s.key).Error
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	return s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.key, string(data), time.Now()).Error
}

// LoadToken loads the token, returning nil when none is stored
func (s *TokenStorage) LoadToken() (*oauth2.Token, error) {
	var value string
	err := s.db.Raw("SELECT value FROM settings WHERE key = ?", s.key).Scan(&value).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if value == "" {
		return nil, nil
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(value), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}
