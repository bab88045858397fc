// Package credential holds the bearer token shared by every authenticated
// request.
package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zulandar/tutorline/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoCredential is returned by Get when no token is stored.
var ErrNoCredential = errors.New("credential: no access token stored")

// Store holds one opaque access token. Implementations do not inspect it.
type Store interface {
	// Get returns the stored token or ErrNoCredential.
	Get() (string, error)
	// Set replaces the stored token.
	Set(token string) error
	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear() error
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns a MemoryStore, optionally pre-seeded with a token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Get() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoCredential
	}
	return s.token, nil
}

func (s *MemoryStore) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Set("")
}

// DBStore persists the token as a single row of the credential database.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore creates a DBStore. The credential table must already exist
// (see db.AutoMigrate).
func NewDBStore(gormDB *gorm.DB) (*DBStore, error) {
	if gormDB == nil {
		return nil, fmt.Errorf("credential: db is required")
	}
	return &DBStore{db: gormDB}, nil
}

func (s *DBStore) Get() (string, error) {
	var row models.Credential
	result := s.db.Where(&models.Credential{Key: models.AccessTokenKey}).Limit(1).Find(&row)
	if result.Error != nil {
		return "", fmt.Errorf("credential: load: %w", result.Error)
	}
	if result.RowsAffected == 0 || row.Value == "" {
		return "", ErrNoCredential
	}
	return row.Value, nil
}

func (s *DBStore) Set(token string) error {
	row := models.Credential{Key: models.AccessTokenKey, Value: token}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("credential: store: %w", result.Error)
	}
	return nil
}

func (s *DBStore) Clear() error {
	if err := s.db.Delete(&models.Credential{Key: models.AccessTokenKey}).Error; err != nil {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}

// storeTokenSource reads the store on every call so that a cleared store is
// observed by the very next request.
type storeTokenSource struct {
	store Store
}

// TokenSource adapts a Store to an oauth2.TokenSource yielding bearer tokens.
func TokenSource(store Store) oauth2.TokenSource {
	return storeTokenSource{store: store}
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.store.Get()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}
