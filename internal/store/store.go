package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrInvalidPair    = errors.New("store: invalid participant pair")
	ErrDuplicatePhone = errors.New("store: phone already registered")
)

// Store is the durable collaborator: users, conversations and message
// records. Live connection state never lives here.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&User{}, &Conversation{}, &Message{})
}
