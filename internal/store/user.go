package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Phone        string    `gorm:"type:text;not null;uniqueIndex"`
	DisplayName  string    `gorm:"type:text;not null"`
	PasswordHash string    `gorm:"type:text;not null"`
	IdentityKey  string    `gorm:"type:text;not null"`
	PreKeys      JSON      `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(u).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicatePhone
	}
	return err
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// ListUsers returns a directory page excluding the caller, newest first.
// cursor is the last user ID of the previous page; uuid.Nil starts over.
func (s *Store) ListUsers(ctx context.Context, exclude uuid.UUID, limit int, cursor uuid.UUID) ([]User, uuid.UUID, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	tx := s.db.WithContext(ctx).
		Where("id <> ?", exclude).
		Order("created_at desc").Order("id desc").
		Limit(limit + 1)
	if cursor != uuid.Nil {
		var after User
		if err := s.db.WithContext(ctx).First(&after, "id = ?", cursor).Error; err != nil {
			return nil, uuid.Nil, ErrNotFound
		}
		tx = tx.Where("(created_at < ?) OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, cursor)
	}
	var users []User
	if err := tx.Find(&users).Error; err != nil {
		return nil, uuid.Nil, err
	}
	next := uuid.Nil
	if len(users) > limit {
		users = users[:limit]
		next = users[len(users)-1].ID
	}
	return users, next, nil
}

// gorm only translates driver errors when opened with TranslateError; match
// the raw postgres and sqlite messages as well.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
