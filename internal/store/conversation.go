package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserA     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_pair,priority:1"`
	UserB     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversations_pair,priority:2"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// CanonicalPair orders two participant identities so the same two users
// always key the same conversation regardless of who initiates.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

// FindOrCreateConversation resolves the conversation for a pair of users,
// creating it lazily on first contact. Safe under concurrent invocation from
// both participants: the unique index on the canonical pair makes the insert
// race lose gracefully into the re-read.
func (s *Store) FindOrCreateConversation(ctx context.Context, a, b uuid.UUID) (Conversation, error) {
	if a == uuid.Nil || b == uuid.Nil || a == b {
		return Conversation{}, ErrInvalidPair
	}
	ua, ub := CanonicalPair(a, b)

	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, "user_a = ? AND user_b = ?", ua, ub).Error
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, err
	}

	conv = Conversation{ID: uuid.New(), UserA: ua, UserB: ub}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_a"}, {Name: "user_b"}},
		DoNothing: true,
	}).Create(&conv)
	if res.Error != nil {
		return Conversation{}, res.Error
	}
	if res.RowsAffected == 1 {
		return conv, nil
	}
	err = s.db.WithContext(ctx).First(&conv, "user_a = ? AND user_b = ?", ua, ub).Error
	return conv, err
}
