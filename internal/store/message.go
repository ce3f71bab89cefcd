package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_conv_created,priority:1"`
	SenderID       uuid.UUID `gorm:"type:uuid;not null"`
	ReceiverID     uuid.UUID `gorm:"type:uuid;not null"`
	Ciphertext     []byte    `gorm:"type:bytea"`
	MediaURL       string    `gorm:"type:text"`
	MediaType      string    `gorm:"type:text"`
	FileName       string    `gorm:"type:text"`
	FileSize       int64
	DedupeKey      string     `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"not null;index:idx_messages_conv_created,priority:2"`
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

func (k ReceiptKind) Valid() bool {
	return k == ReceiptDelivered || k == ReceiptRead
}

var ErrInvalidReceiptKind = errors.New("store: invalid receipt kind")

func (s *Store) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(msg).Error
}

// MarkReceipt stamps the delivered or read timestamp with set-if-null
// semantics: acknowledging twice leaves the first timestamp untouched.
// Returns the current record so the caller can route to the sender.
func (s *Store) MarkReceipt(ctx context.Context, id uuid.UUID, kind ReceiptKind, at time.Time) (Message, error) {
	var column string
	switch kind {
	case ReceiptDelivered:
		column = "delivered_at"
	case ReceiptRead:
		column = "read_at"
	default:
		return Message{}, ErrInvalidReceiptKind
	}
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND "+column+" IS NULL", id).
		Update(column, at)
	if res.Error != nil {
		return Message{}, res.Error
	}
	var msg Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	return msg, nil
}

// ListMessages pages a conversation's history newest first. cursor is the
// last message ID of the previous page; uuid.Nil starts from the top.
func (s *Store) ListMessages(ctx context.Context, convID uuid.UUID, limit int, cursor uuid.UUID) ([]Message, uuid.UUID, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	tx := s.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at desc").Order("id desc").
		Limit(limit + 1)
	if cursor != uuid.Nil {
		var after Message
		if err := s.db.WithContext(ctx).First(&after, "id = ?", cursor).Error; err != nil {
			return nil, uuid.Nil, ErrNotFound
		}
		tx = tx.Where("(created_at < ?) OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, cursor)
	}
	var msgs []Message
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, uuid.Nil, err
	}
	next := uuid.Nil
	if len(msgs) > limit {
		msgs = msgs[:limit]
		next = msgs[len(msgs)-1].ID
	}
	return msgs, next, nil
}
