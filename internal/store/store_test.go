package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"e2ee-relay/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T, name string) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

func TestFindOrCreateConversationCanonical(t *testing.T) {
	st := setupStore(t, "conv_canonical")
	ctx := context.Background()

	a := uuid.New()
	b := uuid.New()

	conv1, err := st.FindOrCreateConversation(ctx, a, b)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	conv2, err := st.FindOrCreateConversation(ctx, b, a)
	if err != nil {
		t.Fatalf("reversed resolve: %v", err)
	}
	if conv1.ID != conv2.ID {
		t.Fatalf("expected same conversation for both directions, got %s and %s", conv1.ID, conv2.ID)
	}

	conv3, err := st.FindOrCreateConversation(ctx, a, b)
	if err != nil {
		t.Fatalf("repeated resolve: %v", err)
	}
	if conv3.ID != conv1.ID {
		t.Fatalf("expected idempotent creation, got new id %s", conv3.ID)
	}
}

func TestFindOrCreateConversationRejectsSelf(t *testing.T) {
	st := setupStore(t, "conv_self")

	a := uuid.New()
	if _, err := st.FindOrCreateConversation(context.Background(), a, a); err != store.ErrInvalidPair {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
	if _, err := st.FindOrCreateConversation(context.Background(), a, uuid.Nil); err != store.ErrInvalidPair {
		t.Fatalf("expected ErrInvalidPair for nil peer, got %v", err)
	}
}

func TestMarkReceiptSetIfNull(t *testing.T) {
	st := setupStore(t, "receipt_idempotent")
	ctx := context.Background()

	conv, err := st.FindOrCreateConversation(ctx, uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	msg := store.Message{
		ConversationID: conv.ID,
		SenderID:       conv.UserA,
		ReceiverID:     conv.UserB,
		Ciphertext:     []byte("hello"),
	}
	if err := st.CreateMessage(ctx, &msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	updated, err := st.MarkReceipt(ctx, msg.ID, store.ReceiptDelivered, first)
	if err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	if updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(first) {
		t.Fatalf("expected delivered_at %v, got %v", first, updated.DeliveredAt)
	}
	if updated.SenderID != conv.UserA {
		t.Fatalf("expected sender %s in returned record, got %s", conv.UserA, updated.SenderID)
	}

	later := first.Add(time.Hour)
	updated, err = st.MarkReceipt(ctx, msg.ID, store.ReceiptDelivered, later)
	if err != nil {
		t.Fatalf("second receipt: %v", err)
	}
	if updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(first) {
		t.Fatalf("expected delivered_at to stay %v, got %v", first, updated.DeliveredAt)
	}

	if updated.ReadAt != nil {
		t.Fatalf("read_at should be untouched, got %v", updated.ReadAt)
	}
	updated, err = st.MarkReceipt(ctx, msg.ID, store.ReceiptRead, later)
	if err != nil {
		t.Fatalf("read receipt: %v", err)
	}
	if updated.ReadAt == nil || !updated.ReadAt.Equal(later) {
		t.Fatalf("expected read_at %v, got %v", later, updated.ReadAt)
	}
}

func TestMarkReceiptUnknownMessage(t *testing.T) {
	st := setupStore(t, "receipt_unknown")

	if _, err := st.MarkReceipt(context.Background(), uuid.New(), store.ReceiptDelivered, time.Now().UTC()); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.MarkReceipt(context.Background(), uuid.New(), "seen", time.Now().UTC()); err != store.ErrInvalidReceiptKind {
		t.Fatalf("expected ErrInvalidReceiptKind, got %v", err)
	}
}

func TestCreateUserDuplicatePhone(t *testing.T) {
	st := setupStore(t, "user_duplicate")
	ctx := context.Background()

	u := store.User{Phone: "+15550001", DisplayName: "Ana", PasswordHash: "x", IdentityKey: "ik"}
	if err := st.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := store.User{Phone: "+15550001", DisplayName: "Imposter", PasswordHash: "y", IdentityKey: "ik2"}
	if err := st.CreateUser(ctx, &dup); err != store.ErrDuplicatePhone {
		t.Fatalf("expected ErrDuplicatePhone, got %v", err)
	}
}

func TestListMessagesPagination(t *testing.T) {
	st := setupStore(t, "messages_page")
	ctx := context.Background()

	conv, err := st.FindOrCreateConversation(ctx, uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		msg := store.Message{
			ConversationID: conv.ID,
			SenderID:       conv.UserA,
			ReceiverID:     conv.UserB,
			Ciphertext:     []byte{byte(i)},
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.CreateMessage(ctx, &msg); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page1, next, err := st.ListMessages(ctx, conv.ID, 3, uuid.Nil)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page1))
	}
	if next == uuid.Nil {
		t.Fatalf("expected a next cursor")
	}
	if !page1[0].CreatedAt.After(page1[2].CreatedAt) {
		t.Fatalf("expected newest-first ordering")
	}

	page2, next2, err := st.ListMessages(ctx, conv.ID, 3, next)
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("expected 2 remaining messages, got %d", len(page2))
	}
	if next2 != uuid.Nil {
		t.Fatalf("expected no further cursor, got %s", next2)
	}

	seen := map[uuid.UUID]bool{}
	for _, m := range append(page1, page2...) {
		if seen[m.ID] {
			t.Fatalf("message %s returned twice", m.ID)
		}
		seen[m.ID] = true
	}
}
