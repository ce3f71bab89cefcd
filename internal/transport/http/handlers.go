package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	obsmw "e2ee-relay/internal/observability/middleware"
	"e2ee-relay/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type ctxUserKey struct{}

type registerRequest struct {
	Phone       string          `json:"phone"`
	DisplayName string          `json:"displayName"`
	Password    string          `json:"password"`
	IdentityKey string          `json:"identityKey"`
	PreKeys     json.RawMessage `json:"preKeys,omitempty"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type userView struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	DisplayName string    `json:"displayName"`
	IdentityKey string    `json:"identityKey"`
	CreatedAt   time.Time `json:"createdAt"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

type messageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Ciphertext     string     `json:"ciphertext"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
	MediaType      string     `json:"mediaType,omitempty"`
	FileName       string     `json:"fileName,omitempty"`
	FileSize       int64      `json:"fileSize,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt"`
	ReadAt         *time.Time `json:"readAt"`
}

func toUserView(u store.User) userView {
	return userView{
		ID:          u.ID.String(),
		Phone:       u.Phone,
		DisplayName: u.DisplayName,
		IdentityKey: u.IdentityKey,
		CreatedAt:   u.CreatedAt,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	reqID := obsmw.RequestIDFromContext(r.Context())

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Phone) < 6 || req.DisplayName == "" || len(req.Password) < 6 || len(req.IdentityKey) < 24 {
		http.Error(w, "invalid registration fields", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	user := store.User{
		Phone:        strings.TrimSpace(req.Phone),
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		IdentityKey:  req.IdentityKey,
		PreKeys:      store.JSON(req.PreKeys),
	}
	if err := h.store.CreateUser(r.Context(), &user); err != nil {
		if errors.Is(err, store.ErrDuplicatePhone) {
			http.Error(w, "phone already registered", http.StatusConflict)
			return
		}
		slog.Error("user create failed", "error", err, "request_id", reqID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("token issue failed", "error", err, "request_id", reqID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Let already-connected clients pick up the new contact without polling.
	h.relay.AnnounceUser(user)

	slog.Info("user registered", "user_id", user.ID, "request_id", reqID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserView(user)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	reqID := obsmw.RequestIDFromContext(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByPhone(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.Error("login lookup failed", "error", err, "request_id", reqID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("token issue failed", "error", err, "request_id", reqID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserView(user)})
}

// requireAuth resolves the Bearer token to a user identity and stashes it in
// the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := h.tokens.ResolveIdentity(strings.TrimSpace(raw[len("Bearer "):]))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, userID)))
	})
}

func userIDFrom(r *http.Request) uuid.UUID {
	if id, ok := r.Context().Value(ctxUserKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	user, err := h.store.GetUserByPhone(r.Context(), phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		userView
		PreKeys json.RawMessage `json:"preKeys"`
	}{toUserView(user), json.RawMessage(user.PreKeys)})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	me := userIDFrom(r)
	limit := queryInt(r, "limit", 20)
	cursor, ok := queryCursor(w, r)
	if !ok {
		return
	}

	users, next, err := h.store.ListUsers(r.Context(), me, limit, cursor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]userView, 0, len(users))
	for _, u := range users {
		items = append(items, toUserView(u))
	}
	writeJSON(w, http.StatusOK, struct {
		Items      []userView `json:"items"`
		NextCursor *string    `json:"nextCursor"`
	}{items, cursorString(next)})
}

func (h *Handler) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	me := userIDFrom(r)
	peerID, err := uuid.Parse(chi.URLParam(r, "peerID"))
	if err != nil {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}

	conv, err := h.store.FindOrCreateConversation(r.Context(), me, peerID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPair) {
			http.Error(w, "cannot chat with self", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ConversationID string `json:"conversationId"`
	}{conv.ID.String()})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	me := userIDFrom(r)
	peerID, err := uuid.Parse(chi.URLParam(r, "peerID"))
	if err != nil {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 20)
	cursor, ok := queryCursor(w, r)
	if !ok {
		return
	}

	conv, err := h.store.FindOrCreateConversation(r.Context(), me, peerID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPair) {
			http.Error(w, "cannot chat with self", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	msgs, next, err := h.store.ListMessages(r.Context(), conv.ID, limit, cursor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageView{
			ID:             m.ID.String(),
			ConversationID: m.ConversationID.String(),
			SenderID:       m.SenderID.String(),
			ReceiverID:     m.ReceiverID.String(),
			Ciphertext:     base64.StdEncoding.EncodeToString(m.Ciphertext),
			MediaURL:       m.MediaURL,
			MediaType:      m.MediaType,
			FileName:       m.FileName,
			FileSize:       m.FileSize,
			CreatedAt:      m.CreatedAt,
			DeliveredAt:    m.DeliveredAt,
			ReadAt:         m.ReadAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Items      []messageView `json:"items"`
		NextCursor *string       `json:"nextCursor"`
	}{items, cursorString(next)})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryCursor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	v := r.URL.Query().Get("cursor")
	if v == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func cursorString(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
