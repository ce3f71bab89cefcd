package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/registry"
	"e2ee-relay/internal/store"

	"github.com/google/uuid"
)

// Relay routes inbound frames between users: it persists messages through
// the store, tracks delivery/read receipts, announces new users, and blindly
// forwards WebRTC signaling. It holds no per-call state; call state lives
// client-side and the connection's lifetime is the only cancellation scope.
type Relay struct {
	store  *store.Store
	reg    *registry.Registry
	logger *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, reg *registry.Registry, logger *slog.Logger) *Relay {
	return &Relay{
		store:  st,
		reg:    reg,
		logger: logger.With(slog.String("component", "relay")),
		now:    time.Now,
	}
}

// HandleFrame processes one inbound frame from a connection owned by `from`.
// It never surfaces an error to the transport: the protocol has no
// error-frame channel, so invalid frames are logged and dropped while the
// connection stays open.
func (r *Relay) HandleFrame(ctx context.Context, from uuid.UUID, raw []byte) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		r.logger.Warn("malformed frame", "error", err, "user_id", from)
		metrics.FramesProcessedTotal.WithLabelValues("invalid", "dropped").Inc()
		return
	}

	switch f.Type {
	case FrameSendMessage:
		r.handleSendMessage(ctx, from, f)
	case FrameReceipt:
		r.handleReceipt(ctx, from, f)
	case FrameCallOffer, FrameCallAnswer, FrameICECandidate, FrameCallReject, FrameCallEnd:
		r.relayCallSignal(from, f)
	default:
		r.logger.Warn("unknown frame type", "type", string(f.Type), "user_id", from)
		metrics.FramesProcessedTotal.WithLabelValues("unknown", "dropped").Inc()
	}
}

func (r *Relay) handleSendMessage(ctx context.Context, from uuid.UUID, f inboundFrame) {
	drop := func(reason string, args ...any) {
		r.logger.Warn("send-message dropped: "+reason, append(args, "user_id", from)...)
		metrics.FramesProcessedTotal.WithLabelValues(string(FrameSendMessage), "dropped").Inc()
	}

	to, err := uuid.Parse(f.ToUserID)
	if err != nil {
		drop("bad recipient", "to", f.ToUserID)
		return
	}
	if f.Ciphertext == "" && f.MediaURL == "" {
		drop("no payload")
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		drop("ciphertext not base64", "error", err)
		return
	}

	var convID uuid.UUID
	if f.ConversationID != "" {
		convID, err = uuid.Parse(f.ConversationID)
		if err != nil {
			drop("bad conversation id", "conversation_id", f.ConversationID)
			return
		}
	} else {
		conv, err := r.store.FindOrCreateConversation(ctx, from, to)
		if err != nil {
			if errors.Is(err, store.ErrInvalidPair) {
				drop("invalid participant pair", "to", to)
				return
			}
			r.logger.Error("conversation resolve failed", "error", err, "user_id", from)
			metrics.FramesProcessedTotal.WithLabelValues(string(FrameSendMessage), "error").Inc()
			return
		}
		convID = conv.ID
	}

	msg := store.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       from,
		ReceiverID:     to,
		Ciphertext:     ciphertext,
		MediaURL:       f.MediaURL,
		MediaType:      f.MediaType,
		FileName:       f.FileName,
		FileSize:       f.FileSize,
		DedupeKey:      f.DedupeKey,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.store.CreateMessage(ctx, &msg); err != nil {
		r.logger.Error("message persist failed", "error", err, "user_id", from)
		metrics.FramesProcessedTotal.WithLabelValues(string(FrameSendMessage), "error").Inc()
		return
	}

	// The outbound frame carries the original ciphertext string, not a
	// re-encoding. The sender gets no echo: clients render their own sends
	// optimistically.
	out := messageFrame{
		Type: FrameMessage,
		Message: wireMessage{
			ID:             msg.ID.String(),
			ConversationID: msg.ConversationID.String(),
			SenderID:       msg.SenderID.String(),
			ReceiverID:     msg.ReceiverID.String(),
			Ciphertext:     f.Ciphertext,
			MediaURL:       msg.MediaURL,
			MediaType:      msg.MediaType,
			FileName:       msg.FileName,
			FileSize:       msg.FileSize,
			CreatedAt:      msg.CreatedAt,
		},
	}
	payload, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("message frame marshal failed", "error", err)
		return
	}

	delivery := "offline"
	if sent := r.reg.SendToUser(to, payload); sent > 0 {
		delivery = "delivered"
	}
	metrics.MessagesRelayedTotal.WithLabelValues(delivery).Inc()
	metrics.FramesProcessedTotal.WithLabelValues(string(FrameSendMessage), "ok").Inc()
	r.logger.Debug("message routed", "message_id", msg.ID, "from", from, "to", to, "delivery", delivery)
}

func (r *Relay) handleReceipt(ctx context.Context, from uuid.UUID, f inboundFrame) {
	kind := store.ReceiptKind(f.Kind)
	if !kind.Valid() {
		r.logger.Warn("receipt dropped: unknown kind", "kind", f.Kind, "user_id", from)
		metrics.FramesProcessedTotal.WithLabelValues(string(FrameReceipt), "dropped").Inc()
		return
	}
	msgID, err := uuid.Parse(f.MessageID)
	if err != nil {
		r.logger.Warn("receipt dropped: bad message id", "message_id", f.MessageID, "user_id", from)
		metrics.FramesProcessedTotal.WithLabelValues(string(FrameReceipt), "dropped").Inc()
		return
	}

	msg, err := r.store.MarkReceipt(ctx, msgID, kind, r.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("receipt for unknown message", "message_id", msgID, "user_id", from)
			metrics.FramesProcessedTotal.WithLabelValues(string(FrameReceipt), "dropped").Inc()
			return
		}
		r.logger.Error("receipt update failed", "error", err, "message_id", msgID)
		metrics.FramesProcessedTotal.WithLabelValues(string(FrameReceipt), "error").Inc()
		return
	}

	// The receiver acknowledging notifies the sender. A self-receipt is
	// suppressed so a client never notifies itself.
	if msg.SenderID != from {
		payload, err := json.Marshal(receiptFrame{Type: FrameReceipt, MessageID: msgID.String(), Kind: string(kind)})
		if err != nil {
			r.logger.Error("receipt frame marshal failed", "error", err)
			return
		}
		r.reg.SendToUser(msg.SenderID, payload)
		metrics.ReceiptsForwardedTotal.WithLabelValues(string(kind)).Inc()
	}
	metrics.FramesProcessedTotal.WithLabelValues(string(FrameReceipt), "ok").Inc()
}

// relayCallSignal forwards a WebRTC signaling frame to the target user's
// live connections, tagged with the sender's identity. The server never
// interprets SDP or ICE payloads and keeps no record of any call, so an
// end-signal for an unknown call relays just like any other.
func (r *Relay) relayCallSignal(from uuid.UUID, f inboundFrame) {
	drop := func(reason string) {
		r.logger.Warn("call signal dropped: "+reason, "type", string(f.Type), "user_id", from)
		metrics.FramesProcessedTotal.WithLabelValues(string(f.Type), "dropped").Inc()
	}

	to, err := uuid.Parse(f.ToUserID)
	if err != nil {
		drop("bad target")
		return
	}

	out := callFrame{Type: f.Type, FromUserID: from.String()}
	switch f.Type {
	case FrameCallOffer:
		if len(f.Offer) == 0 {
			drop("missing offer")
			return
		}
		out.Offer = f.Offer
		out.CallerName = f.CallerName
	case FrameCallAnswer:
		if len(f.Answer) == 0 {
			drop("missing answer")
			return
		}
		out.Answer = f.Answer
	case FrameICECandidate:
		if len(f.Candidate) == 0 {
			drop("missing candidate")
			return
		}
		out.Candidate = f.Candidate
	case FrameCallReject, FrameCallEnd:
		// No payload beyond the tag.
	}

	payload, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("call frame marshal failed", "error", err)
		return
	}

	// Delivered only to currently-live connections; a disconnected target
	// means a silent drop and the caller times out client-side.
	r.reg.SendToUser(to, payload)
	metrics.CallSignalsRelayedTotal.WithLabelValues(string(f.Type)).Inc()
	metrics.FramesProcessedTotal.WithLabelValues(string(f.Type), "ok").Inc()
}

// AnnounceUser broadcasts a user-registered event to every live connection
// so connected clients can refresh their contact list without polling.
// Best-effort: no acknowledgment, no retry, nothing persisted.
func (r *Relay) AnnounceUser(u store.User) {
	payload, err := json.Marshal(userRegisteredFrame{
		Type: FrameUserRegistered,
		User: wireUser{
			ID:          u.ID.String(),
			Phone:       u.Phone,
			DisplayName: u.DisplayName,
			IdentityKey: u.IdentityKey,
		},
	})
	if err != nil {
		r.logger.Error("user-registered frame marshal failed", "error", err)
		return
	}
	sent := r.reg.BroadcastAll(payload)
	r.logger.Info("announced new user", "user_id", u.ID, "notified", sent)
}
