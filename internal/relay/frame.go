package relay

import (
	"encoding/json"
	"time"
)

// FrameType enumerates the frame kinds of the wire protocol. The dispatch
// switch in HandleFrame is exhaustive over the client-sent kinds; a new kind
// means a new case there.
type FrameType string

const (
	// client -> server
	FrameSendMessage  FrameType = "send-message"
	FrameReceipt      FrameType = "receipt"
	FrameCallOffer    FrameType = "call-offer"
	FrameCallAnswer   FrameType = "call-answer"
	FrameICECandidate FrameType = "ice-candidate"
	FrameCallReject   FrameType = "call-reject"
	FrameCallEnd      FrameType = "call-end"

	// server -> client
	FrameReady          FrameType = "ready"
	FrameMessage        FrameType = "message"
	FrameUserRegistered FrameType = "user-registered"
)

// inboundFrame is the union of all client frame variants; each handler reads
// only the fields its kind carries. Frames are ephemeral and never stored.
type inboundFrame struct {
	Type FrameType `json:"type"`

	// send-message
	ToUserID       string `json:"toUserId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Ciphertext     string `json:"ciphertext,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	MediaType      string `json:"mediaType,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       int64  `json:"fileSize,omitempty"`
	DedupeKey      string `json:"dedupeKey,omitempty"`

	// receipt
	MessageID string `json:"messageId,omitempty"`
	Kind      string `json:"kind,omitempty"`

	// call signaling payloads, relayed verbatim
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	CallerName string          `json:"callerName,omitempty"`
}

type wireMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Ciphertext     string    `json:"ciphertext"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
	MediaType      string    `json:"mediaType,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	FileSize       int64     `json:"fileSize,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type messageFrame struct {
	Type    FrameType   `json:"type"`
	Message wireMessage `json:"message"`
}

type receiptFrame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"messageId"`
	Kind      string    `json:"kind"`
}

type callFrame struct {
	Type       FrameType       `json:"type"`
	FromUserID string          `json:"fromUserId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	CallerName string          `json:"callerName,omitempty"`
}

type wireUser struct {
	ID          string `json:"id"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName"`
	IdentityKey string `json:"identityKey"`
}

type userRegisteredFrame struct {
	Type FrameType `json:"type"`
	User wireUser  `json:"user"`
}

// ReadyFrame is sent once on successful connect.
func ReadyFrame() []byte {
	return []byte(`{"type":"ready"}`)
}
