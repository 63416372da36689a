package types

import (
	"encoding/json"
	"time"
)

// Inbound event names accepted on a connection.
const (
	EventMessageSend      = "message:send"
	EventConversationRead = "conversation:read"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
)

// Outbound event names emitted by the hub.
const (
	EventMessageNew           = "message:new"
	EventConversationReadSync = "conversation:read:update"
	EventTypingUpdate         = "typing:update"
	EventRateLimitError       = "error:rate-limit"
	EventError                = "error"
)

// Conversation types
const (
	ConversationTypeDM    = "dm"
	ConversationTypeGroup = "group"
)

// Identity is the resolved (userId, sessionId) pair attached to a connection.
// It never changes for the lifetime of the connection.
type Identity struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// IsZero reports whether the identity has not been resolved yet.
func (i Identity) IsZero() bool {
	return i.UserID == "" && i.SessionID == ""
}

// Key returns a stable map key for per-identity state.
func (i Identity) Key() string {
	return i.UserID + "\x00" + i.SessionID
}

// Session is the credential service's session row. The hub only reads it.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CredentialHash string     `json:"-"`
	UserAgent      string     `json:"userAgent"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
}

// IsLive reports whether the session is neither revoked nor expired at now.
func (s *Session) IsLive(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// Conversation is a broadcast group with an atomically incremented counter.
type Conversation struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ParticipantIDs []string  `json:"participantIds"`
	LastSequence   int64     `json:"lastSequence"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Message is an accepted chat message. (ConversationID, Sequence) is unique.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Sequence       int64      `json:"sequence"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// ReadState is a per-(conversation, user) read watermark.
type ReadState struct {
	ConversationID   string    `json:"conversationId"`
	UserID           string    `json:"userId"`
	LastReadSequence int64     `json:"lastReadSequence"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Envelope is the wire frame for both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is an envelope whose payload has not been marshaled yet.
type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SendMessagePayload is the body of message:send.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// ReadPayload is the body of conversation:read.
type ReadPayload struct {
	ConversationID   string `json:"conversationId"`
	LastReadSequence int64  `json:"lastReadSequence"`
}

// TypingPayload is the body of typing:start and typing:stop.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// ReadUpdate is the body of conversation:read:update.
type ReadUpdate struct {
	ConversationID   string `json:"conversationId"`
	UserID           string `json:"userId"`
	LastReadSequence int64  `json:"lastReadSequence"`
}

// TypingUpdate is the body of typing:update.
type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// RateLimitNotice is the body of error:rate-limit.
type RateLimitNotice struct {
	Type         string `json:"type"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

// ErrorNotice is the body of a generic per-event error sent to the originator.
type ErrorNotice struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
