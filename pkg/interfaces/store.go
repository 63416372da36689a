package interfaces

import (
	"context"
	"time"

	"chathub/pkg/types"
)

// SessionStore is the read side of the credential service.
type SessionStore interface {
	// FindLiveSession returns the session with the given id when it is neither
	// revoked nor expired at now, or ErrSessionNotFound.
	FindLiveSession(ctx context.Context, sessionID string, now time.Time) (*types.Session, error)
}

// ConversationStore resolves membership and owns the per-conversation counter.
type ConversationStore interface {
	// ConversationIDsForUser lists conversations the user participates in.
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)

	// IsParticipant reports whether userID belongs to the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// IncrementSequence atomically increments the conversation counter and returns
	// the new value. Implementations must be linearizable per conversation.
	// Returns types.ErrConversationNotFound without mutating anything if absent.
	IncrementSequence(ctx context.Context, conversationID string) (int64, error)
}

// MessageStore persists messages. (conversation_id, sequence) is a hard constraint.
type MessageStore interface {
	InsertMessage(ctx context.Context, message *types.Message) error

	// AppendMessage increments the conversation counter and inserts the message
	// atomically, setting message.Sequence on success. Nothing is mutated on
	// failure. Returns types.ErrConversationNotFound if the conversation is absent.
	AppendMessage(ctx context.Context, message *types.Message) error

	// MessagesAfter returns non-deleted messages with sequence > after, ascending.
	MessagesAfter(ctx context.Context, conversationID string, after int64, limit int) ([]*types.Message, error)
}

// ReadStateStore holds read watermarks.
type ReadStateStore interface {
	// UpsertReadState stores sequence only when no row exists or the stored value
	// is strictly lower. Reports whether a write happened.
	UpsertReadState(ctx context.Context, conversationID, userID string, sequence int64, now time.Time) (bool, error)
}

// Store is the Durable Store consumed by the hub.
type Store interface {
	SessionStore
	ConversationStore
	MessageStore
	ReadStateStore

	HealthCheck(ctx context.Context) error
	Close() error
}

// SeedStore holds the write operations that belong to external collaborators.
// Only chatctl and tests use it.
type SeedStore interface {
	CreateSession(ctx context.Context, session *types.Session) error
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error
	CreateConversation(ctx context.Context, conversation *types.Conversation) error
}
