package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_KeyAndZero(t *testing.T) {
	assert.True(t, Identity{}.IsZero())

	a := Identity{UserID: "u1", SessionID: "s1"}
	b := Identity{UserID: "u1s", SessionID: "1"}
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a.Key(), b.Key(), "keys must not collide on concatenation")
}

func TestSession_IsLive(t *testing.T) {
	now := time.Now()
	revoked := now.Add(-time.Minute)

	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{"live", Session{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", Session{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", Session{ExpiresAt: now}, false},
		{"revoked", Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.session.IsLive(now))
		})
	}
}

func TestIsValidID(t *testing.T) {
	valid := []string{"a", "user_1", "65f1c0ffee0123456789abcd", "3f6c1a52-8a5e-4d0b-9c47-0c7f1e2b6d11", strings.Repeat("x", 64)}
	invalid := []string{"", "has space", "semi;colon", strings.Repeat("x", 65), "ünï"}

	for _, id := range valid {
		assert.True(t, IsValidID(id), id)
	}
	for _, id := range invalid {
		assert.False(t, IsValidID(id), id)
	}
}

func TestSendMessagePayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload SendMessagePayload
		wantErr error
	}{
		{"valid", SendMessagePayload{ConversationID: "c1", Content: "hi"}, nil},
		{"blank content", SendMessagePayload{ConversationID: "c1", Content: "   "}, ErrEmptyContent},
		{"oversized content", SendMessagePayload{ConversationID: "c1", Content: strings.Repeat("a", MaxContentBytes+1)}, ErrContentTooLarge},
		{"bad conversation id", SendMessagePayload{ConversationID: "", Content: "hi"}, ErrInvalidID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestReadPayload_Validate(t *testing.T) {
	assert.NoError(t, (&ReadPayload{ConversationID: "c1", LastReadSequence: 0}).Validate())
	assert.ErrorIs(t, (&ReadPayload{ConversationID: "c1", LastReadSequence: -1}).Validate(), ErrNegativeSequence)
	assert.ErrorIs(t, (&TypingPayload{}).Validate(), ErrInvalidID)
}

func TestRateLimitError(t *testing.T) {
	err := error(&RateLimitError{RetryAfter: 1500*time.Millisecond + time.Microsecond})

	assert.True(t, errors.Is(err, ErrRateLimited))

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, int64(1501), rl.RetryAfterMs(), "partial milliseconds round up")
	assert.Equal(t, int64(2000), (&RateLimitError{RetryAfter: 2 * time.Second}).RetryAfterMs())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "invalid_payload", ErrorCode(ErrEmptyContent))
	assert.Equal(t, "conversation_not_found", ErrorCode(ErrConversationNotFound))
	assert.Equal(t, "rate_limited", ErrorCode(&RateLimitError{}))
	assert.Equal(t, "unknown_event", ErrorCode(ErrUnknownEvent))
	assert.Equal(t, "store_unavailable", ErrorCode(errors.New("boom")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestMessage_WireShape(t *testing.T) {
	msg := Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Sequence:       7,
		Content:        "hi",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"id", "conversationId", "senderId", "sequence", "content", "createdAt"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "deletedAt")
}

func TestConversation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		conv    Conversation
		wantErr error
	}{
		{"dm", Conversation{ID: "c1", Type: ConversationTypeDM, ParticipantIDs: []string{"a", "b"}}, nil},
		{"group of one", Conversation{ID: "c1", Type: ConversationTypeGroup, ParticipantIDs: []string{"a"}}, nil},
		{"dm of three", Conversation{ID: "c1", Type: ConversationTypeDM, ParticipantIDs: []string{"a", "b", "c"}}, ErrInvalidParticipants},
		{"duplicate participant", Conversation{ID: "c1", Type: ConversationTypeGroup, ParticipantIDs: []string{"a", "a"}}, ErrInvalidParticipants},
		{"no participants", Conversation{ID: "c1", Type: ConversationTypeGroup}, ErrInvalidParticipants},
		{"unknown type", Conversation{ID: "c1", Type: "channel", ParticipantIDs: []string{"a"}}, ErrInvalidConversationType},
		{"bad id", Conversation{ID: "c 1", Type: ConversationTypeGroup, ParticipantIDs: []string{"a"}}, ErrInvalidID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.conv.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
