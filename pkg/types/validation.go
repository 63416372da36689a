package types

import (
	"regexp"
	"strings"
)

// MaxContentBytes bounds a single message body.
const MaxContentBytes = 64 * 1024

// Regex compiled once at package initialization
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidID checks identifiers used for users, sessions and conversations.
// uuid strings and 24-char hex object ids both pass.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// ValidateContent checks a message body before it reaches the sequencer.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Validate checks the message:send payload.
func (p *SendMessagePayload) Validate() error {
	if !IsValidID(p.ConversationID) {
		return ErrInvalidID
	}
	return ValidateContent(p.Content)
}

// Validate checks the conversation:read payload.
func (p *ReadPayload) Validate() error {
	if !IsValidID(p.ConversationID) {
		return ErrInvalidID
	}
	if p.LastReadSequence < 0 {
		return ErrNegativeSequence
	}
	return nil
}

// Validate checks the typing payloads.
func (p *TypingPayload) Validate() error {
	if !IsValidID(p.ConversationID) {
		return ErrInvalidID
	}
	return nil
}

// Validate checks a conversation before it is created. A dm has exactly two
// distinct participants; a group has at least one.
func (c *Conversation) Validate() error {
	if !IsValidID(c.ID) {
		return ErrInvalidID
	}
	switch c.Type {
	case ConversationTypeDM, ConversationTypeGroup:
	default:
		return ErrInvalidConversationType
	}

	seen := make(map[string]bool, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if !IsValidID(id) {
			return ErrInvalidID
		}
		seen[id] = true
	}
	if len(seen) != len(c.ParticipantIDs) || len(seen) == 0 {
		return ErrInvalidParticipants
	}
	if c.Type == ConversationTypeDM && len(seen) != 2 {
		return ErrInvalidParticipants
	}
	return nil
}
